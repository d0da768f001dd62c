package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/common"
	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/models"
)

// GenerateEmbeddingsHandler embeds every text_partition (and synthetic or
// summary) artifact with each configured generator, storing the vector as a
// text_embedding_vector artifact next to its source partition. A partition
// is marked per generator, so adding a second embedder later only does the
// missing work.
type GenerateEmbeddingsHandler struct {
	orchestrator interfaces.Orchestrator
	targets      []EmbeddingTarget
	logger       arbor.ILogger
}

var _ interfaces.StepHandler = (*GenerateEmbeddingsHandler)(nil)

// NewGenerateEmbeddingsHandler creates the gen_embeddings step handler.
func NewGenerateEmbeddingsHandler(orchestrator interfaces.Orchestrator, targets []EmbeddingTarget, logger arbor.ILogger) *GenerateEmbeddingsHandler {
	return &GenerateEmbeddingsHandler{
		orchestrator: orchestrator,
		targets:      targets,
		logger:       logger,
	}
}

func (h *GenerateEmbeddingsHandler) StepName() string {
	return models.StepGenEmbeddings
}

// pendingEmbedding is one artifact waiting for a vector from one generator.
type pendingEmbedding struct {
	file     *models.FileDetails
	artifact *models.GeneratedFileDetails
	text     string
}

func (h *GenerateEmbeddingsHandler) Invoke(ctx context.Context, pipeline *models.DataPipeline) (models.StepOutcome, *models.DataPipeline, error) {
	for _, target := range h.targets {
		generator := target.Generator
		qualifier := models.StepGenEmbeddings + "/" + generator.ModelName()

		pending, err := h.collectPending(ctx, pipeline, qualifier)
		if err != nil {
			return outcomeForError(err), pipeline, err
		}
		if len(pending) == 0 {
			continue
		}

		// The generator groups the batch internally under its own size and
		// token limits, so one call covers all pending partitions.
		texts := make([]string, len(pending))
		for i, p := range pending {
			texts[i] = p.text
		}
		vectors, err := generator.GenerateEmbeddings(ctx, texts)
		if err != nil {
			return outcomeForError(err), pipeline, err
		}
		if len(vectors) != len(pending) {
			err := models.Fatal(fmt.Errorf("generator %s returned %d vectors for %d texts",
				generator.ModelName(), len(vectors), len(pending)))
			return models.OutcomeFatal, pipeline, err
		}

		for i, p := range pending {
			if err := h.storeEmbedding(ctx, pipeline, target, p, vectors[i]); err != nil {
				return outcomeForError(err), pipeline, err
			}
			p.artifact.MarkProcessedBy(qualifier)
		}

		h.logger.Info().
			Str("document_id", pipeline.DocumentID).
			Str("model", generator.ModelName()).
			Int("embeddings", len(pending)).
			Msg("Embeddings generated")
	}

	return models.OutcomeComplete, pipeline, nil
}

// collectPending gathers the artifacts one generator still has to embed.
// Empty partitions are marked done without an embedding.
func (h *GenerateEmbeddingsHandler) collectPending(ctx context.Context, pipeline *models.DataPipeline, qualifier string) ([]pendingEmbedding, error) {
	var pending []pendingEmbedding
	for _, file := range pipeline.Files {
		for _, artifact := range file.SortedGeneratedFiles() {
			if !embeddable(artifact.ArtifactType) || artifact.WasProcessedBy(qualifier) {
				continue
			}
			text, err := h.orchestrator.ReadTextFile(ctx, pipeline, artifact.Name)
			if err != nil {
				return nil, err
			}
			if strings.TrimSpace(text) == "" {
				h.logger.Debug().
					Str("document_id", pipeline.DocumentID).
					Str("artifact", artifact.Name).
					Msg("Skipping empty partition")
				artifact.MarkProcessedBy(qualifier)
				continue
			}
			pending = append(pending, pendingEmbedding{file: file, artifact: artifact, text: text})
		}
	}
	return pending, nil
}

func (h *GenerateEmbeddingsHandler) storeEmbedding(ctx context.Context, pipeline *models.DataPipeline, target EmbeddingTarget, p pendingEmbedding, vector []float32) error {
	name := embeddingArtifactName(p.artifact.Name, target.Generator.ModelName())
	content := models.EmbeddingFileContent{
		GeneratorName:     target.Generator.ModelName(),
		GeneratorProvider: target.Provider,
		VectorSize:        len(vector),
		SourceFileName:    p.artifact.Name,
		Vector:            vector,
		TimeStamp:         time.Now().UTC(),
	}
	data, err := json.Marshal(content)
	if err != nil {
		return models.Fatal(fmt.Errorf("marshal embedding for %s: %w", p.artifact.Name, err))
	}
	if err := h.orchestrator.WriteFile(ctx, pipeline, name, data); err != nil {
		return err
	}
	p.file.AddGeneratedFile(&models.GeneratedFileDetails{
		FileDetailsBase: models.FileDetailsBase{
			ID:              common.NewFileID(),
			Name:            name,
			Size:            int64(len(data)),
			MimeType:        models.MimeJSON,
			ArtifactType:    models.ArtifactEmbeddingVector,
			PartitionNumber: p.artifact.PartitionNumber,
			SectionNumber:   p.artifact.SectionNumber,
		},
		ParentID:          p.file.ID,
		SourcePartitionID: p.artifact.ID,
	})
	return nil
}
