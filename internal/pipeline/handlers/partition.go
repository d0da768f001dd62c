package handlers

import (
	"context"
	"sort"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/common"
	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/models"
	"github.com/ternarybob/mnemo/internal/services/tokenizer"
)

// PartitionHandler splits every extracted_content artifact into
// text_partition artifacts sized for the embedding step. Partition numbers
// run per input file across its sections; section numbers are inherited from
// the extracted artifact.
type PartitionHandler struct {
	orchestrator interfaces.Orchestrator
	counter      *tokenizer.Counter
	options      ChunkOptions
	logger       arbor.ILogger
}

var _ interfaces.StepHandler = (*PartitionHandler)(nil)

// NewPartitionHandler creates the partition step handler.
func NewPartitionHandler(orchestrator interfaces.Orchestrator, counter *tokenizer.Counter, options ChunkOptions, logger arbor.ILogger) *PartitionHandler {
	return &PartitionHandler{
		orchestrator: orchestrator,
		counter:      counter,
		options:      options,
		logger:       logger,
	}
}

func (h *PartitionHandler) StepName() string {
	return models.StepPartition
}

func (h *PartitionHandler) Invoke(ctx context.Context, pipeline *models.DataPipeline) (models.StepOutcome, *models.DataPipeline, error) {
	for _, file := range pipeline.Files {
		extracts := extractedArtifacts(file)
		if len(extracts) == 0 {
			continue
		}

		// Chunking is deterministic, so re-running after a crash rewrites the
		// same partition names with the same content.
		next := nextPartitionNumber(file)
		created := 0

		for _, artifact := range extracts {
			if artifact.WasProcessedBy(models.StepPartition) {
				continue
			}

			text, err := h.orchestrator.ReadTextFile(ctx, pipeline, artifact.Name)
			if err != nil {
				return outcomeForError(err), pipeline, err
			}

			for _, chunk := range SplitText(text, h.counter, h.options) {
				name := partitionArtifactName(file.ID, next)
				if err := h.orchestrator.WriteTextFile(ctx, pipeline, name, chunk); err != nil {
					return outcomeForError(err), pipeline, err
				}
				file.AddGeneratedFile(&models.GeneratedFileDetails{
					FileDetailsBase: models.FileDetailsBase{
						ID:              common.NewFileID(),
						Name:            name,
						Size:            int64(len(chunk)),
						MimeType:        models.MimePlainText,
						ArtifactType:    models.ArtifactTextPartition,
						PartitionNumber: next,
						SectionNumber:   artifact.SectionNumber,
					},
					ParentID: file.ID,
				})
				next++
				created++
			}
			artifact.MarkProcessedBy(models.StepPartition)
		}

		if created > 0 {
			h.logger.Info().
				Str("document_id", pipeline.DocumentID).
				Str("file", file.Name).
				Int("partitions", created).
				Msg("Content partitioned")
		}
	}

	return models.OutcomeComplete, pipeline, nil
}

// extractedArtifacts returns the file's extracted_content artifacts in
// section order so partition numbers are assigned deterministically.
func extractedArtifacts(file *models.FileDetails) []*models.GeneratedFileDetails {
	var extracts []*models.GeneratedFileDetails
	for _, artifact := range file.SortedGeneratedFiles() {
		if artifact.ArtifactType == models.ArtifactExtractedContent {
			extracts = append(extracts, artifact)
		}
	}
	sort.SliceStable(extracts, func(i, j int) bool {
		return extracts[i].SectionNumber < extracts[j].SectionNumber
	})
	return extracts
}

func nextPartitionNumber(file *models.FileDetails) int {
	next := 0
	for _, artifact := range file.GeneratedFiles {
		if artifact.ArtifactType == models.ArtifactTextPartition && artifact.PartitionNumber >= next {
			next = artifact.PartitionNumber + 1
		}
	}
	return next
}
