// Package handlers contains the built-in pipeline step handlers: text
// extraction, partitioning, embedding generation, record persistence,
// summarization and the two deletion steps. Handlers are registered with the
// orchestrator under their step name and must stay idempotent: a step can be
// redelivered after a crash and has to converge to the same artifacts.
package handlers

import (
	"errors"
	"fmt"

	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/models"
)

// EmbeddingTarget binds one embedding generator to the vector stores its
// records are written to. gen_embeddings produces one embedding artifact per
// target generator, save_records routes each artifact to the stores of the
// generator that produced it.
type EmbeddingTarget struct {
	Provider  string
	Generator interfaces.EmbeddingGenerator
	Stores    []interfaces.MemoryDb
}

// Artifact names are derived from the input file id and the producing step,
// so re-running a step overwrites its own output instead of duplicating it.

func extractArtifactName(fileID string, section int) string {
	if section <= 0 {
		return fileID + ".extract.txt"
	}
	return fmt.Sprintf("%s.extract.%d.txt", fileID, section)
}

func partitionArtifactName(fileID string, partition int) string {
	return fmt.Sprintf("%s.partition.%d.txt", fileID, partition)
}

func embeddingArtifactName(partitionName, modelName string) string {
	return fmt.Sprintf("%s.%s.embedding.json", partitionName, modelName)
}

func summaryArtifactName(fileID string) string {
	return fileID + ".summarize.txt"
}

// embeddable reports whether an artifact type is fed to the embedding step.
// Summaries and synthetic data are embedded like ordinary partitions.
func embeddable(t models.ArtifactType) bool {
	switch t {
	case models.ArtifactTextPartition, models.ArtifactSyntheticData, models.ArtifactTextSummary:
		return true
	}
	return false
}

// outcomeForError maps a handler failure onto the retry contract: validation
// mistakes and fatal errors stop the pipeline, missing blobs mean the stored
// state is gone for good, everything else is worth a retry.
func outcomeForError(err error) models.StepOutcome {
	switch {
	case err == nil:
		return models.OutcomeComplete
	case models.IsValidation(err), models.IsDimensionMismatch(err), models.IsFatal(err):
		return models.OutcomeFatal
	case errors.Is(err, models.ErrNotFound):
		return models.OutcomeFatal
	default:
		return models.OutcomeTransientError
	}
}
