package handlers

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/models"
)

// DeleteIndexHandler drops an entire index: the vector index in every
// configured store and the whole index directory in the document store,
// status files included. The default index is refused.
type DeleteIndexHandler struct {
	documents    interfaces.DocumentStore
	stores       []interfaces.MemoryDb
	defaultIndex string
	logger       arbor.ILogger
}

var _ interfaces.StepHandler = (*DeleteIndexHandler)(nil)

// NewDeleteIndexHandler creates the delete_index step handler.
func NewDeleteIndexHandler(documents interfaces.DocumentStore, stores []interfaces.MemoryDb, defaultIndex string, logger arbor.ILogger) *DeleteIndexHandler {
	return &DeleteIndexHandler{
		documents:    documents,
		stores:       stores,
		defaultIndex: defaultIndex,
		logger:       logger,
	}
}

func (h *DeleteIndexHandler) StepName() string {
	return models.StepDeleteIndex
}

func (h *DeleteIndexHandler) Invoke(ctx context.Context, pipeline *models.DataPipeline) (models.StepOutcome, *models.DataPipeline, error) {
	if pipeline.Index == h.defaultIndex {
		err := models.NewValidationError(fmt.Sprintf("index %q is the default index and cannot be deleted", pipeline.Index))
		return models.OutcomeFatal, pipeline, err
	}

	for _, store := range h.stores {
		if err := store.DeleteIndex(ctx, pipeline.Index); err != nil && !models.IsIndexNotFound(err) {
			return outcomeForError(err), pipeline, err
		}
	}

	if err := h.documents.DeleteIndexDirectory(ctx, pipeline.Index); err != nil {
		return outcomeForError(err), pipeline, err
	}

	h.logger.Info().
		Str("index", pipeline.Index).
		Msg("Index deleted")

	return models.OutcomeComplete, pipeline, nil
}
