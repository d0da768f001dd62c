package handlers

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/models"
)

// DeleteDocumentHandler removes a document's records from every configured
// vector store and empties its directory in the document store. The status
// file survives so deletion stays reportable.
type DeleteDocumentHandler struct {
	documents interfaces.DocumentStore
	stores    []interfaces.MemoryDb
	logger    arbor.ILogger
}

var _ interfaces.StepHandler = (*DeleteDocumentHandler)(nil)

// NewDeleteDocumentHandler creates the delete_document step handler.
func NewDeleteDocumentHandler(documents interfaces.DocumentStore, stores []interfaces.MemoryDb, logger arbor.ILogger) *DeleteDocumentHandler {
	return &DeleteDocumentHandler{
		documents: documents,
		stores:    stores,
		logger:    logger,
	}
}

func (h *DeleteDocumentHandler) StepName() string {
	return models.StepDeleteDocument
}

func (h *DeleteDocumentHandler) Invoke(ctx context.Context, pipeline *models.DataPipeline) (models.StepOutcome, *models.DataPipeline, error) {
	filters := []*models.MemoryFilter{models.NewMemoryFilter().ByDocument(pipeline.DocumentID)}
	removed := 0

	for _, store := range h.stores {
		records, err := store.GetList(ctx, pipeline.Index, filters, 0, false)
		if err != nil {
			if models.IsIndexNotFound(err) {
				continue
			}
			return outcomeForError(err), pipeline, err
		}
		for _, record := range records {
			if err := store.Delete(ctx, pipeline.Index, record); err != nil {
				return outcomeForError(err), pipeline, err
			}
			removed++
		}
	}

	if err := h.documents.EmptyDocumentDirectory(ctx, pipeline.Index, pipeline.DocumentID); err != nil {
		return outcomeForError(err), pipeline, err
	}

	h.logger.Info().
		Str("index", pipeline.Index).
		Str("document_id", pipeline.DocumentID).
		Int("records", removed).
		Msg("Document deleted")

	return models.OutcomeComplete, pipeline, nil
}
