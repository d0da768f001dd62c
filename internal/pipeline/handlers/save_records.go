package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/models"
)

// SaveRecordsHandler turns embedding artifacts into memory records and
// upserts them into the vector stores configured for the generator that
// produced each vector. Record ids derive from the partition key, so
// re-ingesting a document replaces its records; whatever the new revision no
// longer produces is swept afterwards.
type SaveRecordsHandler struct {
	orchestrator interfaces.Orchestrator
	targets      []EmbeddingTarget
	logger       arbor.ILogger
}

var _ interfaces.StepHandler = (*SaveRecordsHandler)(nil)

// NewSaveRecordsHandler creates the save_records step handler.
func NewSaveRecordsHandler(orchestrator interfaces.Orchestrator, targets []EmbeddingTarget, logger arbor.ILogger) *SaveRecordsHandler {
	return &SaveRecordsHandler{
		orchestrator: orchestrator,
		targets:      targets,
		logger:       logger,
	}
}

func (h *SaveRecordsHandler) StepName() string {
	return models.StepSaveRecords
}

// storeState tracks one vector store across the whole invocation: whether the
// index was ensured and which record ids this revision of the document owns.
type storeState struct {
	store   interfaces.MemoryDb
	created bool
	ids     map[string]bool
}

func (h *SaveRecordsHandler) Invoke(ctx context.Context, pipeline *models.DataPipeline) (models.StepOutcome, *models.DataPipeline, error) {
	states := h.storeStates()
	urls := map[string]string{}
	saved := 0

	for _, file := range pipeline.Files {
		for _, artifact := range file.SortedGeneratedFiles() {
			if artifact.ArtifactType != models.ArtifactEmbeddingVector {
				continue
			}

			content, err := h.readEmbedding(ctx, pipeline, artifact.Name)
			if err != nil {
				return outcomeForError(err), pipeline, err
			}

			stores := h.storesFor(content.GeneratorName)
			if len(stores) == 0 {
				h.logger.Warn().
					Str("document_id", pipeline.DocumentID).
					Str("artifact", artifact.Name).
					Str("model", content.GeneratorName).
					Msg("No vector store configured for generator, skipping")
				continue
			}

			record, err := h.buildRecord(ctx, pipeline, file, content, urls)
			if err != nil {
				return outcomeForError(err), pipeline, err
			}

			for _, state := range states {
				if !containsStore(stores, state.store) {
					continue
				}
				if !state.created {
					if err := state.store.CreateIndex(ctx, pipeline.Index, len(record.Vector)); err != nil {
						return outcomeForError(err), pipeline, err
					}
					state.created = true
				}
				if _, err := state.store.Upsert(ctx, pipeline.Index, record); err != nil {
					return outcomeForError(err), pipeline, err
				}
				state.ids[record.ID] = true
			}
			saved++
		}
	}

	// Sweep records from earlier revisions of this document. Runs even when
	// nothing was saved: re-ingesting with empty content must leave nothing
	// behind.
	for _, state := range states {
		if err := h.sweepStale(ctx, pipeline, state); err != nil {
			return outcomeForError(err), pipeline, err
		}
	}

	h.logger.Info().
		Str("index", pipeline.Index).
		Str("document_id", pipeline.DocumentID).
		Int("records", saved).
		Msg("Memory records saved")

	return models.OutcomeComplete, pipeline, nil
}

// buildRecord assembles the memory record for one embedding artifact:
// reserved tags locating the source, user tags, and the payload search
// returns to the caller.
func (h *SaveRecordsHandler) buildRecord(ctx context.Context, pipeline *models.DataPipeline, file *models.FileDetails, content *models.EmbeddingFileContent, urls map[string]string) (*models.MemoryRecord, error) {
	text, err := h.orchestrator.ReadTextFile(ctx, pipeline, content.SourceFileName)
	if err != nil {
		return nil, err
	}

	id := models.NewRecordID(pipeline.DocumentID, file.ID, content.SourceFileName)
	record := models.NewMemoryRecord(id, content.Vector, pipeline.DocumentID, file.ID, content.SourceFileName)

	partition, section := 0, 0
	var sourceType models.ArtifactType
	if source := file.GeneratedFiles[content.SourceFileName]; source != nil {
		partition = source.PartitionNumber
		section = source.SectionNumber
		sourceType = source.ArtifactType
		source.Tags.CopyInto(record.Tags)
	}
	pipeline.Tags.CopyInto(record.Tags)

	record.Tags.Set(models.TagPartitionN, strconv.Itoa(partition))
	record.Tags.Set(models.TagSectionN, strconv.Itoa(section))
	record.Tags.Set(models.TagFileType, file.MimeType)
	if sourceType == models.ArtifactTextSummary {
		record.Tags.Set(models.TagSynthetic, models.SyntheticSummary)
	}

	record.Payload[models.PayloadText] = text
	record.Payload[models.PayloadFile] = file.Name
	record.Payload[models.PayloadLastUpdate] = time.Now().UTC().Format(time.RFC3339)
	if file.MimeType == models.MimeWebPageURL {
		if url := h.sourceURL(ctx, pipeline, file, urls); url != "" {
			record.Payload[models.PayloadURL] = url
		}
	}
	return record, nil
}

// sweepStale removes this document's records that the current revision did
// not produce.
func (h *SaveRecordsHandler) sweepStale(ctx context.Context, pipeline *models.DataPipeline, state *storeState) error {
	filters := []*models.MemoryFilter{models.NewMemoryFilter().ByDocument(pipeline.DocumentID)}
	existing, err := state.store.GetList(ctx, pipeline.Index, filters, 0, false)
	if err != nil {
		if models.IsIndexNotFound(err) {
			return nil
		}
		return err
	}
	removed := 0
	for _, record := range existing {
		if state.ids[record.ID] {
			continue
		}
		if err := state.store.Delete(ctx, pipeline.Index, record); err != nil {
			return err
		}
		removed++
	}
	if removed > 0 {
		h.logger.Info().
			Str("index", pipeline.Index).
			Str("document_id", pipeline.DocumentID).
			Int("records", removed).
			Msg("Stale memory records removed")
	}
	return nil
}

func (h *SaveRecordsHandler) readEmbedding(ctx context.Context, pipeline *models.DataPipeline, name string) (*models.EmbeddingFileContent, error) {
	data, err := h.orchestrator.ReadFile(ctx, pipeline, name)
	if err != nil {
		return nil, err
	}
	var content models.EmbeddingFileContent
	if err := json.Unmarshal(data, &content); err != nil {
		return nil, models.Fatal(fmt.Errorf("corrupt embedding file %s: %w", name, err))
	}
	return &content, nil
}

// sourceURL returns the URL a content.url file was ingested from, cached per
// invocation.
func (h *SaveRecordsHandler) sourceURL(ctx context.Context, pipeline *models.DataPipeline, file *models.FileDetails, urls map[string]string) string {
	if url, ok := urls[file.ID]; ok {
		return url
	}
	url := ""
	if body, err := h.orchestrator.ReadFile(ctx, pipeline, file.Name); err == nil {
		url = strings.TrimSpace(string(body))
	}
	urls[file.ID] = url
	return url
}

// storeStates returns one state per distinct store across all targets.
func (h *SaveRecordsHandler) storeStates() []*storeState {
	var states []*storeState
	for _, target := range h.targets {
		for _, store := range target.Stores {
			if stateForStore(states, store) == nil {
				states = append(states, &storeState{store: store, ids: map[string]bool{}})
			}
		}
	}
	return states
}

func (h *SaveRecordsHandler) storesFor(generatorName string) []interfaces.MemoryDb {
	for _, target := range h.targets {
		if target.Generator.ModelName() == generatorName {
			return target.Stores
		}
	}
	return nil
}

func stateForStore(states []*storeState, store interfaces.MemoryDb) *storeState {
	for _, state := range states {
		if state.store == store {
			return state
		}
	}
	return nil
}

func containsStore(stores []interfaces.MemoryDb, store interfaces.MemoryDb) bool {
	for _, s := range stores {
		if s == store {
			return true
		}
	}
	return false
}
