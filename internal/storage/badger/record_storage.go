package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// IndexMeta records one vector index and the dimension it was created with.
type IndexMeta struct {
	Name      string `badgerhold:"key"`
	Dimension int
	CreatedAt time.Time
}

// StoredRecord is the badgerhold row for a memory record. The key prefixes
// the index name so record ids only need to be unique within their index.
type StoredRecord struct {
	Key    string `badgerhold:"key"` // "{index}/{recordID}"
	Index  string `badgerhold:"index"`
	Record models.MemoryRecord
}

// RecordStorage implements the MemoryDb interface on badgerhold. Similarity
// queries scan the index and rank by cosine similarity; at the document
// volumes a single node serves, the scan beats maintaining an ANN structure.
type RecordStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

var _ interfaces.MemoryDb = (*RecordStorage)(nil)

// NewRecordStorage creates a new RecordStorage instance
func NewRecordStorage(db *BadgerDB, logger arbor.ILogger) *RecordStorage {
	return &RecordStorage{
		db:     db,
		logger: logger,
	}
}

// CreateIndex registers an index. Recreating with the same dimension is a
// no-op; a different dimension is a hard error.
func (s *RecordStorage) CreateIndex(ctx context.Context, index string, vectorSize int) error {
	if vectorSize <= 0 {
		return models.NewValidationError(fmt.Sprintf("vector size must be positive, got %d", vectorSize))
	}

	var meta IndexMeta
	err := s.db.Store().Get(index, &meta)
	if err == nil {
		if meta.Dimension != vectorSize {
			return &models.DimensionMismatchError{Index: index, Expected: meta.Dimension, Actual: vectorSize}
		}
		return nil
	}
	if err != badgerhold.ErrNotFound {
		return models.Transient(fmt.Errorf("failed to read index metadata: %w", err))
	}

	meta = IndexMeta{Name: index, Dimension: vectorSize, CreatedAt: time.Now().UTC()}
	if err := s.db.Store().Insert(index, meta); err != nil {
		if err == badgerhold.ErrKeyExists {
			// Lost a race with another creator; accept if dimensions agree
			return s.CreateIndex(ctx, index, vectorSize)
		}
		return models.Transient(fmt.Errorf("failed to create index %s: %w", index, err))
	}

	s.logger.Info().Str("index", index).Int("dimension", vectorSize).Msg("Index created")
	return nil
}

// ListIndexes returns the known index names sorted.
func (s *RecordStorage) ListIndexes(ctx context.Context) ([]string, error) {
	var metas []IndexMeta
	if err := s.db.Store().Find(&metas, nil); err != nil {
		return nil, models.Transient(fmt.Errorf("failed to list indexes: %w", err))
	}
	names := make([]string, 0, len(metas))
	for _, meta := range metas {
		names = append(names, meta.Name)
	}
	sort.Strings(names)
	return names, nil
}

// DeleteIndex removes the index metadata and every record in it. Deleting an
// unknown index is a no-op.
func (s *RecordStorage) DeleteIndex(ctx context.Context, index string) error {
	if err := s.db.Store().DeleteMatching(&StoredRecord{}, badgerhold.Where("Index").Eq(index)); err != nil {
		return models.Transient(fmt.Errorf("failed to delete records of index %s: %w", index, err))
	}
	if err := s.db.Store().Delete(index, &IndexMeta{}); err != nil && err != badgerhold.ErrNotFound {
		return models.Transient(fmt.Errorf("failed to delete index %s: %w", index, err))
	}
	s.logger.Info().Str("index", index).Msg("Index deleted")
	return nil
}

// Upsert writes a record, replacing any previous version with the same id.
func (s *RecordStorage) Upsert(ctx context.Context, index string, record *models.MemoryRecord) (string, error) {
	if record == nil || record.ID == "" {
		return "", models.NewValidationError("record id is required")
	}

	meta, err := s.indexMeta(index)
	if err != nil {
		return "", err
	}
	if len(record.Vector) != meta.Dimension {
		return "", &models.DimensionMismatchError{Index: index, Expected: meta.Dimension, Actual: len(record.Vector)}
	}

	row := StoredRecord{
		Key:    recordKey(index, record.ID),
		Index:  index,
		Record: *record.Copy(),
	}
	if err := s.db.Store().Upsert(row.Key, row); err != nil {
		return "", models.Transient(fmt.Errorf("failed to upsert record: %w", err))
	}
	return record.ID, nil
}

// Delete removes a record. Unknown record ids are a no-op.
func (s *RecordStorage) Delete(ctx context.Context, index string, record *models.MemoryRecord) error {
	if record == nil || record.ID == "" {
		return models.NewValidationError("record id is required")
	}
	if _, err := s.indexMeta(index); err != nil {
		return err
	}
	if err := s.db.Store().Delete(recordKey(index, record.ID), &StoredRecord{}); err != nil && err != badgerhold.ErrNotFound {
		return models.Transient(fmt.Errorf("failed to delete record: %w", err))
	}
	return nil
}

// GetSimilarList ranks the index's records against the embedding and returns
// those at or above minRelevance, best first, at most limit entries.
func (s *RecordStorage) GetSimilarList(ctx context.Context, index string, embedding []float32, limit int, minRelevance float64, filters []*models.MemoryFilter, withEmbeddings bool) ([]interfaces.ScoredRecord, error) {
	if err := models.ValidateFilters(filters); err != nil {
		return nil, err
	}
	meta, err := s.indexMeta(index)
	if err != nil {
		return nil, err
	}
	if len(embedding) != meta.Dimension {
		return nil, &models.DimensionMismatchError{Index: index, Expected: meta.Dimension, Actual: len(embedding)}
	}
	if limit <= 0 {
		limit = 1
	}

	rows, err := s.indexRows(index)
	if err != nil {
		return nil, err
	}

	var scored []interfaces.ScoredRecord
	for i := range rows {
		record := &rows[i].Record
		if !models.FilterListMatches(filters, record.Tags) {
			continue
		}
		similarity, ok := models.CosineSimilarity(embedding, record.Vector)
		if !ok || similarity < minRelevance {
			continue
		}
		clone := record.Copy()
		if !withEmbeddings {
			clone.Vector = nil
		}
		scored = append(scored, interfaces.ScoredRecord{Record: clone, Score: similarity})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// GetList returns up to limit records matching the filters, in key order.
func (s *RecordStorage) GetList(ctx context.Context, index string, filters []*models.MemoryFilter, limit int, withEmbeddings bool) ([]*models.MemoryRecord, error) {
	if err := models.ValidateFilters(filters); err != nil {
		return nil, err
	}
	if _, err := s.indexMeta(index); err != nil {
		return nil, err
	}

	rows, err := s.indexRows(index)
	if err != nil {
		return nil, err
	}

	var results []*models.MemoryRecord
	for i := range rows {
		record := &rows[i].Record
		if !models.FilterListMatches(filters, record.Tags) {
			continue
		}
		clone := record.Copy()
		if !withEmbeddings {
			clone.Vector = nil
		}
		results = append(results, clone)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

func (s *RecordStorage) indexMeta(index string) (*IndexMeta, error) {
	var meta IndexMeta
	if err := s.db.Store().Get(index, &meta); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("index %s: %w", index, models.ErrIndexNotFound)
		}
		return nil, models.Transient(fmt.Errorf("failed to read index metadata: %w", err))
	}
	return &meta, nil
}

func (s *RecordStorage) indexRows(index string) ([]StoredRecord, error) {
	var rows []StoredRecord
	if err := s.db.Store().Find(&rows, badgerhold.Where("Index").Eq(index)); err != nil {
		return nil, models.Transient(fmt.Errorf("failed to scan index %s: %w", index, err))
	}
	return rows, nil
}

func recordKey(index, recordID string) string {
	return index + "/" + recordID
}
