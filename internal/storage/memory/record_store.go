package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/models"
)

type memoryIndex struct {
	dimension int
	records   map[string]*models.MemoryRecord
}

// RecordStore is the volatile vector store. Brute-force cosine scans are
// plenty at the scale tests and the mock profile run at.
type RecordStore struct {
	mu      sync.RWMutex
	indexes map[string]*memoryIndex
}

var _ interfaces.MemoryDb = (*RecordStore)(nil)

func NewRecordStore() *RecordStore {
	return &RecordStore{indexes: map[string]*memoryIndex{}}
}

func (s *RecordStore) CreateIndex(ctx context.Context, index string, vectorSize int) error {
	if vectorSize <= 0 {
		return models.NewValidationError(fmt.Sprintf("vector size must be positive, got %d", vectorSize))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.indexes[index]
	if ok {
		if existing.dimension != vectorSize {
			return &models.DimensionMismatchError{Index: index, Expected: existing.dimension, Actual: vectorSize}
		}
		return nil
	}
	s.indexes[index] = &memoryIndex{dimension: vectorSize, records: map[string]*models.MemoryRecord{}}
	return nil
}

func (s *RecordStore) ListIndexes(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.indexes))
	for name := range s.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *RecordStore) DeleteIndex(ctx context.Context, index string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.indexes, index)
	return nil
}

func (s *RecordStore) Upsert(ctx context.Context, index string, record *models.MemoryRecord) (string, error) {
	if record == nil || record.ID == "" {
		return "", models.NewValidationError("record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indexes[index]
	if !ok {
		return "", fmt.Errorf("index %s: %w", index, models.ErrIndexNotFound)
	}
	if len(record.Vector) != idx.dimension {
		return "", &models.DimensionMismatchError{Index: index, Expected: idx.dimension, Actual: len(record.Vector)}
	}
	idx.records[record.ID] = record.Copy()
	return record.ID, nil
}

func (s *RecordStore) Delete(ctx context.Context, index string, record *models.MemoryRecord) error {
	if record == nil || record.ID == "" {
		return models.NewValidationError("record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indexes[index]
	if !ok {
		return fmt.Errorf("index %s: %w", index, models.ErrIndexNotFound)
	}
	delete(idx.records, record.ID)
	return nil
}

func (s *RecordStore) GetSimilarList(ctx context.Context, index string, embedding []float32, limit int, minRelevance float64, filters []*models.MemoryFilter, withEmbeddings bool) ([]interfaces.ScoredRecord, error) {
	if err := models.ValidateFilters(filters); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indexes[index]
	if !ok {
		return nil, fmt.Errorf("index %s: %w", index, models.ErrIndexNotFound)
	}
	if len(embedding) != idx.dimension {
		return nil, &models.DimensionMismatchError{Index: index, Expected: idx.dimension, Actual: len(embedding)}
	}
	if limit <= 0 {
		limit = 1
	}

	var scored []interfaces.ScoredRecord
	for _, record := range idx.records {
		if !models.FilterListMatches(filters, record.Tags) {
			continue
		}
		similarity, ok := models.CosineSimilarity(embedding, record.Vector)
		if !ok || similarity < minRelevance {
			continue
		}
		scored = append(scored, interfaces.ScoredRecord{
			Record: record.Copy(),
			Score:  similarity,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	if !withEmbeddings {
		for i := range scored {
			scored[i].Record.Vector = nil
		}
	}
	return scored, nil
}

func (s *RecordStore) GetList(ctx context.Context, index string, filters []*models.MemoryFilter, limit int, withEmbeddings bool) ([]*models.MemoryRecord, error) {
	if err := models.ValidateFilters(filters); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indexes[index]
	if !ok {
		return nil, fmt.Errorf("index %s: %w", index, models.ErrIndexNotFound)
	}

	ids := make([]string, 0, len(idx.records))
	for id := range idx.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var results []*models.MemoryRecord
	for _, id := range ids {
		record := idx.records[id]
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
