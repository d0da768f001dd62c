package interfaces

import (
	"context"

	"github.com/ternarybob/mnemo/internal/models"
)

// ScoredRecord pairs a record with its cosine similarity to the query.
type ScoredRecord struct {
	Record *models.MemoryRecord
	Score  float64
}

// MemoryDb is a pluggable vector index. Scores are always cosine similarity
// in [-1, 1]; backends using other metrics convert before yielding.
type MemoryDb interface {
	// Index management
	// CreateIndex is idempotent: a second call with the same vector size is a
	// no-op, a different size fails with a dimension mismatch.
	CreateIndex(ctx context.Context, index string, vectorSize int) error
	ListIndexes(ctx context.Context) ([]string, error)
	DeleteIndex(ctx context.Context, index string) error

	// Record operations
	Upsert(ctx context.Context, index string, record *models.MemoryRecord) (string, error)
	Delete(ctx context.Context, index string, record *models.MemoryRecord) error

	// GetSimilarList returns records scoring >= minRelevance against the
	// embedding, filtered, in descending score order, at most limit entries.
	GetSimilarList(ctx context.Context, index string, embedding []float32, limit int, minRelevance float64, filters []*models.MemoryFilter, withEmbeddings bool) ([]ScoredRecord, error)

	// GetList returns up to limit records matching the filters, unordered.
	GetList(ctx context.Context, index string, filters []*models.MemoryFilter, limit int, withEmbeddings bool) ([]*models.MemoryRecord, error)
}
