package interfaces

import (
	"context"

	"github.com/ternarybob/mnemo/internal/models"
)

// SearchOptions bound one retrieval call. Zero values select the configured
// defaults.
type SearchOptions struct {
	Limit        int
	MinRelevance float64
	Filters      []*models.MemoryFilter
}

// SearchEngine answers queries over the memory: similarity search with
// citations and grounded question answering.
type SearchEngine interface {
	// Search returns matching partitions grouped by document.
	Search(ctx context.Context, index, query string, opts SearchOptions) (*models.SearchResult, error)

	// Ask retrieves, then generates a grounded answer with citations.
	Ask(ctx context.Context, index, question string, opts SearchOptions) (*models.MemoryAnswer, error)

	// AskStream emits the answer incrementally: first the question, then
	// append fragments, finally the full source list.
	AskStream(ctx context.Context, index, question string, opts SearchOptions) (<-chan *models.MemoryAnswer, error)
}
