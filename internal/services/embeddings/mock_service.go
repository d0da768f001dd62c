package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/models"
	"github.com/ternarybob/mnemo/internal/services/tokenizer"
)

// MockService produces deterministic embeddings without a provider key. Each
// word hashes into a vector bucket, so texts sharing vocabulary land close in
// cosine space. Good enough for tests and for running the whole service
// offline; useless for real semantic search.
type MockService struct {
	dimension      int
	maxBatchSize   int
	maxBatchTokens int
	counter        *tokenizer.Counter
}

var _ interfaces.EmbeddingGenerator = (*MockService)(nil)

func NewMockService(dimension, maxBatchSize, maxBatchTokens int) *MockService {
	if dimension <= 0 {
		dimension = 768
	}
	if maxBatchSize <= 0 {
		maxBatchSize = 16
	}
	return &MockService{
		dimension:      dimension,
		maxBatchSize:   maxBatchSize,
		maxBatchTokens: maxBatchTokens,
		counter:        tokenizer.New(),
	}
}

func (s *MockService) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, models.NewValidationError("text cannot be empty for embedding generation")
	}
	return s.embed(text), nil
}

func (s *MockService) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	for i, text := range texts {
		if text == "" {
			return nil, models.NewValidationError(fmt.Sprintf("text %d is empty", i))
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results[i] = s.embed(text)
	}
	return results, nil
}

func (s *MockService) embed(text string) []float32 {
	vector := make([]float32, s.dimension)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?\"'()[]{}")
		if word == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(word))
		sum := h.Sum32()
		bucket := int(sum) % s.dimension
		if bucket < 0 {
			bucket += s.dimension
		}
		// Alternate sign by a second hash bit so common words do not all
		// pile onto the positive axis
		if sum&0x80000000 != 0 {
			vector[bucket] -= 1
		} else {
			vector[bucket] += 1
		}
	}

	var magnitude float64
	for _, v := range vector {
		magnitude += float64(v) * float64(v)
	}
	if magnitude == 0 {
		// Text with no usable words still gets a stable non-zero vector
		vector[0] = 1
		return vector
	}
	magnitude = math.Sqrt(magnitude)
	for i := range vector {
		vector[i] = float32(float64(vector[i]) / magnitude)
	}
	return vector
}

func (s *MockService) CountTokens(text string) int {
	return s.counter.CountTokens(text)
}

func (s *MockService) MaxBatchSize() int {
	return s.maxBatchSize
}

func (s *MockService) MaxBatchTokens() int {
	return s.maxBatchTokens
}

func (s *MockService) ModelName() string {
	return "mock-embedding"
}

func (s *MockService) Dimension() int {
	return s.dimension
}
