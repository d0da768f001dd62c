package interfaces

import "context"

// EmbeddingGenerator turns text into fixed-dimension vectors.
type EmbeddingGenerator interface {
	// GenerateEmbedding embeds one text. Implementations apply their own
	// timeout and rate limiting.
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)

	// GenerateEmbeddings embeds a batch in one provider call where supported.
	// The result is index-aligned with the input.
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)

	// CountTokens estimates the token count used for batch budgeting.
	CountTokens(text string) int

	// Batch limits for the gen_embeddings grouping: max elements per call
	// and max summed tokens per call.
	MaxBatchSize() int
	MaxBatchTokens() int

	// Model information
	ModelName() string
	Dimension() int
}
