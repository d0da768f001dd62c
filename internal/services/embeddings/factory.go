package embeddings

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/common"
	"github.com/ternarybob/mnemo/internal/interfaces"
)

// NewEmbeddingGenerator creates the embedding implementation selected by
// configuration.
func NewEmbeddingGenerator(config *common.Config, logger arbor.ILogger) (interfaces.EmbeddingGenerator, error) {
	logger.Info().
		Str("provider", config.Embeddings.Provider).
		Int("dimension", config.Embeddings.Dimension).
		Msg("Initializing embedding generator")

	switch config.Embeddings.Provider {
	case common.ProviderGemini:
		return NewGeminiService(config, logger)

	case common.ProviderMock:
		return NewMockService(config.Embeddings.Dimension, config.Embeddings.MaxBatchSize, config.Embeddings.MaxBatchTokens), nil

	default:
		return nil, fmt.Errorf("unsupported embeddings provider: %s", config.Embeddings.Provider)
	}
}
