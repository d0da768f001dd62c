package llm

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/common"
	"github.com/ternarybob/mnemo/internal/interfaces"
)

// NewTextGenerator creates the text generation implementation selected by
// configuration.
func NewTextGenerator(config *common.Config, logger arbor.ILogger) (interfaces.TextGenerator, error) {
	logger.Info().
		Str("provider", config.TextGen.Provider).
		Str("model", config.TextGen.Model).
		Msg("Initializing text generator")

	switch config.TextGen.Provider {
	case common.ProviderClaude:
		return NewClaudeService(config, logger)

	case common.ProviderGemini:
		return NewGeminiService(config, logger)

	case common.ProviderMock:
		return NewMockService(config.TextGen.MaxTokens), nil

	default:
		return nil, fmt.Errorf("unsupported textgen provider: %s", config.TextGen.Provider)
	}
}
