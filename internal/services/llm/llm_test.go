package llm

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/common"
	"github.com/ternarybob/mnemo/internal/models"
)

func TestMockServiceStreamsResponse(t *testing.T) {
	service := NewMockService(256)
	service.SetResponse("one two three")

	tokens, err := service.GenerateText(context.Background(), "any prompt", 0)
	require.NoError(t, err)

	var parts []string
	for token := range tokens {
		require.NoError(t, token.Err)
		parts = append(parts, token.Text)
	}

	assert.Equal(t, "one two three", strings.Join(parts, ""))
	assert.Greater(t, len(parts), 1, "response should arrive in multiple fragments")
}

func TestMockServiceRejectsEmptyPrompt(t *testing.T) {
	service := NewMockService(256)

	_, err := service.GenerateText(context.Background(), "", 0)
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))
}

func TestMockServiceStopsOnCancel(t *testing.T) {
	service := NewMockService(256)
	service.SetResponse(strings.Repeat("word ", 1000))

	ctx, cancel := context.WithCancel(context.Background())
	tokens, err := service.GenerateText(ctx, "prompt", 0)
	require.NoError(t, err)

	// Read one fragment then abandon the stream
	<-tokens
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-tokens:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream did not close after cancellation")
		}
	}
}

func TestFactorySelectsProvider(t *testing.T) {
	logger := arbor.NewLogger()

	config := common.NewDefaultConfig()
	config.TextGen.Provider = common.ProviderMock
	generator, err := NewTextGenerator(config, logger)
	require.NoError(t, err)
	assert.Equal(t, "mock-textgen", generator.ModelName())

	config.TextGen.Provider = "unknown"
	_, err = NewTextGenerator(config, logger)
	require.Error(t, err)
}

func TestFactoryClaudeRequiresAPIKey(t *testing.T) {
	config := common.NewDefaultConfig()
	config.TextGen.Provider = common.ProviderClaude
	config.TextGen.APIKey = ""

	_, err := NewTextGenerator(config, arbor.NewLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}
