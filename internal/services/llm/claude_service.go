package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/common"
	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/models"
	"github.com/ternarybob/mnemo/internal/services/tokenizer"
)

// ClaudeService implements the TextGenerator interface using the Anthropic
// Messages API with streamed completions.
type ClaudeService struct {
	client    anthropic.Client
	model     string
	maxTokens int
	timeout   time.Duration
	counter   *tokenizer.Counter
	logger    arbor.ILogger
}

var _ interfaces.TextGenerator = (*ClaudeService)(nil)

// NewClaudeService creates a Claude text generation service.
func NewClaudeService(config *common.Config, logger arbor.ILogger) (*ClaudeService, error) {
	if config.TextGen.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required for Claude text generation (set ANTHROPIC_API_KEY or textgen.api_key in config)")
	}

	model := config.TextGen.Model
	if model == "" {
		model = "claude-haiku-4-5"
	}

	maxTokens := config.TextGen.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	client := anthropic.NewClient(
		option.WithAPIKey(config.TextGen.APIKey),
	)

	service := &ClaudeService{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
		timeout:   config.TextGenTimeout(),
		counter:   tokenizer.New(),
		logger:    logger,
	}

	logger.Info().
		Str("model", model).
		Int("max_tokens", maxTokens).
		Dur("timeout", service.timeout).
		Msg("Claude text generation service initialized")

	return service, nil
}

// GenerateText streams completion fragments for the prompt. The returned
// channel is closed after the final token; stream failures arrive as a token
// carrying a transient error.
func (s *ClaudeService) GenerateText(ctx context.Context, prompt string, maxTokens int) (<-chan interfaces.GeneratedToken, error) {
	if prompt == "" {
		return nil, models.NewValidationError("prompt cannot be empty for text generation")
	}
	if maxTokens <= 0 || maxTokens > s.maxTokens {
		maxTokens = s.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	tokens := make(chan interfaces.GeneratedToken, 8)

	go func() {
		defer cancel()
		defer close(tokens)

		startTime := time.Now()
		s.logger.Debug().
			Int("prompt_tokens", s.counter.CountTokens(prompt)).
			Int("max_tokens", maxTokens).
			Msg("Starting Claude completion stream")

		stream := s.client.Messages.NewStreaming(timeoutCtx, params)
		emitted := 0
		for stream.Next() {
			event := stream.Current()
			switch eventVariant := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch deltaVariant := eventVariant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if deltaVariant.Text == "" {
						continue
					}
					select {
					case tokens <- interfaces.GeneratedToken{Text: deltaVariant.Text}:
						emitted++
					case <-timeoutCtx.Done():
						return
					}
				}
			}
		}

		if err := stream.Err(); err != nil {
			s.logger.Warn().
				Err(err).
				Int("emitted", emitted).
				Msg("Claude completion stream failed")
			select {
			case tokens <- interfaces.GeneratedToken{Err: models.Transient(fmt.Errorf("claude stream: %w", err))}:
			case <-timeoutCtx.Done():
			}
			return
		}

		s.logger.Debug().
			Int("emitted", emitted).
			Dur("duration", time.Since(startTime)).
			Msg("Claude completion stream finished")
	}()

	return tokens, nil
}

func (s *ClaudeService) CountTokens(text string) int {
	return s.counter.CountTokens(text)
}

func (s *ClaudeService) ModelName() string {
	return s.model
}

func (s *ClaudeService) MaxOutputTokens() int {
	return s.maxTokens
}
