package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/common"
	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/models"
	"github.com/ternarybob/mnemo/internal/services/tokenizer"
	"google.golang.org/genai"
)

// GeminiService implements the TextGenerator interface using Gemini models
// with streamed completions.
type GeminiService struct {
	client    *genai.Client
	model     string
	maxTokens int
	timeout   time.Duration
	counter   *tokenizer.Counter
	logger    arbor.ILogger
}

var _ interfaces.TextGenerator = (*GeminiService)(nil)

// NewGeminiService creates a Gemini text generation service.
func NewGeminiService(config *common.Config, logger arbor.ILogger) (*GeminiService, error) {
	if config.TextGen.APIKey == "" {
		return nil, fmt.Errorf("Google API key is required for Gemini text generation (set GEMINI_API_KEY or textgen.api_key in config)")
	}

	model := config.TextGen.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	maxTokens := config.TextGen.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.TextGen.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	service := &GeminiService{
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
		Msg("Gemini text generation service initialized")

	return service, nil
}

// GenerateText streams completion fragments for the prompt. The returned
// channel is closed after the final token; stream failures arrive as a token
// carrying a transient error.
func (s *GeminiService) GenerateText(ctx context.Context, prompt string, maxTokens int) (<-chan interfaces.GeneratedToken, error) {
	if prompt == "" {
		return nil, models.NewValidationError("prompt cannot be empty for text generation")
	}
	if maxTokens <= 0 || maxTokens > s.maxTokens {
		maxTokens = s.maxTokens
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
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
			Msg("Starting Gemini completion stream")

		emitted := 0
		for resp, err := range s.client.Models.GenerateContentStream(timeoutCtx, s.model, contents, config) {
			if err != nil {
				s.logger.Warn().
					Err(err).
					Int("emitted", emitted).
					Msg("Gemini completion stream failed")
				select {
				case tokens <- interfaces.GeneratedToken{Err: models.Transient(fmt.Errorf("gemini stream: %w", err))}:
				case <-timeoutCtx.Done():
				}
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			select {
			case tokens <- interfaces.GeneratedToken{Text: text}:
				emitted++
			case <-timeoutCtx.Done():
				return
			}
		}

		s.logger.Debug().
			Int("emitted", emitted).
			Dur("duration", time.Since(startTime)).
			Msg("Gemini completion stream finished")
	}()

	return tokens, nil
}

func (s *GeminiService) CountTokens(text string) int {
	return s.counter.CountTokens(text)
}

func (s *GeminiService) ModelName() string {
	return s.model
}

func (s *GeminiService) MaxOutputTokens() int {
	return s.maxTokens
}
