package embeddings

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/common"
	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/models"
	"github.com/ternarybob/mnemo/internal/services/tokenizer"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// GeminiService implements the EmbeddingGenerator interface using the Gemini
// embedding API. Batch calls carry several texts per request; a client-side
// rate limiter keeps request bursts under the provider quota.
type GeminiService struct {
	client         *genai.Client
	model          string
	dimension      int
	maxBatchSize   int
	maxBatchTokens int
	timeout        time.Duration
	limiter        *rate.Limiter
	counter        *tokenizer.Counter
	logger         arbor.ILogger
}

var _ interfaces.EmbeddingGenerator = (*GeminiService)(nil)

// NewGeminiService creates a new Gemini embedding service instance.
func NewGeminiService(config *common.Config, logger arbor.ILogger) (*GeminiService, error) {
	cfg := config.Embeddings
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required for embeddings (set GEMINI_API_KEY or embeddings.api_key in config)")
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-embedding-001"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	service := &GeminiService{
		client:         client,
		model:          model,
		dimension:      cfg.Dimension,
		maxBatchSize:   cfg.MaxBatchSize,
		maxBatchTokens: cfg.MaxBatchTokens,
		timeout:        config.EmbeddingsTimeout(),
		limiter:        limiter,
		counter:        tokenizer.New(),
		logger:         logger,
	}

	logger.Info().
		Str("model", model).
		Int("dimension", cfg.Dimension).
		Int("max_batch_size", cfg.MaxBatchSize).
		Msg("Gemini embedding service initialized")

	return service, nil
}

// GenerateEmbedding embeds one text.
func (s *GeminiService) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, models.NewValidationError("text cannot be empty for embedding generation")
	}
	vectors, err := s.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// GenerateEmbeddings embeds a batch, splitting it into provider calls that
// respect the element and token caps. Results are index-aligned.
func (s *GeminiService) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, text := range texts {
		if text == "" {
			return nil, models.NewValidationError(fmt.Sprintf("text %d is empty", i))
		}
	}

	results := make([][]float32, len(texts))
	for _, batch := range batchTexts(texts, s.counter, s.maxBatchSize, s.maxBatchTokens) {
		if err := s.embedBatch(ctx, texts, batch, results); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (s *GeminiService) embedBatch(ctx context.Context, texts []string, batch []int, results [][]float32) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return models.Transient(fmt.Errorf("rate limiter interrupted: %w", err))
		}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	contents := make([]*genai.Content, 0, len(batch))
	for _, idx := range batch {
		contents = append(contents, genai.NewContentFromText(texts[idx], genai.RoleUser))
	}

	outputDim := int32(s.dimension)
	embeddingConfig := &genai.EmbedContentConfig{
		OutputDimensionality: &outputDim,
	}

	start := time.Now()
	result, err := s.client.Models.EmbedContent(timeoutCtx, s.model, contents, embeddingConfig)
	if err != nil {
		return models.Transient(fmt.Errorf("embedding generation failed: %w", err))
	}
	if result == nil || len(result.Embeddings) != len(batch) {
		got := 0
		if result != nil {
			got = len(result.Embeddings)
		}
		return fmt.Errorf("embedding count mismatch: sent %d texts, got %d embeddings", len(batch), got)
	}

	for i, idx := range batch {
		vector := result.Embeddings[i].Values
		if len(vector) != s.dimension {
			return fmt.Errorf("embedding dimension mismatch: expected %d, got %d", s.dimension, len(vector))
		}
		results[idx] = vector
	}

	s.logger.Debug().
		Int("batch_size", len(batch)).
		Dur("duration", time.Since(start)).
		Msg("Embedding batch completed")

	return nil
}

// CountTokens estimates the token count used for batch budgeting.
func (s *GeminiService) CountTokens(text string) int {
	return s.counter.CountTokens(text)
}

func (s *GeminiService) MaxBatchSize() int {
	return s.maxBatchSize
}

func (s *GeminiService) MaxBatchTokens() int {
	return s.maxBatchTokens
}

func (s *GeminiService) ModelName() string {
	return s.model
}

func (s *GeminiService) Dimension() int {
	return s.dimension
}
