package llm

import (
	"context"
	"strings"

	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/models"
	"github.com/ternarybob/mnemo/internal/services/tokenizer"
)

// MockService streams a canned response without calling any provider. Used by
// tests and for running the service without API keys.
type MockService struct {
	response  string
	maxTokens int
	counter   *tokenizer.Counter
}

var _ interfaces.TextGenerator = (*MockService)(nil)

func NewMockService(maxTokens int) *MockService {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &MockService{
		response:  "Mock answer assembled from the provided facts.",
		maxTokens: maxTokens,
		counter:   tokenizer.New(),
	}
}

// SetResponse overrides the canned response. Tests use this to make the
// generated answer recognizable.
func (s *MockService) SetResponse(text string) {
	s.response = text
}

// GenerateText streams the canned response word by word so consumers exercise
// the same channel handling as with real providers.
func (s *MockService) GenerateText(ctx context.Context, prompt string, maxTokens int) (<-chan interfaces.GeneratedToken, error) {
	if prompt == "" {
		return nil, models.NewValidationError("prompt cannot be empty for text generation")
	}

	words := strings.Fields(s.response)
	tokens := make(chan interfaces.GeneratedToken, 8)

	go func() {
		defer close(tokens)
		for i, word := range words {
			fragment := word
			if i < len(words)-1 {
				fragment += " "
			}
			select {
			case tokens <- interfaces.GeneratedToken{Text: fragment}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return tokens, nil
}

func (s *MockService) CountTokens(text string) int {
	return s.counter.CountTokens(text)
}

func (s *MockService) ModelName() string {
	return "mock-textgen"
}

func (s *MockService) MaxOutputTokens() int {
	return s.maxTokens
}
