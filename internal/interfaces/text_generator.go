package interfaces

import "context"

// GeneratedToken is one fragment of a streamed completion.
type GeneratedToken struct {
	Text string
	Err  error
}

// TextGenerator produces completion text from a prompt. Used by the
// retrieval engine for grounded answers and by the summarize handler.
type TextGenerator interface {
	// GenerateText streams completion fragments. The channel is closed after
	// the last token; a token carrying Err terminates the stream.
	GenerateText(ctx context.Context, prompt string, maxTokens int) (<-chan GeneratedToken, error)

	// CountTokens estimates prompt size for budget checks.
	CountTokens(text string) int

	// Model information
	ModelName() string
	MaxOutputTokens() int
}
