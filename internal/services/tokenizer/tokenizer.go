package tokenizer

import (
	"strings"
	"unicode/utf8"
)

// charsPerToken is the long-run average for English prose under common BPE
// vocabularies. Budgeting, not billing: callers that need exact counts ask
// their provider.
const charsPerToken = 4

// Counter estimates token counts without a model vocabulary. Deterministic,
// allocation free, and close enough for batch grouping, partition sizing and
// prompt budgets.
type Counter struct{}

func New() *Counter {
	return &Counter{}
}

// CountTokens estimates the token count of text.
func (c *Counter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	runes := utf8.RuneCountInString(text)
	return (runes + charsPerToken - 1) / charsPerToken
}

// TruncateTokens returns the longest prefix of text that fits maxTokens,
// cut at a rune boundary, preferring a whitespace break near the cut.
func (c *Counter) TruncateTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	maxRunes := maxTokens * charsPerToken
	if utf8.RuneCountInString(text) <= maxRunes {
		return text
	}

	runes := []rune(text)
	cut := maxRunes
	for i := cut - 1; i > cut/2; i-- {
		if runes[i] == ' ' || runes[i] == '\n' {
			cut = i
			break
		}
	}
	return strings.TrimRight(string(runes[:cut]), " \n")
}

// TailTokens returns the suffix of text covering about maxTokens, used for
// carrying partition overlap into the next chunk.
func (c *Counter) TailTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	maxRunes := maxTokens * charsPerToken
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[len(runes)-maxRunes:])
}
