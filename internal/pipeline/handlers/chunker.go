package handlers

import (
	"strings"

	"github.com/ternarybob/mnemo/internal/services/tokenizer"
)

// ChunkOptions bound the text chunker. Overlap must stay below the paragraph
// budget; config validation enforces that.
type ChunkOptions struct {
	MaxTokensPerParagraph int
	OverlappingTokens     int
	MaxTokensPerLine      int
}

// SplitText splits extracted text into partition-sized chunks. Lines are
// first capped at MaxTokensPerLine, then packed greedily into chunks of at
// most MaxTokensPerParagraph tokens. Each chunk after the first starts with
// the tail tokens of its predecessor so sentences cut at a boundary stay
// findable. Output is deterministic for the same text and options.
func SplitText(text string, counter *tokenizer.Counter, opts ChunkOptions) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	lines := splitLines(text, counter, opts.MaxTokensPerLine)

	var chunks []string
	var current strings.Builder
	currentTokens := 0

	for _, line := range lines {
		lineTokens := counter.CountTokens(line)
		if currentTokens > 0 && currentTokens+lineTokens > opts.MaxTokensPerParagraph {
			chunk := current.String()
			current.Reset()
			currentTokens = 0
			if strings.TrimSpace(chunk) != "" {
				chunks = append(chunks, chunk)
				if tail := counter.TailTokens(chunk, opts.OverlappingTokens); strings.TrimSpace(tail) != "" {
					current.WriteString(tail)
					currentTokens = counter.CountTokens(tail)
				}
			}
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
		currentTokens += lineTokens
	}

	if chunk := current.String(); strings.TrimSpace(chunk) != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// splitLines breaks text on newlines and hard-splits any line over the token
// bound, preferring whitespace cut points.
func splitLines(text string, counter *tokenizer.Counter, maxTokensPerLine int) []string {
	raw := strings.Split(text, "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimRight(line, "\r")
		for counter.CountTokens(line) > maxTokensPerLine {
			head := counter.TruncateTokens(line, maxTokensPerLine)
			if head == "" || len(head) >= len(line) {
				break
			}
			lines = append(lines, head)
			line = strings.TrimLeft(line[len(head):], " ")
		}
		lines = append(lines, line)
	}
	return lines
}
