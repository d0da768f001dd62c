package handlers

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/mnemo/internal/services/tokenizer"
)

func chunkOpts() ChunkOptions {
	return ChunkOptions{
		MaxTokensPerParagraph: 20,
		OverlappingTokens:     5,
		MaxTokensPerLine:      10,
	}
}

func TestSplitTextEmptyInput(t *testing.T) {
	counter := tokenizer.New()
	assert.Nil(t, SplitText("", counter, chunkOpts()))
	assert.Nil(t, SplitText("   \n\t\n", counter, chunkOpts()))
}

func TestSplitTextShortInputSingleChunk(t *testing.T) {
	counter := tokenizer.New()
	chunks := SplitText("just a short line", counter, chunkOpts())
	require.Len(t, chunks, 1)
	assert.Equal(t, "just a short line", chunks[0])
}

func TestSplitTextRespectsParagraphBudget(t *testing.T) {
	counter := tokenizer.New()
	opts := chunkOpts()

	var lines []string
	for i := 0; i < 40; i++ {
		lines = append(lines, "the quick brown fox jumps over")
	}
	chunks := SplitText(strings.Join(lines, "\n"), counter, opts)
	require.Greater(t, len(chunks), 1)

	// Line joins add a rune per newline, so allow minimal rounding slack
	// over the per-line accounting.
	for _, chunk := range chunks {
		assert.LessOrEqual(t, counter.CountTokens(chunk), opts.MaxTokensPerParagraph+2)
		assert.NotEmpty(t, strings.TrimSpace(chunk))
	}
}

func TestSplitTextCarriesOverlap(t *testing.T) {
	counter := tokenizer.New()
	opts := chunkOpts()

	var lines []string
	for i := 0; i < 40; i++ {
		lines = append(lines, "alpha beta gamma delta epsilon")
	}
	chunks := SplitText(strings.Join(lines, "\n"), counter, opts)
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		tail := counter.TailTokens(chunks[i-1], opts.OverlappingTokens)
		assert.True(t, strings.HasPrefix(chunks[i], tail),
			"chunk %d should start with the tail of chunk %d", i, i-1)
	}
}

func TestSplitTextNoOverlapWhenDisabled(t *testing.T) {
	counter := tokenizer.New()
	opts := chunkOpts()
	opts.OverlappingTokens = 0

	var lines []string
	for i := 0; i < 40; i++ {
		lines = append(lines, "one two three four five six")
	}
	chunks := SplitText(strings.Join(lines, "\n"), counter, opts)
	require.Greater(t, len(chunks), 1)

	total := 0
	for _, chunk := range chunks {
		total += len(strings.Fields(chunk))
	}
	assert.Equal(t, 40*6, total, "without overlap no word should be duplicated")
}

func TestSplitTextHardSplitsLongLines(t *testing.T) {
	counter := tokenizer.New()
	opts := chunkOpts()

	// One unbroken line far over the per-line budget.
	text := strings.Repeat("wordsoup ", 100)
	chunks := SplitText(text, counter, opts)
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, counter.CountTokens(chunk), opts.MaxTokensPerParagraph+2)
	}
}

func TestSplitTextDeterministic(t *testing.T) {
	counter := tokenizer.New()
	text := strings.Repeat("some repeating content with punctuation, numbers 42 and words.\n", 30)

	first := SplitText(text, counter, chunkOpts())
	second := SplitText(text, counter, chunkOpts())
	assert.Equal(t, first, second)
}
