package embeddings

// tokenCounter is the estimation dependency for batch budgeting.
type tokenCounter interface {
	CountTokens(text string) int
}

// batchTexts groups input indexes preserving order. A batch closes when the
// next text would push it past maxBatchSize elements or maxBatchTokens summed
// tokens. A single text over the token cap still ships alone rather than
// being dropped; the provider is the final authority on rejecting it.
func batchTexts(texts []string, counter tokenCounter, maxBatchSize, maxBatchTokens int) [][]int {
	if maxBatchSize <= 0 {
		maxBatchSize = 1
	}

	var batches [][]int
	var current []int
	currentTokens := 0

	for i, text := range texts {
		tokens := counter.CountTokens(text)
		tooBig := len(current) >= maxBatchSize ||
			(maxBatchTokens > 0 && len(current) > 0 && currentTokens+tokens > maxBatchTokens)
		if tooBig {
			batches = append(batches, current)
			current = nil
			currentTokens = 0
		}
		current = append(current, i)
		currentTokens += tokens
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}
