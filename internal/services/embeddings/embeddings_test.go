package embeddings

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/mnemo/internal/models"
	"github.com/ternarybob/mnemo/internal/services/tokenizer"
)

func TestBatchTextsGroupsBySize(t *testing.T) {
	counter := tokenizer.New()
	texts := []string{"a", "b", "c", "d", "e"}

	batches := batchTexts(texts, counter, 2, 0)

	require.Len(t, batches, 3)
	assert.Equal(t, []int{0, 1}, batches[0])
	assert.Equal(t, []int{2, 3}, batches[1])
	assert.Equal(t, []int{4}, batches[2])
}

func TestBatchTextsGroupsByTokens(t *testing.T) {
	counter := tokenizer.New()
	long := "this text is long enough to cost a handful of tokens on its own"
	texts := []string{long, long, long}
	perText := counter.CountTokens(long)

	// Budget fits two texts but not three
	batches := batchTexts(texts, counter, 10, perText*2)

	require.Len(t, batches, 2)
	assert.Equal(t, []int{0, 1}, batches[0])
	assert.Equal(t, []int{2}, batches[1])
}

func TestBatchTextsOversizedTextShipsAlone(t *testing.T) {
	counter := tokenizer.New()
	huge := make([]byte, 4000)
	for i := range huge {
		huge[i] = 'x'
	}
	texts := []string{"small", string(huge), "small"}

	batches := batchTexts(texts, counter, 10, 100)

	require.Len(t, batches, 3)
	assert.Equal(t, []int{0}, batches[0])
	assert.Equal(t, []int{1}, batches[1])
	assert.Equal(t, []int{2}, batches[2])
}

func TestMockServiceDeterministic(t *testing.T) {
	service := NewMockService(128, 16, 8192)
	ctx := context.Background()

	first, err := service.GenerateEmbedding(ctx, "the quick brown fox")
	require.NoError(t, err)
	second, err := service.GenerateEmbedding(ctx, "the quick brown fox")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 128)
}

func TestMockServiceUnitVectors(t *testing.T) {
	service := NewMockService(64, 16, 8192)

	vec, err := service.GenerateEmbedding(context.Background(), "normalize me please")
	require.NoError(t, err)

	var magnitude float64
	for _, v := range vec {
		magnitude += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(magnitude), 1e-5)
}

func TestMockServiceSharedVocabularyScoresHigher(t *testing.T) {
	service := NewMockService(256, 16, 8192)
	ctx := context.Background()

	query, err := service.GenerateEmbedding(ctx, "solar panels on the roof")
	require.NoError(t, err)
	related, err := service.GenerateEmbedding(ctx, "installing solar panels saves energy")
	require.NoError(t, err)
	unrelated, err := service.GenerateEmbedding(ctx, "quarterly finance report spreadsheet")
	require.NoError(t, err)

	relatedScore, ok := models.CosineSimilarity(query, related)
	require.True(t, ok)
	unrelatedScore, ok := models.CosineSimilarity(query, unrelated)
	require.True(t, ok)
	assert.Greater(t, relatedScore, unrelatedScore)
}

func TestMockServiceRejectsEmptyText(t *testing.T) {
	service := NewMockService(64, 16, 8192)

	_, err := service.GenerateEmbedding(context.Background(), "")
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))

	_, err = service.GenerateEmbeddings(context.Background(), []string{"ok", ""})
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))
}

func TestMockServiceBatchAlignment(t *testing.T) {
	service := NewMockService(64, 16, 8192)
	texts := []string{"alpha", "beta", "gamma"}

	batch, err := service.GenerateEmbeddings(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	for i, text := range texts {
		single, err := service.GenerateEmbedding(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i], "batch result %d should match single embedding", i)
	}
}
