package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/common"
	"github.com/ternarybob/mnemo/internal/httpclient"
	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/models"
	"github.com/ternarybob/mnemo/internal/pipeline"
	"github.com/ternarybob/mnemo/internal/pipeline/decoders"
	"github.com/ternarybob/mnemo/internal/queue"
	"github.com/ternarybob/mnemo/internal/services/embeddings"
	"github.com/ternarybob/mnemo/internal/services/llm"
	"github.com/ternarybob/mnemo/internal/services/tokenizer"
	memstore "github.com/ternarybob/mnemo/internal/storage/memory"
)

type testEnv struct {
	orch     *pipeline.Orchestrator
	docs     *memstore.DocumentStore
	records  *memstore.RecordStore
	embedder *embeddings.MockService
	targets  []EmbeddingTarget
	logger   arbor.ILogger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := arbor.NewLogger()
	docs := memstore.NewDocumentStore()
	provider := queue.NewMemoryProvider(2*time.Second, 3, logger)
	orch, err := pipeline.NewOrchestrator(common.NewDefaultConfig(), docs, provider, logger)
	require.NoError(t, err)

	embedder := embeddings.NewMockService(16, 8, 4096)
	records := memstore.NewRecordStore()
	return &testEnv{
		orch:     orch,
		docs:     docs,
		records:  records,
		embedder: embedder,
		targets: []EmbeddingTarget{
			{Provider: "mock", Generator: embedder, Stores: []interfaces.MemoryDb{records}},
		},
		logger: logger,
	}
}

func testChunkOptions() ChunkOptions {
	return ChunkOptions{MaxTokensPerParagraph: 24, OverlappingTokens: 4, MaxTokensPerLine: 12}
}

func testDecoders(logger arbor.ILogger) []interfaces.ContentDecoder {
	return []interfaces.ContentDecoder{
		decoders.NewTextDecoder(),
		decoders.NewMarkdownDecoder(logger),
		decoders.NewHTMLDecoder(logger),
	}
}

func (env *testEnv) extractHandler() *ExtractHandler {
	return NewExtractHandler(env.orch, testDecoders(env.logger), httpclient.NewFetcher(5*time.Second), env.logger)
}

func (env *testEnv) ingestionHandlers() []interfaces.StepHandler {
	return []interfaces.StepHandler{
		env.extractHandler(),
		NewPartitionHandler(env.orch, tokenizer.New(), testChunkOptions(), env.logger),
		NewGenerateEmbeddingsHandler(env.orch, env.targets, env.logger),
		NewSaveRecordsHandler(env.orch, env.targets, env.logger),
	}
}

// newPipeline stores the given files and builds a pipeline referencing them,
// the same shape ImportDocument produces.
func (env *testEnv) newPipeline(t *testing.T, documentID string, files map[string]string) *models.DataPipeline {
	t.Helper()
	ctx := context.Background()
	p := models.NewDataPipeline("default", documentID, models.NewTagCollection(), models.DefaultSteps())
	require.NoError(t, env.docs.CreateIndexDirectory(ctx, p.Index))
	require.NoError(t, env.docs.CreateDocumentDirectory(ctx, p.Index, documentID))

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		content := files[name]
		require.NoError(t, env.docs.WriteFile(ctx, p.Index, documentID, name, strings.NewReader(content)))
		p.AddFile(fmt.Sprintf("file-%d", i+1), name, int64(len(content)), models.DetectMimeType(name))
	}
	return p
}

func (env *testEnv) runIngestion(t *testing.T, p *models.DataPipeline) {
	t.Helper()
	ctx := context.Background()
	for _, handler := range env.ingestionHandlers() {
		outcome, _, err := handler.Invoke(ctx, p)
		require.NoError(t, err, "step %s", handler.StepName())
		require.Equal(t, models.OutcomeComplete, outcome, "step %s", handler.StepName())
	}
}

func artifactsOfType(file *models.FileDetails, artifactType models.ArtifactType) []*models.GeneratedFileDetails {
	var out []*models.GeneratedFileDetails
	for _, artifact := range file.SortedGeneratedFiles() {
		if artifact.ArtifactType == artifactType {
			out = append(out, artifact)
		}
	}
	return out
}

func longText(word string, lines int) string {
	var b strings.Builder
	for i := 0; i < lines; i++ {
		fmt.Fprintf(&b, "%s line %d carries enough words to fill a partition\n", word, i)
	}
	return b.String()
}

func TestExtractHandlerPlainText(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.newPipeline(t, "doc-extract", map[string]string{"notes.txt": "alpha bravo\ncharlie"})

	handler := env.extractHandler()
	outcome, _, err := handler.Invoke(ctx, p)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeComplete, outcome)

	file := p.Files[0]
	assert.True(t, file.WasProcessedBy(models.StepExtract))
	extracts := artifactsOfType(file, models.ArtifactExtractedContent)
	require.Len(t, extracts, 1)
	assert.Equal(t, file.ID+".extract.txt", extracts[0].Name)
	assert.Equal(t, models.MimePlainText, extracts[0].MimeType)

	text, err := env.orch.ReadTextFile(ctx, p, extracts[0].Name)
	require.NoError(t, err)
	assert.Equal(t, "alpha bravo\ncharlie", text)

	// Redelivery of the same step must not duplicate artifacts.
	outcome, _, err = handler.Invoke(ctx, p)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeComplete, outcome)
	assert.Len(t, artifactsOfType(file, models.ArtifactExtractedContent), 1)
}

func TestExtractHandlerUnknownMimeStoresEmptyArtifact(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.newPipeline(t, "doc-binary", map[string]string{"blob.bin": "\x00\x01\x02"})
	p.Files[0].MimeType = "application/octet-stream"

	outcome, _, err := env.extractHandler().Invoke(ctx, p)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeComplete, outcome)

	extracts := artifactsOfType(p.Files[0], models.ArtifactExtractedContent)
	require.Len(t, extracts, 1)
	assert.Equal(t, int64(0), extracts[0].Size)

	text, err := env.orch.ReadTextFile(ctx, p, extracts[0].Name)
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestExtractHandlerFetchesURLContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><title>Data Sheet</title></head><body><p>The gadget weighs 9 grams.</p></body></html>`)
	}))
	defer server.Close()

	env := newTestEnv(t)
	ctx := context.Background()
	p := env.newPipeline(t, "doc-url", map[string]string{models.URLFilename: server.URL})
	require.Equal(t, models.MimeWebPageURL, p.Files[0].MimeType)

	outcome, _, err := env.extractHandler().Invoke(ctx, p)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeComplete, outcome)

	extracts := artifactsOfType(p.Files[0], models.ArtifactExtractedContent)
	require.Len(t, extracts, 1)
	text, err := env.orch.ReadTextFile(ctx, p, extracts[0].Name)
	require.NoError(t, err)
	assert.Contains(t, text, "gadget weighs 9 grams")
	assert.True(t, p.Tags.ContainsKeyValue("title", "Data Sheet"))
}

func TestExtractHandlerBadURLStoresEmptyArtifact(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.newPipeline(t, "doc-bad-url", map[string]string{models.URLFilename: "not-a-url"})

	outcome, _, err := env.extractHandler().Invoke(ctx, p)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeComplete, outcome)

	extracts := artifactsOfType(p.Files[0], models.ArtifactExtractedContent)
	require.Len(t, extracts, 1)
	assert.Equal(t, int64(0), extracts[0].Size)
}

func TestPartitionHandlerNumbersPartitionsSequentially(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.newPipeline(t, "doc-partition", map[string]string{"long.txt": longText("partitioning", 40)})

	_, _, err := env.extractHandler().Invoke(ctx, p)
	require.NoError(t, err)

	handler := NewPartitionHandler(env.orch, tokenizer.New(), testChunkOptions(), env.logger)
	outcome, _, err := handler.Invoke(ctx, p)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeComplete, outcome)

	file := p.Files[0]
	partitions := artifactsOfType(file, models.ArtifactTextPartition)
	require.Greater(t, len(partitions), 1)

	sort.SliceStable(partitions, func(i, j int) bool {
		return partitions[i].PartitionNumber < partitions[j].PartitionNumber
	})
	for i, partition := range partitions {
		assert.Equal(t, i, partition.PartitionNumber)
		assert.Equal(t, partitionArtifactName(file.ID, i), partition.Name)
		assert.Equal(t, file.ID, partition.ParentID)

		text, err := env.orch.ReadTextFile(ctx, p, partition.Name)
		require.NoError(t, err)
		assert.NotEmpty(t, strings.TrimSpace(text))
	}

	// Redelivery skips the already-partitioned artifact.
	outcome, _, err = handler.Invoke(ctx, p)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeComplete, outcome)
	assert.Len(t, artifactsOfType(file, models.ArtifactTextPartition), len(partitions))
}

func TestGenEmbeddingsWritesVectorArtifacts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.newPipeline(t, "doc-embed", map[string]string{"long.txt": longText("embedding", 30)})

	_, _, err := env.extractHandler().Invoke(ctx, p)
	require.NoError(t, err)
	_, _, err = NewPartitionHandler(env.orch, tokenizer.New(), testChunkOptions(), env.logger).Invoke(ctx, p)
	require.NoError(t, err)

	file := p.Files[0]
	// An empty partition must be skipped without producing a vector.
	emptyName := partitionArtifactName(file.ID, 99)
	require.NoError(t, env.orch.WriteTextFile(ctx, p, emptyName, "   "))
	file.AddGeneratedFile(&models.GeneratedFileDetails{
		FileDetailsBase: models.FileDetailsBase{
			ID: "empty-partition", Name: emptyName,
			MimeType: models.MimePlainText, ArtifactType: models.ArtifactTextPartition,
			PartitionNumber: 99,
		},
		ParentID: file.ID,
	})

	handler := NewGenerateEmbeddingsHandler(env.orch, env.targets, env.logger)
	outcome, _, err := handler.Invoke(ctx, p)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeComplete, outcome)

	partitions := artifactsOfType(file, models.ArtifactTextPartition)
	vectors := artifactsOfType(file, models.ArtifactEmbeddingVector)
	assert.Len(t, vectors, len(partitions)-1, "every partition except the empty one gets a vector")

	for _, artifact := range vectors {
		data, err := env.orch.ReadFile(ctx, p, artifact.Name)
		require.NoError(t, err)
		var content models.EmbeddingFileContent
		require.NoError(t, json.Unmarshal(data, &content))
		assert.Equal(t, "mock-embedding", content.GeneratorName)
		assert.Equal(t, "mock", content.GeneratorProvider)
		assert.Equal(t, 16, content.VectorSize)
		assert.Len(t, content.Vector, 16)
		assert.Equal(t, embeddingArtifactName(content.SourceFileName, "mock-embedding"), artifact.Name)
	}

	qualifier := models.StepGenEmbeddings + "/mock-embedding"
	for _, partition := range partitions {
		assert.True(t, partition.WasProcessedBy(qualifier), "partition %s", partition.Name)
	}
}

func TestSaveRecordsBuildsTaggedRecords(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.newPipeline(t, "doc-save", map[string]string{"notes.txt": longText("saving", 30)})
	p.Tags.Add("topic", "hardware")

	env.runIngestion(t, p)

	file := p.Files[0]
	partitions := artifactsOfType(file, models.ArtifactTextPartition)

	records, err := env.records.GetList(ctx, "default", nil, 0, true)
	require.NoError(t, err)
	require.Len(t, records, len(partitions))

	byID := map[string]*models.MemoryRecord{}
	for _, record := range records {
		byID[record.ID] = record
	}
	for _, partition := range partitions {
		id := models.NewRecordID(p.DocumentID, file.ID, partition.Name)
		record := byID[id]
		require.NotNil(t, record, "record for partition %s", partition.Name)

		assert.Equal(t, p.DocumentID, record.Tags.First(models.TagDocumentID))
		assert.Equal(t, file.ID, record.Tags.First(models.TagFileID))
		assert.Equal(t, partition.Name, record.Tags.First(models.TagFilePart))
		assert.Equal(t, fmt.Sprintf("%d", partition.PartitionNumber), record.Tags.First(models.TagPartitionN))
		assert.Equal(t, models.MimePlainText, record.Tags.First(models.TagFileType))
		assert.True(t, record.Tags.ContainsKeyValue("topic", "hardware"))

		assert.Equal(t, "notes.txt", record.FileName())
		assert.NotEmpty(t, record.PartitionText())
		assert.Len(t, record.Vector, 16)
		assert.False(t, record.LastUpdate().IsZero())
	}
}

func TestSaveRecordsSweepsStaleRecordsOnReingest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.newPipeline(t, "doc-reingest", map[string]string{"doc.txt": longText("original", 40)})
	env.runIngestion(t, first)

	before, err := env.records.GetList(ctx, "default", nil, 0, false)
	require.NoError(t, err)
	require.Greater(t, len(before), 1)

	// Second upload of the same document with much shorter content.
	second := env.newPipeline(t, "doc-reingest", map[string]string{"doc.txt": "replacement body"})
	env.runIngestion(t, second)

	after, err := env.records.GetList(ctx, "default", nil, 0, false)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, "replacement body", after[0].PartitionText())
	assert.Less(t, len(after), len(before))
}

func TestIngestionOfEmptyDocumentStoresNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.newPipeline(t, "doc-empty", map[string]string{"empty.txt": ""})

	env.runIngestion(t, p)

	// No partition was ever embedded, so the index was never created.
	_, err := env.records.GetList(ctx, "default", nil, 0, false)
	assert.True(t, models.IsIndexNotFound(err))
}

func TestSummarizeHandlerEmitsEmbeddableSummary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.newPipeline(t, "doc-summary", map[string]string{"paper.txt": longText("research", 30)})

	generator := llm.NewMockService(256)
	generator.SetResponse("Compact summary of the research paper.")

	_, _, err := env.extractHandler().Invoke(ctx, p)
	require.NoError(t, err)

	handler := NewSummarizeHandler(env.orch, generator, tokenizer.New(), 128, env.logger)
	outcome, _, err := handler.Invoke(ctx, p)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeComplete, outcome)

	file := p.Files[0]
	summaries := artifactsOfType(file, models.ArtifactTextSummary)
	require.Len(t, summaries, 1)
	assert.Equal(t, file.ID+".summarize.txt", summaries[0].Name)

	text, err := env.orch.ReadTextFile(ctx, p, summaries[0].Name)
	require.NoError(t, err)
	assert.Equal(t, "Compact summary of the research paper.", text)

	// Redelivery must not regenerate.
	outcome, _, err = handler.Invoke(ctx, p)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeComplete, outcome)
	assert.Len(t, artifactsOfType(file, models.ArtifactTextSummary), 1)

	// The summary flows through embedding and lands tagged __syn=summary.
	_, _, err = NewGenerateEmbeddingsHandler(env.orch, env.targets, env.logger).Invoke(ctx, p)
	require.NoError(t, err)
	_, _, err = NewSaveRecordsHandler(env.orch, env.targets, env.logger).Invoke(ctx, p)
	require.NoError(t, err)

	filters := []*models.MemoryFilter{models.NewMemoryFilter().ByTag(models.TagSynthetic, models.SyntheticSummary)}
	records, err := env.records.GetList(ctx, "default", filters, 0, false)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Compact summary of the research paper.", records[0].PartitionText())
}

func TestDeleteDocumentHandlerRemovesRecordsAndBlobs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.newPipeline(t, "doc-delete", map[string]string{"doc.txt": longText("deletable", 20)})
	env.runIngestion(t, p)

	records, err := env.records.GetList(ctx, "default", nil, 0, false)
	require.NoError(t, err)
	require.NotEmpty(t, records)

	// The status file must survive deletion.
	require.NoError(t, env.docs.WriteFile(ctx, "default", p.DocumentID, models.StatusFilename, strings.NewReader("{}")))

	deletion := models.NewDataPipeline("default", p.DocumentID, nil, []string{models.StepDeleteDocument})
	deletion.Empty = true
	handler := NewDeleteDocumentHandler(env.docs, []interfaces.MemoryDb{env.records}, env.logger)
	outcome, _, err := handler.Invoke(ctx, deletion)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeComplete, outcome)

	records, err = env.records.GetList(ctx, "default", nil, 0, false)
	require.NoError(t, err)
	assert.Empty(t, records)

	files, err := env.docs.ListFiles(ctx, "default", p.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, []string{models.StatusFilename}, files)
}

func TestDeleteIndexHandlerRefusesDefaultIndex(t *testing.T) {
	env := newTestEnv(t)
	handler := NewDeleteIndexHandler(env.docs, []interfaces.MemoryDb{env.records}, "default", env.logger)

	p := models.NewDataPipeline("default", "index-delete-1", nil, []string{models.StepDeleteIndex})
	outcome, _, err := handler.Invoke(context.Background(), p)
	assert.Equal(t, models.OutcomeFatal, outcome)
	assert.True(t, models.IsValidation(err))
}

func TestDeleteIndexHandlerDropsIndex(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.records.CreateIndex(ctx, "scratch", 4))
	record := models.NewMemoryRecord(models.NewRecordID("d1", "f1", "p1"), []float32{1, 0, 0, 0}, "d1", "f1", "p1")
	_, err := env.records.Upsert(ctx, "scratch", record)
	require.NoError(t, err)
	require.NoError(t, env.docs.CreateIndexDirectory(ctx, "scratch"))
	require.NoError(t, env.docs.WriteFile(ctx, "scratch", "d1", "doc.txt", strings.NewReader("body")))

	handler := NewDeleteIndexHandler(env.docs, []interfaces.MemoryDb{env.records}, "default", env.logger)
	p := models.NewDataPipeline("scratch", "index-delete-2", nil, []string{models.StepDeleteIndex})
	outcome, _, err := handler.Invoke(ctx, p)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeComplete, outcome)

	indexes, err := env.records.ListIndexes(ctx)
	require.NoError(t, err)
	assert.NotContains(t, indexes, "scratch")

	dirs, err := env.docs.ListDocumentDirectories(ctx, "scratch")
	require.NoError(t, err)
	assert.Empty(t, dirs)
}
