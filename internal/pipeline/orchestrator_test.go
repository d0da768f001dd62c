package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/common"
	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/models"
	"github.com/ternarybob/mnemo/internal/queue"
	memstore "github.com/ternarybob/mnemo/internal/storage/memory"
)

// scriptedHandler is a step handler whose behavior is a function of the
// invocation count, so tests can script failures before a success.
type scriptedHandler struct {
	step   string
	invoke func(call int, p *models.DataPipeline) (models.StepOutcome, error)

	mu    sync.Mutex
	calls int
}

var _ interfaces.StepHandler = (*scriptedHandler)(nil)

func (h *scriptedHandler) StepName() string { return h.step }

func (h *scriptedHandler) Invoke(ctx context.Context, p *models.DataPipeline) (models.StepOutcome, *models.DataPipeline, error) {
	h.mu.Lock()
	h.calls++
	call := h.calls
	h.mu.Unlock()

	if h.invoke == nil {
		return models.OutcomeComplete, p, nil
	}
	outcome, err := h.invoke(call, p)
	return outcome, p, err
}

func (h *scriptedHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

// stepRecorder collects the order steps were invoked in across handlers.
type stepRecorder struct {
	mu    sync.Mutex
	order []string
}

func (r *stepRecorder) record(step string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, step)
}

func (r *stepRecorder) steps() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func completingHandler(step string, recorder *stepRecorder) *scriptedHandler {
	return &scriptedHandler{step: step, invoke: func(call int, p *models.DataPipeline) (models.StepOutcome, error) {
		if recorder != nil {
			recorder.record(step)
		}
		return models.OutcomeComplete, nil
	}}
}

type orchEnv struct {
	orch     *Orchestrator
	docs     *memstore.DocumentStore
	provider *queue.MemoryProvider
}

// newOrchEnv builds an orchestrator over in-memory stores with fast polling
// so redelivery tests finish quickly.
func newOrchEnv(t *testing.T) *orchEnv {
	t.Helper()
	config := common.NewDefaultConfig()
	config.Queue.PollInterval = "10ms"
	config.Queue.Concurrency = 2
	config.Queue.VisibilityTimeout = "30s"
	config.Queue.MaxReceive = 5

	logger := arbor.NewLogger()
	docs := memstore.NewDocumentStore()
	visibility, err := config.VisibilityTimeout()
	require.NoError(t, err)
	provider := queue.NewMemoryProvider(visibility, config.Queue.MaxReceive, logger)

	orch, err := NewOrchestrator(config, docs, provider, logger)
	require.NoError(t, err)
	return &orchEnv{orch: orch, docs: docs, provider: provider}
}

func (env *orchEnv) start(t *testing.T, handlers ...interfaces.StepHandler) {
	t.Helper()
	for _, h := range handlers {
		require.NoError(t, env.orch.AddHandler(h))
	}
	require.NoError(t, env.orch.Start(context.Background()))
	t.Cleanup(func() { _ = env.orch.Stop() })
}

func uploadRequest(documentID string, steps ...string) *models.DocumentUploadRequest {
	return &models.DocumentUploadRequest{
		Index:      "default",
		DocumentID: documentID,
		Files:      []*models.UploadedFile{{Name: "note.txt", Content: []byte("orchestrated content")}},
		Steps:      steps,
	}
}

// waitForStatus polls the persisted pipeline status until done returns true.
func waitForStatus(t *testing.T, orch *Orchestrator, index, documentID string, deadline time.Duration, done func(p *models.DataPipeline) bool) *models.DataPipeline {
	t.Helper()
	ctx := context.Background()
	timeout := time.After(deadline)
	for {
		select {
		case <-timeout:
			p, _ := orch.ReadPipelineStatus(ctx, index, documentID)
			t.Fatalf("pipeline %s/%s did not reach the expected state within %s, last status: %+v", index, documentID, deadline, p)
			return nil
		case <-time.After(20 * time.Millisecond):
			p, err := orch.ReadPipelineStatus(ctx, index, documentID)
			require.NoError(t, err)
			if p != nil && done(p) {
				return p
			}
		}
	}
}

func waitForCondition(t *testing.T, deadline time.Duration, what string, cond func() bool) {
	t.Helper()
	timeout := time.After(deadline)
	for {
		select {
		case <-timeout:
			t.Fatalf("condition %q not reached within %s", what, deadline)
		case <-time.After(20 * time.Millisecond):
			if cond() {
				return
			}
		}
	}
}

func TestImportDocumentRunsDefaultStepsInOrder(t *testing.T) {
	env := newOrchEnv(t)
	recorder := &stepRecorder{}

	// The partition stub checks that extract's completion was durable before
	// partition was dispatched.
	partition := &scriptedHandler{step: models.StepPartition, invoke: func(call int, p *models.DataPipeline) (models.StepOutcome, error) {
		recorder.record(models.StepPartition)
		persisted, err := env.orch.ReadPipelineStatus(context.Background(), p.Index, p.DocumentID)
		if assert.NoError(t, err) && assert.NotNil(t, persisted) {
			assert.Equal(t, []string{models.StepExtract}, persisted.CompletedSteps)
		}
		return models.OutcomeComplete, nil
	}}

	env.start(t,
		completingHandler(models.StepExtract, recorder),
		partition,
		completingHandler(models.StepGenEmbeddings, recorder),
		completingHandler(models.StepSaveRecords, recorder),
	)

	documentID, err := env.orch.ImportDocument(context.Background(), uploadRequest("doc-order"))
	require.NoError(t, err)
	require.Equal(t, "doc-order", documentID)

	final := waitForStatus(t, env.orch, "default", documentID, 5*time.Second, func(p *models.DataPipeline) bool {
		return p.Completed
	})

	assert.Equal(t, models.DefaultSteps(), final.CompletedSteps)
	assert.Empty(t, final.RemainingSteps)
	assert.False(t, final.Failed)
	assert.Equal(t, models.DefaultSteps(), recorder.steps())

	ready, err := env.orch.IsDocumentReady(context.Background(), "default", documentID)
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestTransientErrorIsRedelivered(t *testing.T) {
	env := newOrchEnv(t)
	flaky := &scriptedHandler{step: models.StepExtract, invoke: func(call int, p *models.DataPipeline) (models.StepOutcome, error) {
		if call <= 2 {
			return models.OutcomeTransientError, errors.New("dependency briefly down")
		}
		return models.OutcomeComplete, nil
	}}
	env.start(t, flaky)

	_, err := env.orch.ImportDocument(context.Background(), uploadRequest("doc-retry", models.StepExtract))
	require.NoError(t, err)

	// Redelivery backs off by one second per attempt, so two failures cost
	// about three seconds before the third delivery succeeds.
	final := waitForStatus(t, env.orch, "default", "doc-retry", 15*time.Second, func(p *models.DataPipeline) bool {
		return p.Completed
	})

	assert.False(t, final.Failed)
	assert.Equal(t, 3, flaky.callCount())
}

func TestFatalOutcomeFailsPipeline(t *testing.T) {
	env := newOrchEnv(t)
	broken := &scriptedHandler{step: models.StepExtract, invoke: func(call int, p *models.DataPipeline) (models.StepOutcome, error) {
		return models.OutcomeFatal, models.Fatal(errors.New("unreadable input"))
	}}
	env.start(t, broken, completingHandler(models.StepPartition, nil))

	_, err := env.orch.ImportDocument(context.Background(), uploadRequest("doc-fatal", models.StepExtract, models.StepPartition))
	require.NoError(t, err)

	final := waitForStatus(t, env.orch, "default", "doc-fatal", 5*time.Second, func(p *models.DataPipeline) bool {
		return p.Failed
	})

	assert.False(t, final.Completed)
	assert.Equal(t, []string{models.StepExtract, models.StepPartition}, final.RemainingSteps)

	// Fatal steps are acked, not retried.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, broken.callCount())

	ready, err := env.orch.IsDocumentReady(context.Background(), "default", "doc-fatal")
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestMalformedMessageIsPoisoned(t *testing.T) {
	env := newOrchEnv(t)
	handler := completingHandler(models.StepExtract, nil)
	env.start(t, handler)

	q, err := env.provider.GetQueue(models.StepExtract)
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), []byte("not a pipeline message"), 0)
	require.NoError(t, err)

	waitForCondition(t, 5*time.Second, "malformed message poisoned", func() bool {
		count, err := q.PoisonCount(context.Background())
		require.NoError(t, err)
		return count == 1
	})
	assert.Equal(t, 0, handler.callCount())
}

func TestMessageForUnknownDocumentIsDropped(t *testing.T) {
	env := newOrchEnv(t)
	handler := completingHandler(models.StepExtract, nil)
	env.start(t, handler)

	q, err := env.provider.GetQueue(models.StepExtract)
	require.NoError(t, err)
	payload, err := (&models.PipelineMessage{Index: "default", DocumentID: "doc-ghost"}).ToJSON()
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), payload, 0)
	require.NoError(t, err)

	waitForCondition(t, 5*time.Second, "queue drained", func() bool {
		length, err := q.Length(context.Background())
		require.NoError(t, err)
		return length == 0
	})

	poisoned, err := q.PoisonCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, poisoned)
	assert.Equal(t, 0, handler.callCount())
}

func TestStaleMessageNudgesCurrentStep(t *testing.T) {
	env := newOrchEnv(t)
	ctx := context.Background()

	// Persisted state says the pipeline already moved past extract, but the
	// partition dispatch was lost. Only a stale extract redelivery remains.
	p := models.NewDataPipeline("default", "doc-stale", nil, []string{models.StepExtract, models.StepPartition})
	require.NoError(t, p.MoveToNextStep())
	require.NoError(t, env.docs.CreateIndexDirectory(ctx, p.Index))
	require.NoError(t, env.docs.CreateDocumentDirectory(ctx, p.Index, p.DocumentID))
	require.NoError(t, env.orch.persistStatus(ctx, p))

	extractQueue, err := env.provider.GetQueue(models.StepExtract)
	require.NoError(t, err)
	payload, err := (&models.PipelineMessage{Index: p.Index, DocumentID: p.DocumentID}).ToJSON()
	require.NoError(t, err)
	_, err = extractQueue.Enqueue(ctx, payload, 0)
	require.NoError(t, err)

	extract := completingHandler(models.StepExtract, nil)
	partition := completingHandler(models.StepPartition, nil)
	env.start(t, extract, partition)

	final := waitForStatus(t, env.orch, p.Index, p.DocumentID, 5*time.Second, func(status *models.DataPipeline) bool {
		return status.Completed
	})

	assert.Equal(t, []string{models.StepExtract, models.StepPartition}, final.CompletedSteps)
	assert.Equal(t, 0, extract.callCount(), "stale message must be dropped, not re-executed")
	assert.GreaterOrEqual(t, partition.callCount(), 1)
}

func TestReimportReplacesDocumentContent(t *testing.T) {
	env := newOrchEnv(t)
	ctx := context.Background()
	env.start(t, completingHandler(models.StepExtract, nil))

	_, err := env.orch.ImportDocument(ctx, uploadRequest("doc-replace", models.StepExtract))
	require.NoError(t, err)
	waitForStatus(t, env.orch, "default", "doc-replace", 5*time.Second, func(p *models.DataPipeline) bool {
		return p.Completed
	})

	// Leftover artifact from the first ingestion run.
	require.NoError(t, env.docs.WriteFile(ctx, "default", "doc-replace", "file-1.extract.txt", strings.NewReader("stale artifact")))

	request := uploadRequest("doc-replace", models.StepExtract)
	request.Files = []*models.UploadedFile{{Name: "fresh.txt", Content: []byte("fresh body")}}
	_, err = env.orch.ImportDocument(ctx, request)
	require.NoError(t, err)
	waitForStatus(t, env.orch, "default", "doc-replace", 5*time.Second, func(p *models.DataPipeline) bool {
		return p.Completed && len(p.Files) == 1 && p.Files[0].Name == "fresh.txt"
	})

	names, err := env.docs.ListFiles(ctx, "default", "doc-replace")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{models.StatusFilename, "fresh.txt"}, names)
}

func TestDocumentDeletionPipeline(t *testing.T) {
	env := newOrchEnv(t)
	ctx := context.Background()
	env.start(t,
		completingHandler(models.StepExtract, nil),
		completingHandler(models.StepDeleteDocument, nil),
	)

	_, err := env.orch.ImportDocument(ctx, uploadRequest("doc-del", models.StepExtract))
	require.NoError(t, err)
	waitForStatus(t, env.orch, "default", "doc-del", 5*time.Second, func(p *models.DataPipeline) bool {
		return p.Completed
	})

	require.NoError(t, env.orch.StartDocumentDeletion(ctx, "default", "doc-del"))

	final := waitForStatus(t, env.orch, "default", "doc-del", 5*time.Second, func(p *models.DataPipeline) bool {
		return p.Completed && p.Empty
	})
	assert.Equal(t, []string{models.StepDeleteDocument}, final.CompletedSteps)

	ready, err := env.orch.IsDocumentReady(ctx, "default", "doc-del")
	require.NoError(t, err)
	assert.False(t, ready, "deleted documents never report ready")
}

func TestDocumentDeletionUnknownDocument(t *testing.T) {
	env := newOrchEnv(t)
	env.start(t, completingHandler(models.StepDeleteDocument, nil))

	err := env.orch.StartDocumentDeletion(context.Background(), "default", "doc-missing")
	require.Error(t, err)
	assert.True(t, models.IsNotFound(err))
}

func TestIndexDeletionPipeline(t *testing.T) {
	env := newOrchEnv(t)
	ctx := context.Background()

	var invoked struct {
		mu       sync.Mutex
		index    string
		empty    bool
		received bool
	}
	handler := &scriptedHandler{step: models.StepDeleteIndex, invoke: func(call int, p *models.DataPipeline) (models.StepOutcome, error) {
		invoked.mu.Lock()
		invoked.index = p.Index
		invoked.empty = p.Empty
		invoked.received = true
		invoked.mu.Unlock()
		return models.OutcomeComplete, nil
	}}
	env.start(t, handler)

	require.NoError(t, env.orch.StartIndexDeletion(ctx, "scratch"))

	waitForCondition(t, 5*time.Second, "delete_index invoked", func() bool {
		invoked.mu.Lock()
		defer invoked.mu.Unlock()
		return invoked.received
	})
	assert.Equal(t, "scratch", invoked.index)
	assert.True(t, invoked.empty)
}

func TestIndexDeletionRefusesDefaultIndex(t *testing.T) {
	env := newOrchEnv(t)
	env.start(t, completingHandler(models.StepDeleteIndex, nil))

	err := env.orch.StartIndexDeletion(context.Background(), "default")
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))

	// An empty name resolves to the default index and is refused the same way.
	err = env.orch.StartIndexDeletion(context.Background(), "")
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))
}

func TestImportDocumentValidation(t *testing.T) {
	env := newOrchEnv(t)
	require.NoError(t, env.orch.AddHandler(completingHandler(models.StepExtract, nil)))
	ctx := context.Background()

	_, err := env.orch.ImportDocument(ctx, nil)
	assert.True(t, models.IsValidation(err), "nil request: %v", err)

	empty := uploadRequest("doc-v", models.StepExtract)
	empty.Files = nil
	_, err = env.orch.ImportDocument(ctx, empty)
	assert.True(t, models.IsValidation(err), "no files: %v", err)

	reserved := uploadRequest("doc-v", models.StepExtract)
	reserved.Files = []*models.UploadedFile{{Name: models.StatusFilename, Content: []byte("x")}}
	_, err = env.orch.ImportDocument(ctx, reserved)
	assert.True(t, models.IsValidation(err), "reserved file name: %v", err)

	sanitized := uploadRequest("doc with spaces", models.StepExtract)
	id, err := env.orch.ImportDocument(ctx, sanitized)
	require.NoError(t, err, "sanitizable document id")
	assert.Equal(t, "doc_with_spaces", id)

	unusable := uploadRequest("++++", models.StepExtract)
	_, err = env.orch.ImportDocument(ctx, unusable)
	assert.True(t, models.IsValidation(err), "unusable document id: %v", err)

	unknownStep := uploadRequest("doc-v", "transmogrify")
	_, err = env.orch.ImportDocument(ctx, unknownStep)
	assert.True(t, models.IsValidation(err), "unknown step: %v", err)

	duplicateStep := uploadRequest("doc-v", models.StepExtract, models.StepExtract)
	_, err = env.orch.ImportDocument(ctx, duplicateStep)
	assert.True(t, models.IsValidation(err), "duplicate step: %v", err)

	badTags := uploadRequest("doc-v", models.StepExtract)
	badTags.Tags = models.NewTagCollection()
	badTags.Tags["key=broken"] = []string{"v"}
	_, err = env.orch.ImportDocument(ctx, badTags)
	assert.True(t, models.IsValidation(err), "invalid tag key: %v", err)
}

func TestReadPipelineStatusUnknownDocument(t *testing.T) {
	env := newOrchEnv(t)
	status, err := env.orch.ReadPipelineStatus(context.Background(), "default", "doc-nowhere")
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestAddHandlerRegistrationRules(t *testing.T) {
	env := newOrchEnv(t)
	require.NoError(t, env.orch.AddHandler(completingHandler(models.StepExtract, nil)))

	err := env.orch.AddHandler(completingHandler(models.StepExtract, nil))
	require.Error(t, err, "duplicate step registration")
	assert.False(t, env.orch.TryAddHandler(completingHandler(models.StepExtract, nil)))

	require.NoError(t, env.orch.Start(context.Background()))
	t.Cleanup(func() { _ = env.orch.Stop() })

	err = env.orch.AddHandler(completingHandler(models.StepPartition, nil))
	require.Error(t, err, "registration after start")
}
