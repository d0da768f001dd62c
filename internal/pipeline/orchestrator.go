package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/common"
	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/models"
	"github.com/ternarybob/mnemo/internal/queue"
)

// Orchestrator owns the DataPipeline lifecycle. Every step queue is drained
// by the shared worker pool; the orchestrator persists status.json after each
// completed step before the next one is dispatched, so any worker can pick
// the pipeline up from durable state.
type Orchestrator struct {
	config       *common.Config
	documents    interfaces.DocumentStore
	provider     interfaces.QueueProvider
	pool         *queue.WorkerPool
	logger       arbor.ILogger
	defaultIndex string

	handlerMu sync.RWMutex
	handlers  map[string]interfaces.StepHandler

	// Advisory locks serializing step execution per (index, documentId).
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	startMu sync.Mutex
	started bool
}

var _ interfaces.Orchestrator = (*Orchestrator)(nil)

// NewOrchestrator creates a stopped orchestrator. Register handlers, then
// Start.
func NewOrchestrator(config *common.Config, documents interfaces.DocumentStore, provider interfaces.QueueProvider, logger arbor.ILogger) (*Orchestrator, error) {
	pollInterval, err := config.PollInterval()
	if err != nil {
		return nil, fmt.Errorf("invalid poll interval: %w", err)
	}

	defaultIndex, err := models.NormalizeIndexName(config.Memory.DefaultIndex, config.Memory.DefaultIndex)
	if err != nil {
		return nil, fmt.Errorf("invalid default index: %w", err)
	}

	return &Orchestrator{
		config:       config,
		documents:    documents,
		provider:     provider,
		pool:         queue.NewWorkerPool(pollInterval, config.Queue.Concurrency, logger),
		logger:       logger,
		defaultIndex: defaultIndex,
		handlers:     make(map[string]interfaces.StepHandler),
		locks:        make(map[string]*sync.Mutex),
	}, nil
}

// AddHandler registers a step handler. Fails on duplicates and after Start.
func (o *Orchestrator) AddHandler(handler interfaces.StepHandler) error {
	if handler == nil || handler.StepName() == "" {
		return models.NewValidationError("handler has no step name")
	}

	o.startMu.Lock()
	started := o.started
	o.startMu.Unlock()
	if started {
		return fmt.Errorf("cannot register handler %q after the orchestrator started", handler.StepName())
	}

	o.handlerMu.Lock()
	defer o.handlerMu.Unlock()
	if _, exists := o.handlers[handler.StepName()]; exists {
		return fmt.Errorf("handler for step %q already registered", handler.StepName())
	}
	o.handlers[handler.StepName()] = handler
	o.logger.Debug().Str("step", handler.StepName()).Msg("Step handler registered")
	return nil
}

// TryAddHandler registers a handler, reporting success instead of failing.
func (o *Orchestrator) TryAddHandler(handler interfaces.StepHandler) bool {
	return o.AddHandler(handler) == nil
}

// Start binds every registered handler's queue to the worker pool and starts
// the workers.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.startMu.Lock()
	defer o.startMu.Unlock()
	if o.started {
		return nil
	}

	o.handlerMu.RLock()
	steps := make([]string, 0, len(o.handlers))
	for step := range o.handlers {
		steps = append(steps, step)
	}
	o.handlerMu.RUnlock()
	sort.Strings(steps)

	for _, step := range steps {
		q, err := o.provider.GetQueue(step)
		if err != nil {
			return fmt.Errorf("queue for step %q: %w", step, err)
		}
		o.handlerMu.RLock()
		handler := o.handlers[step]
		o.handlerMu.RUnlock()
		o.pool.Bind(q, o.stepMessageHandler(handler))
	}

	o.pool.Start()
	o.started = true
	o.logger.Info().
		Int("steps", len(steps)).
		Str("mode", o.config.Queue.Mode).
		Msg("Pipeline orchestrator started")
	return nil
}

// Stop drains the worker pool. In-flight steps finish; pending messages stay
// queued for the next start.
func (o *Orchestrator) Stop() error {
	o.startMu.Lock()
	defer o.startMu.Unlock()
	if !o.started {
		return nil
	}
	o.pool.Stop()
	o.started = false
	return nil
}

// ImportDocument validates and stores the upload, creates the pipeline and
// dispatches its first step. Re-importing an existing document replaces its
// content: stale artifacts are cleared here, stale records by save_records.
func (o *Orchestrator) ImportDocument(ctx context.Context, request *models.DocumentUploadRequest) (string, error) {
	if request == nil {
		return "", models.NewValidationError("upload request is nil")
	}

	index, err := models.NormalizeIndexName(request.Index, o.defaultIndex)
	if err != nil {
		return "", err
	}

	documentID := request.DocumentID
	if documentID == "" {
		documentID = "doc_" + uuid.NewString()
	} else {
		documentID, err = models.NormalizeDocumentID(documentID)
		if err != nil {
			return "", err
		}
	}

	if err := request.Validate(); err != nil {
		return "", err
	}
	request.DedupFileNames()

	steps := request.Steps
	if len(steps) == 0 {
		steps = models.DefaultSteps()
	}
	if err := o.checkSteps(steps); err != nil {
		return "", err
	}

	unlock := o.lockDocument(index, documentID)
	defer unlock()

	existing, err := o.ReadPipelineStatus(ctx, index, documentID)
	if err != nil {
		return "", fmt.Errorf("read existing status for %s/%s: %w", index, documentID, err)
	}
	if existing != nil {
		o.logger.Info().
			Str("index", index).
			Str("document_id", documentID).
			Msg("Re-importing existing document, clearing previous artifacts")
		if err := o.documents.EmptyDocumentDirectory(ctx, index, documentID); err != nil {
			return "", fmt.Errorf("clear document %s/%s: %w", index, documentID, err)
		}
	}

	if err := o.documents.CreateIndexDirectory(ctx, index); err != nil {
		return "", fmt.Errorf("create index directory %s: %w", index, err)
	}
	if err := o.documents.CreateDocumentDirectory(ctx, index, documentID); err != nil {
		return "", fmt.Errorf("create document directory %s/%s: %w", index, documentID, err)
	}

	pipeline := models.NewDataPipeline(index, documentID, request.Tags, steps)
	for _, file := range request.Files {
		if err := o.documents.WriteFile(ctx, index, documentID, file.Name, bytes.NewReader(file.Content)); err != nil {
			return "", fmt.Errorf("store file %s: %w", file.Name, err)
		}
		pipeline.AddFile(stableFileID(documentID, file.Name), file.Name, int64(len(file.Content)), models.DetectMimeType(file.Name))
	}

	if err := o.persistStatus(ctx, pipeline); err != nil {
		return "", fmt.Errorf("persist status for %s/%s: %w", index, documentID, err)
	}
	if err := o.dispatch(ctx, pipeline); err != nil {
		return "", fmt.Errorf("dispatch first step for %s/%s: %w", index, documentID, err)
	}

	o.logger.Info().
		Str("index", index).
		Str("document_id", documentID).
		Int("files", len(request.Files)).
		Str("first_step", pipeline.CurrentStep()).
		Msg("Document import accepted")

	return documentID, nil
}

// StartDocumentDeletion creates and dispatches a delete_document pipeline.
// Unknown documents fail with NotFound.
func (o *Orchestrator) StartDocumentDeletion(ctx context.Context, index, documentID string) error {
	index, err := models.NormalizeIndexName(index, o.defaultIndex)
	if err != nil {
		return err
	}
	documentID, err = models.NormalizeDocumentID(documentID)
	if err != nil {
		return err
	}

	unlock := o.lockDocument(index, documentID)
	defer unlock()

	existing, err := o.ReadPipelineStatus(ctx, index, documentID)
	if err != nil {
		return fmt.Errorf("read status for %s/%s: %w", index, documentID, err)
	}
	if existing == nil {
		return fmt.Errorf("document %s/%s: %w", index, documentID, models.ErrNotFound)
	}

	pipeline := models.NewDataPipeline(index, documentID, existing.Tags, []string{models.StepDeleteDocument})
	pipeline.Empty = true

	if err := o.persistStatus(ctx, pipeline); err != nil {
		return fmt.Errorf("persist deletion status for %s/%s: %w", index, documentID, err)
	}
	if err := o.dispatch(ctx, pipeline); err != nil {
		return fmt.Errorf("dispatch deletion for %s/%s: %w", index, documentID, err)
	}

	o.logger.Info().
		Str("index", index).
		Str("document_id", documentID).
		Msg("Document deletion started")
	return nil
}

// StartIndexDeletion creates and dispatches a delete_index pipeline. The
// default index is refused.
func (o *Orchestrator) StartIndexDeletion(ctx context.Context, index string) error {
	index, err := models.NormalizeIndexName(index, o.defaultIndex)
	if err != nil {
		return err
	}
	if index == o.defaultIndex {
		return models.NewValidationError(fmt.Sprintf("the default index %q cannot be deleted", index))
	}

	documentID := "index-delete-" + uuid.NewString()
	unlock := o.lockDocument(index, documentID)
	defer unlock()

	if err := o.documents.CreateDocumentDirectory(ctx, index, documentID); err != nil {
		return fmt.Errorf("create deletion directory %s/%s: %w", index, documentID, err)
	}

	pipeline := models.NewDataPipeline(index, documentID, nil, []string{models.StepDeleteIndex})
	pipeline.Empty = true

	if err := o.persistStatus(ctx, pipeline); err != nil {
		return fmt.Errorf("persist index deletion status for %s: %w", index, err)
	}
	if err := o.dispatch(ctx, pipeline); err != nil {
		return fmt.Errorf("dispatch index deletion for %s: %w", index, err)
	}

	o.logger.Info().Str("index", index).Msg("Index deletion started")
	return nil
}

// IsDocumentReady reports whether the ingestion pipeline finished and the
// document still holds content.
func (o *Orchestrator) IsDocumentReady(ctx context.Context, index, documentID string) (bool, error) {
	status, err := o.ReadPipelineStatus(ctx, index, documentID)
	if err != nil {
		return false, err
	}
	return status != nil && status.Completed && !status.Empty, nil
}

// ReadPipelineStatus loads the persisted status file. Unknown documents
// return nil without error; unreadable status files are fatal.
func (o *Orchestrator) ReadPipelineStatus(ctx context.Context, index, documentID string) (*models.DataPipeline, error) {
	index, err := models.NormalizeIndexName(index, o.defaultIndex)
	if err != nil {
		return nil, err
	}

	file, err := o.documents.ReadFile(ctx, index, documentID, models.StatusFilename)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read status file for %s/%s: %w", index, documentID, err)
	}

	data, err := file.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read status file for %s/%s: %w", index, documentID, err)
	}

	var pipeline models.DataPipeline
	if err := json.Unmarshal(data, &pipeline); err != nil {
		return nil, models.Fatal(fmt.Errorf("corrupt status file for %s/%s: %w", index, documentID, err))
	}
	if err := pipeline.Validate(); err != nil {
		return nil, models.Fatal(err)
	}
	return &pipeline, nil
}

// ResumePipeline re-dispatches the current step of a stalled pipeline.
// Terminal and unknown pipelines are left alone.
func (o *Orchestrator) ResumePipeline(ctx context.Context, index, documentID string) (bool, error) {
	unlock := o.lockDocument(index, documentID)
	defer unlock()

	pipeline, err := o.ReadPipelineStatus(ctx, index, documentID)
	if err != nil {
		return false, err
	}
	if pipeline == nil || pipeline.IsTerminal() || pipeline.CurrentStep() == "" {
		return false, nil
	}
	if err := o.dispatch(ctx, pipeline); err != nil {
		return false, err
	}
	return true, nil
}

// RegisteredSteps returns the step names with a registered handler, sorted.
func (o *Orchestrator) RegisteredSteps() []string {
	o.handlerMu.RLock()
	defer o.handlerMu.RUnlock()
	steps := make([]string, 0, len(o.handlers))
	for step := range o.handlers {
		steps = append(steps, step)
	}
	sort.Strings(steps)
	return steps
}

// ReadTextFile loads one of the pipeline's artifacts as text.
func (o *Orchestrator) ReadTextFile(ctx context.Context, pipeline *models.DataPipeline, name string) (string, error) {
	data, err := o.ReadFile(ctx, pipeline, name)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteTextFile stores one of the pipeline's artifacts from text.
func (o *Orchestrator) WriteTextFile(ctx context.Context, pipeline *models.DataPipeline, name, content string) error {
	return o.WriteFile(ctx, pipeline, name, []byte(content))
}

// ReadFile loads one of the pipeline's artifacts.
func (o *Orchestrator) ReadFile(ctx context.Context, pipeline *models.DataPipeline, name string) ([]byte, error) {
	file, err := o.documents.ReadFile(ctx, pipeline.Index, pipeline.DocumentID, name)
	if err != nil {
		return nil, err
	}
	return file.ReadAll()
}

// WriteFile stores one of the pipeline's artifacts.
func (o *Orchestrator) WriteFile(ctx context.Context, pipeline *models.DataPipeline, name string, content []byte) error {
	return o.documents.WriteFile(ctx, pipeline.Index, pipeline.DocumentID, name, bytes.NewReader(content))
}

// checkSteps validates a requested step list against the handler registry.
func (o *Orchestrator) checkSteps(steps []string) error {
	o.handlerMu.RLock()
	defer o.handlerMu.RUnlock()

	seen := make(map[string]bool, len(steps))
	for _, step := range steps {
		if step == "" {
			return models.NewValidationError("step list contains an empty step name")
		}
		if seen[step] {
			return models.NewValidationError(fmt.Sprintf("step %q appears twice in the pipeline", step))
		}
		seen[step] = true
		if _, ok := o.handlers[step]; !ok {
			return models.NewValidationError(fmt.Sprintf("no handler registered for step %q", step))
		}
	}
	return nil
}

// stepMessageHandler adapts a step handler into a queue message handler.
func (o *Orchestrator) stepMessageHandler(handler interfaces.StepHandler) queue.MessageHandler {
	return func(ctx context.Context, msg *interfaces.QueueMessage) error {
		pm, err := models.PipelineMessageFromJSON(msg.Payload)
		if err != nil {
			return models.NewValidationError(fmt.Sprintf("malformed pipeline message: %v", err))
		}
		if pm.Index == "" || pm.DocumentID == "" {
			return models.NewValidationError("pipeline message missing index or document id")
		}
		return o.executeStep(ctx, handler, pm)
	}
}

// executeStep runs one handler invocation under the document's advisory lock
// and translates the outcome into queue semantics.
func (o *Orchestrator) executeStep(ctx context.Context, handler interfaces.StepHandler, pm *models.PipelineMessage) error {
	unlock := o.lockDocument(pm.Index, pm.DocumentID)
	defer unlock()

	pipeline, err := o.ReadPipelineStatus(ctx, pm.Index, pm.DocumentID)
	if err != nil {
		if models.IsFatal(err) {
			return err
		}
		return models.Transient(err)
	}
	if pipeline == nil {
		o.logger.Warn().
			Str("index", pm.Index).
			Str("document_id", pm.DocumentID).
			Str("step", handler.StepName()).
			Msg("Dropping message for unknown document")
		return nil
	}
	if pipeline.IsTerminal() {
		o.logger.Debug().
			Str("index", pm.Index).
			Str("document_id", pm.DocumentID).
			Str("step", handler.StepName()).
			Msg("Dropping message for terminal pipeline")
		return nil
	}

	if pipeline.CurrentStep() != handler.StepName() {
		// Stale redelivery after the step already completed, or the pipeline
		// was replaced. Nudge the current step so a lost dispatch cannot
		// stall the pipeline, then drop this message.
		o.logger.Debug().
			Str("index", pm.Index).
			Str("document_id", pm.DocumentID).
			Str("message_step", handler.StepName()).
			Str("current_step", pipeline.CurrentStep()).
			Msg("Dropping stale step message")
		if err := o.dispatch(ctx, pipeline); err != nil {
			o.logger.Warn().Err(err).Msg("Failed to re-dispatch current step")
		}
		return nil
	}

	start := time.Now()
	o.logger.Info().
		Str("index", pipeline.Index).
		Str("document_id", pipeline.DocumentID).
		Str("step", handler.StepName()).
		Msg("Step started")

	outcome, updated, handlerErr := handler.Invoke(ctx, pipeline)
	if updated != nil {
		pipeline = updated
	}

	switch outcome {
	case models.OutcomeComplete:
		return o.completeStep(ctx, pipeline, handler.StepName(), start)

	case models.OutcomeRetryLater:
		o.logger.Info().
			Str("step", handler.StepName()).
			Str("document_id", pipeline.DocumentID).
			Err(handlerErr).
			Msg("Step asked to retry later")
		if handlerErr == nil {
			handlerErr = fmt.Errorf("step %s not ready", handler.StepName())
		}
		return models.Transient(handlerErr)

	case models.OutcomeTransientError:
		if handlerErr == nil {
			handlerErr = fmt.Errorf("step %s failed transiently", handler.StepName())
		}
		if !models.IsTransient(handlerErr) {
			handlerErr = models.Transient(handlerErr)
		}
		return handlerErr

	case models.OutcomeFatal:
		return o.failPipeline(ctx, pipeline, handler.StepName(), handlerErr)

	default:
		return o.failPipeline(ctx, pipeline, handler.StepName(),
			fmt.Errorf("handler returned unknown outcome %q", outcome))
	}
}

// completeStep advances the pipeline, persists the new state and dispatches
// the next step. Status is always durable before the next dispatch.
func (o *Orchestrator) completeStep(ctx context.Context, pipeline *models.DataPipeline, step string, start time.Time) error {
	if err := pipeline.MoveToNextStep(); err != nil {
		return models.Fatal(err)
	}
	if len(pipeline.RemainingSteps) == 0 {
		pipeline.Completed = true
	}

	// An index deletion removed its own status directory; persisting would
	// resurrect it.
	persist := !(pipeline.Completed && stepsContain(pipeline.CompletedSteps, models.StepDeleteIndex))
	if persist {
		if err := o.persistStatus(ctx, pipeline); err != nil {
			return models.Transient(fmt.Errorf("persist status after step %s: %w", step, err))
		}
	}

	o.logger.Info().
		Str("index", pipeline.Index).
		Str("document_id", pipeline.DocumentID).
		Str("step", step).
		Dur("duration", time.Since(start)).
		Msg("Step completed")

	if pipeline.Completed {
		o.logger.Info().
			Str("index", pipeline.Index).
			Str("document_id", pipeline.DocumentID).
			Bool("empty", pipeline.Empty).
			Dur("total_duration", time.Since(pipeline.Creation)).
			Msg("Pipeline completed")
		return nil
	}

	if err := o.dispatch(ctx, pipeline); err != nil {
		// Status is already durable; redelivery of this message nudges the
		// next step, and the janitor sweeps up anything that slips through.
		return models.Transient(fmt.Errorf("dispatch step %s: %w", pipeline.CurrentStep(), err))
	}
	return nil
}

// failPipeline marks the pipeline failed and persists it. The returned error
// is fatal so the queue acks the message.
func (o *Orchestrator) failPipeline(ctx context.Context, pipeline *models.DataPipeline, step string, cause error) error {
	if cause == nil {
		cause = fmt.Errorf("step %s failed", step)
	}
	pipeline.Failed = true
	pipeline.Touch()

	if err := o.persistStatus(ctx, pipeline); err != nil {
		o.logger.Error().
			Err(err).
			Str("index", pipeline.Index).
			Str("document_id", pipeline.DocumentID).
			Msg("Failed to persist failed pipeline status")
	}

	o.logger.Error().
		Err(cause).
		Str("index", pipeline.Index).
		Str("document_id", pipeline.DocumentID).
		Str("step", step).
		Msg("Pipeline failed")

	if !models.IsFatal(cause) {
		cause = models.Fatal(cause)
	}
	return cause
}

// dispatch enqueues the pipeline's current step.
func (o *Orchestrator) dispatch(ctx context.Context, pipeline *models.DataPipeline) error {
	step := pipeline.CurrentStep()
	if step == "" {
		return nil
	}

	q, err := o.provider.GetQueue(step)
	if err != nil {
		return fmt.Errorf("queue for step %q: %w", step, err)
	}

	msg := models.PipelineMessage{Index: pipeline.Index, DocumentID: pipeline.DocumentID}
	payload, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("encode pipeline message: %w", err)
	}

	messageID, err := q.Enqueue(ctx, payload, 0)
	if err != nil {
		return fmt.Errorf("enqueue step %q: %w", step, err)
	}

	o.logger.Debug().
		Str("index", pipeline.Index).
		Str("document_id", pipeline.DocumentID).
		Str("step", step).
		Str("message_id", messageID).
		Msg("Step dispatched")
	return nil
}

// persistStatus writes the pipeline snapshot to its status file.
func (o *Orchestrator) persistStatus(ctx context.Context, pipeline *models.DataPipeline) error {
	pipeline.Touch()
	data, err := json.MarshalIndent(pipeline, "", "  ")
	if err != nil {
		return fmt.Errorf("encode pipeline status: %w", err)
	}
	return o.documents.WriteFile(ctx, pipeline.Index, pipeline.DocumentID, models.StatusFilename, bytes.NewReader(data))
}

func (o *Orchestrator) lockDocument(index, documentID string) func() {
	key := index + "/" + documentID

	o.locksMu.Lock()
	lock, ok := o.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[key] = lock
	}
	o.locksMu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// stableFileID derives a deterministic file id so re-importing the same
// document yields the same record ids.
func stableFileID(documentID, name string) string {
	sum := sha256.Sum256([]byte(documentID + "/" + name))
	return hex.EncodeToString(sum[:8])
}

func stepsContain(steps []string, step string) bool {
	for _, s := range steps {
		if s == step {
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}
