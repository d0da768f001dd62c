package interfaces

import (
	"context"

	"github.com/ternarybob/mnemo/internal/models"
)

// StepHandler is one idempotent unit of pipeline work, registered under the
// step name it serves. Handlers receive the pipeline snapshot loaded from
// the status file and return the updated snapshot; the orchestrator persists
// it. A handler may run more than once for the same step and must converge.
type StepHandler interface {
	// StepName is the pipeline step (and queue) this handler serves.
	StepName() string

	// Invoke executes the step. The returned pipeline replaces the stored
	// snapshot when the outcome is OutcomeComplete.
	Invoke(ctx context.Context, pipeline *models.DataPipeline) (models.StepOutcome, *models.DataPipeline, error)
}

// Orchestrator owns the DataPipeline lifecycle: intake, step dispatch,
// status persistence and terminal bookkeeping.
type Orchestrator interface {
	// Handler registry
	AddHandler(handler StepHandler) error
	TryAddHandler(handler StepHandler) bool

	// Intake
	// ImportDocument validates and stores the upload, creates the pipeline
	// and dispatches its first step. Returns the (possibly generated)
	// document id.
	ImportDocument(ctx context.Context, request *models.DocumentUploadRequest) (string, error)
	// StartDocumentDeletion creates and dispatches a delete_document pipeline.
	StartDocumentDeletion(ctx context.Context, index, documentID string) error
	// StartIndexDeletion creates and dispatches a delete_index pipeline.
	StartIndexDeletion(ctx context.Context, index string) error

	// Status
	// IsDocumentReady is true when the pipeline completed and was not a
	// deletion.
	IsDocumentReady(ctx context.Context, index, documentID string) (bool, error)
	// ReadPipelineStatus loads the persisted status file. Returns nil without
	// error when the document is unknown.
	ReadPipelineStatus(ctx context.Context, index, documentID string) (*models.DataPipeline, error)
	// ResumePipeline re-dispatches the current step of a non-terminal
	// pipeline, reporting whether anything was enqueued. The maintenance
	// sweep uses it to recover pipelines whose dispatch was lost.
	ResumePipeline(ctx context.Context, index, documentID string) (bool, error)
	// RegisteredSteps returns the step names with a registered handler.
	RegisteredSteps() []string

	// Artifact helpers used by handlers so they do not plumb the document
	// store everywhere.
	ReadTextFile(ctx context.Context, pipeline *models.DataPipeline, name string) (string, error)
	WriteTextFile(ctx context.Context, pipeline *models.DataPipeline, name, content string) error
	ReadFile(ctx context.Context, pipeline *models.DataPipeline, name string) ([]byte, error)
	WriteFile(ctx context.Context, pipeline *models.DataPipeline, name string, content []byte) error

	// Lifecycle
	Start(ctx context.Context) error
	Stop() error
}
