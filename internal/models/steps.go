package models

// Pipeline step names. A step name doubles as the queue name in distributed
// mode, so names must stay stable across versions.
const (
	StepExtract        = "extract"
	StepPartition      = "partition"
	StepGenEmbeddings  = "gen_embeddings"
	StepSaveRecords    = "save_records"
	StepSummarize      = "summarize"
	StepDeleteDocument = "delete_document"
	StepDeleteIndex    = "delete_index"
)

// DefaultSteps returns the standard ingestion pipeline.
func DefaultSteps() []string {
	return []string{StepExtract, StepPartition, StepGenEmbeddings, StepSaveRecords}
}

// StepOutcome is what a step handler reports back to the orchestrator.
type StepOutcome string

const (
	// OutcomeComplete marks the step done; the orchestrator advances the pipeline.
	OutcomeComplete StepOutcome = "complete"
	// OutcomeRetryLater asks for redelivery after the visibility timeout, e.g.
	// when an upstream dependency is not ready yet.
	OutcomeRetryLater StepOutcome = "retry_later"
	// OutcomeTransientError marks a failure worth retrying (network, lease
	// contention). Redelivered until the queue's poison threshold.
	OutcomeTransientError StepOutcome = "transient_error"
	// OutcomeFatal marks the pipeline failed with no retry.
	OutcomeFatal StepOutcome = "fatal"
)

// String returns the string representation of the StepOutcome
func (o StepOutcome) String() string {
	return string(o)
}
