package models

import (
	"fmt"
	"sort"
	"time"
)

// StatusFilename is the per-document pipeline state persisted in the
// document store. It survives document deletion so status stays queryable.
const StatusFilename = "status.json"

// DataPipeline is the durable state of one document moving through its
// steps. It is owned by the orchestrator: handlers receive a snapshot loaded
// from the status file and return an updated one, the orchestrator persists
// it after every completed step and before the next dispatch.
//
// Invariant: Steps is always CompletedSteps followed by RemainingSteps.
type DataPipeline struct {
	Completed      bool           `json:"completed"`
	Failed         bool           `json:"failed"`
	Empty          bool           `json:"empty"` // set by delete pipelines once content is gone
	Index          string         `json:"index"`
	DocumentID     string         `json:"document_id"`
	Tags           TagCollection  `json:"tags"`
	Creation       time.Time      `json:"creation"`
	LastUpdate     time.Time      `json:"last_update"`
	Steps          []string       `json:"steps"`
	RemainingSteps []string       `json:"remaining_steps"`
	CompletedSteps []string       `json:"completed_steps"`
	Files          []*FileDetails `json:"files"`
}

// NewDataPipeline creates a pipeline in its initial state: nothing completed,
// every step remaining.
func NewDataPipeline(index, documentID string, tags TagCollection, steps []string) *DataPipeline {
	if tags == nil {
		tags = NewTagCollection()
	}
	now := time.Now().UTC()
	return &DataPipeline{
		Index:          index,
		DocumentID:     documentID,
		Tags:           tags,
		Creation:       now,
		LastUpdate:     now,
		Steps:          append([]string(nil), steps...),
		RemainingSteps: append([]string(nil), steps...),
		CompletedSteps: []string{},
		Files:          []*FileDetails{},
	}
}

// CurrentStep returns the step the pipeline is waiting on, "" when none remain.
func (p *DataPipeline) CurrentStep() string {
	if len(p.RemainingSteps) == 0 {
		return ""
	}
	return p.RemainingSteps[0]
}

// MoveToNextStep moves the current step from remaining to completed and
// refreshes the last-update timestamp.
func (p *DataPipeline) MoveToNextStep() error {
	if len(p.RemainingSteps) == 0 {
		return fmt.Errorf("pipeline %s/%s has no remaining steps", p.Index, p.DocumentID)
	}
	step := p.RemainingSteps[0]
	p.RemainingSteps = p.RemainingSteps[1:]
	p.CompletedSteps = append(p.CompletedSteps, step)
	p.LastUpdate = time.Now().UTC()
	return nil
}

// Validate checks the step bookkeeping invariant.
func (p *DataPipeline) Validate() error {
	if len(p.CompletedSteps)+len(p.RemainingSteps) != len(p.Steps) {
		return fmt.Errorf("pipeline %s/%s step lists out of sync: %d completed + %d remaining != %d steps",
			p.Index, p.DocumentID, len(p.CompletedSteps), len(p.RemainingSteps), len(p.Steps))
	}
	for i, step := range p.CompletedSteps {
		if p.Steps[i] != step {
			return fmt.Errorf("pipeline %s/%s completed step %q out of order at position %d", p.Index, p.DocumentID, step, i)
		}
	}
	for i, step := range p.RemainingSteps {
		if p.Steps[len(p.CompletedSteps)+i] != step {
			return fmt.Errorf("pipeline %s/%s remaining step %q out of order at position %d", p.Index, p.DocumentID, step, i)
		}
	}
	return nil
}

// IsTerminal reports whether the pipeline reached a final state.
func (p *DataPipeline) IsTerminal() bool {
	return p.Completed || p.Failed
}

// Touch refreshes the last-update timestamp.
func (p *DataPipeline) Touch() {
	p.LastUpdate = time.Now().UTC()
}

// AddFile registers an uploaded file on the pipeline.
func (p *DataPipeline) AddFile(id, name string, size int64, mimeType string) *FileDetails {
	file := &FileDetails{
		FileDetailsBase: FileDetailsBase{
			ID:           id,
			Name:         name,
			Size:         size,
			MimeType:     mimeType,
			ArtifactType: ArtifactUndefined,
		},
		GeneratedFiles: map[string]*GeneratedFileDetails{},
	}
	p.Files = append(p.Files, file)
	return file
}

// GetFile returns the input file with the given id, nil when absent.
func (p *DataPipeline) GetFile(id string) *FileDetails {
	for _, f := range p.Files {
		if f.ID == id {
			return f
		}
	}
	return nil
}

// FileDetailsBase carries the attributes shared by uploaded files and the
// artifacts generated from them.
type FileDetailsBase struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Size            int64         `json:"size"`
	MimeType        string        `json:"mime_type"`
	ArtifactType    ArtifactType  `json:"artifact_type"`
	PartitionNumber int           `json:"partition_number"`
	SectionNumber   int           `json:"section_number"`
	Tags            TagCollection `json:"tags,omitempty"`
	ProcessedBy     []string      `json:"processed_by,omitempty"`
}

// WasProcessedBy reports whether the named step (optionally qualified, e.g.
// "gen_embeddings/gemini-embedding-001") already handled this file. Handlers
// use it to make re-runs idempotent.
func (f *FileDetailsBase) WasProcessedBy(step string) bool {
	for _, s := range f.ProcessedBy {
		if s == step {
			return true
		}
	}
	return false
}

// MarkProcessedBy records that the named step handled this file.
func (f *FileDetailsBase) MarkProcessedBy(step string) {
	if f.WasProcessedBy(step) {
		return
	}
	f.ProcessedBy = append(f.ProcessedBy, step)
}

// FileDetails describes one uploaded file and every artifact derived from it.
type FileDetails struct {
	FileDetailsBase
	GeneratedFiles map[string]*GeneratedFileDetails `json:"generated_files,omitempty"`
}

// AddGeneratedFile records a derived artifact under its storage name.
func (f *FileDetails) AddGeneratedFile(details *GeneratedFileDetails) {
	if f.GeneratedFiles == nil {
		f.GeneratedFiles = map[string]*GeneratedFileDetails{}
	}
	f.GeneratedFiles[details.Name] = details
}

// SortedGeneratedFiles returns the generated artifacts ordered by name so
// handlers iterate deterministically.
func (f *FileDetails) SortedGeneratedFiles() []*GeneratedFileDetails {
	names := make([]string, 0, len(f.GeneratedFiles))
	for name := range f.GeneratedFiles {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*GeneratedFileDetails, 0, len(names))
	for _, name := range names {
		out = append(out, f.GeneratedFiles[name])
	}
	return out
}

// GeneratedFileDetails describes an artifact produced by a step handler.
type GeneratedFileDetails struct {
	FileDetailsBase
	ParentID          string `json:"parent_id"`
	SourcePartitionID string `json:"source_partition_id,omitempty"`
	ContentSHA256     string `json:"content_sha256,omitempty"`
}
