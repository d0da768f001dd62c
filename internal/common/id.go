package common

import (
	"github.com/google/uuid"
)

// Generated ids for callers that omit their own. User-supplied document ids
// go through models.NormalizeDocumentID instead; these never need it.

// NewDocumentID returns a document id in the form doc_<uuid>.
func NewDocumentID() string {
	return "doc_" + uuid.New().String()
}

// NewFileID returns a file id in the form f_<uuid>, assigned to every file
// registered on a pipeline.
func NewFileID() string {
	return "f_" + uuid.New().String()
}
