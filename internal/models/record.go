package models

import (
	"encoding/base64"
	"fmt"
	"time"
)

// Payload keys shared by every vector store backend. The payload is opaque
// to the stores; these are the keys the pipeline writes and search reads.
const (
	PayloadText       = "text"
	PayloadFile       = "file"
	PayloadURL        = "url"
	PayloadLastUpdate = "last_update"
)

// MemoryRecord is one row in a vector index: the embedding of a text
// partition plus the tags and payload needed to trace it back to its source.
type MemoryRecord struct {
	// ID is the URL-safe base64 encoding of the partition key, stable across
	// re-ingestion so upserts replace rather than duplicate.
	ID      string         `json:"id" badgerhold:"key"`
	Vector  []float32      `json:"vector"`
	Tags    TagCollection  `json:"tags"`
	Payload map[string]any `json:"payload"`
}

// NewRecordID derives the record id from the partition key
// documentId/fileId/partitionFileName. Every record in an index gets a
// distinct key by construction, and repeated ingestion of the same partition
// maps to the same id.
func NewRecordID(documentID, fileID, partitionFileName string) string {
	key := fmt.Sprintf("d=%s//f=%s//p=%s", documentID, fileID, partitionFileName)
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

// NewMemoryRecord assembles a record with the reserved tags every stored
// partition carries. User tags are merged in by the caller afterwards.
func NewMemoryRecord(id string, vector []float32, documentID, fileID, partitionFileName string) *MemoryRecord {
	tags := NewTagCollection()
	tags.Set(TagDocumentID, documentID)
	tags.Set(TagFileID, fileID)
	tags.Set(TagFilePart, partitionFileName)
	return &MemoryRecord{
		ID:      id,
		Vector:  vector,
		Tags:    tags,
		Payload: map[string]any{},
	}
}

// Copy returns a deep copy so store internals never alias caller slices.
func (r *MemoryRecord) Copy() *MemoryRecord {
	clone := &MemoryRecord{
		ID:      r.ID,
		Tags:    r.Tags.Copy(),
		Payload: make(map[string]any, len(r.Payload)),
	}
	if r.Vector != nil {
		clone.Vector = make([]float32, len(r.Vector))
		copy(clone.Vector, r.Vector)
	}
	for k, v := range r.Payload {
		clone.Payload[k] = v
	}
	return clone
}

// DocumentID returns the originating document id from the reserved tags.
func (r *MemoryRecord) DocumentID() string {
	return r.Tags.First(TagDocumentID)
}

// FileID returns the originating file id from the reserved tags.
func (r *MemoryRecord) FileID() string {
	return r.Tags.First(TagFileID)
}

// PartitionText returns the stored partition text, "" when absent.
func (r *MemoryRecord) PartitionText() string {
	if v, ok := r.Payload[PayloadText].(string); ok {
		return v
	}
	return ""
}

// FileName returns the stored source file name, "" when absent.
func (r *MemoryRecord) FileName() string {
	if v, ok := r.Payload[PayloadFile].(string); ok {
		return v
	}
	return ""
}

// LastUpdate returns the stored record timestamp, zero when absent or
// unparsable.
func (r *MemoryRecord) LastUpdate() time.Time {
	v, ok := r.Payload[PayloadLastUpdate].(string)
	if !ok {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return ts
}
