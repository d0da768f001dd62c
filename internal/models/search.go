package models

import "time"

// SearchResult is the outcome of a similarity search, grouped by source
// document.
type SearchResult struct {
	Query    string      `json:"query"`
	Index    string      `json:"index"`
	NoResult bool        `json:"no_result"`
	Results  []*Citation `json:"results"`
}

// Citation points back at one document and the partitions that matched.
type Citation struct {
	Index          string       `json:"index"`
	DocumentID     string       `json:"document_id"`
	FileID         string       `json:"file_id"`
	SourceName     string       `json:"source_name"`
	SourceURL      string       `json:"source_url,omitempty"`
	SourceMimeType string       `json:"source_mime_type,omitempty"`
	Partitions     []*Partition `json:"partitions"`
}

// Partition is one matched chunk of text inside a citation.
type Partition struct {
	Text            string        `json:"text"`
	Relevance       float32       `json:"relevance"`
	PartitionNumber int           `json:"partition_number"`
	SectionNumber   int           `json:"section_number"`
	LastUpdate      time.Time     `json:"last_update"`
	Tags            TagCollection `json:"tags,omitempty"`
}

// StreamState marks the role of one event in a streaming answer.
type StreamState string

const (
	StreamError  StreamState = "error"
	StreamReset  StreamState = "reset"
	StreamAppend StreamState = "append"
	StreamLast   StreamState = "last"
)

// MemoryAnswer is the outcome of a grounded-generation query. In streaming
// mode the first event carries the question, Append events carry text
// fragments and the Last event carries the full RelevantSources list.
type MemoryAnswer struct {
	StreamState     StreamState `json:"stream_state,omitempty"`
	Question        string      `json:"question"`
	Index           string      `json:"index"`
	NoResult        bool        `json:"no_result"`
	NoResultReason  string      `json:"no_result_reason,omitempty"`
	Text            string      `json:"text"`
	RelevantSources []*Citation `json:"relevant_sources"`
}
