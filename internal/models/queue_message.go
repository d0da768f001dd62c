package models

import (
	"encoding/json"
	"errors"
)

// ErrNoMessage is returned when the queue is empty
var ErrNoMessage = errors.New("no messages in queue")

// PipelineMessage is the payload enqueued per step. Kept small - workers
// rehydrate the full pipeline state from the document store, so the message
// only needs to route to the right status file.
type PipelineMessage struct {
	Index      string `json:"index"`
	DocumentID string `json:"document_id"`
}

// ToJSON serializes the message for the queue.
func (m *PipelineMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// PipelineMessageFromJSON deserializes a queue payload.
func PipelineMessageFromJSON(data []byte) (*PipelineMessage, error) {
	var m PipelineMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
