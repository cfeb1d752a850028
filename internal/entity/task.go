package entity

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	FieldTaskID = "task_id"
	FieldQueue  = "queue"
	FieldError  = "error"
)

// Payload is the opaque JSON object exchanged between clients, the gateway
// and workers. The gateway only owns the task_id and queue fields.
type Payload map[string]interface{}

func (p Payload) TaskID() string {
	id, _ := p[FieldTaskID].(string)
	return id
}

// Queue returns the requested queue name. ok is false when the field is
// present but not a string.
func (p Payload) Queue() (name string, ok bool) {
	raw, exists := p[FieldQueue]
	if !exists || raw == nil {
		return "", true
	}
	name, ok = raw.(string)
	return name, ok
}

// DecodePayload parses a JSON object. Arrays, scalars, null and trailing data
// are rejected. Numbers are kept as json.Number so they re-encode unchanged.
func DecodePayload(data []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var p Payload
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: payload must be a JSON object", ErrInvalidTask)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after JSON object", ErrInvalidTask)
	}
	return p, nil
}

type SubmitResponse struct {
	TaskID string `json:"task_id"`
}

type ResultResponse struct {
	TaskID string          `json:"task_id"`
	Result json.RawMessage `json:"result"`
}

// ResultEvent is emitted once a worker result has been stored.
type ResultEvent struct {
	TaskID   string `json:"task_id"`
	Queue    string `json:"queue,omitempty"`
	StoredAt int64  `json:"stored_at"`
}
