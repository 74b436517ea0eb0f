package domain

import (
	"encoding/json"
	"time"
)

// RunStartedEvent is appended before the first vendor event of a run.
type RunStartedEvent struct {
	Type     string `json:"type"`
	RunID    string `json:"runId"`
	ThreadID string `json:"threadId"`
}

// RunCompletedEvent is appended when the vendor stream ends naturally.
type RunCompletedEvent struct {
	Type     string `json:"type"`
	RunID    string `json:"runId"`
	ThreadID string `json:"threadId"`
}

// StreamClosedEvent is written to subscribers that attach to a finished run.
type StreamClosedEvent struct {
	Type   string    `json:"type"`
	RunID  string    `json:"runId"`
	Status RunStatus `json:"status"`
}

// ErrorEvent is appended when the vendor stream fails.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewRunStarted encodes a run.started event.
func NewRunStarted(runID, threadID string) json.RawMessage {
	return mustMarshal(RunStartedEvent{Type: EventTypeRunStarted, RunID: runID, ThreadID: threadID})
}

// NewRunCompleted encodes a run.completed event.
func NewRunCompleted(runID, threadID string) json.RawMessage {
	return mustMarshal(RunCompletedEvent{Type: EventTypeRunCompleted, RunID: runID, ThreadID: threadID})
}

// NewStreamClosed encodes a stream.closed event.
func NewStreamClosed(runID string, status RunStatus) json.RawMessage {
	return mustMarshal(StreamClosedEvent{Type: EventTypeStreamClosed, RunID: runID, Status: status})
}

// NewError encodes an error event.
func NewError(message string) json.RawMessage {
	return mustMarshal(ErrorEvent{Type: EventTypeError, Message: message})
}

// EventType extracts the top-level "type" of a raw event, or "" if absent.
func EventType(raw json.RawMessage) string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return ""
	}
	return head.Type
}

// RunEvent is a persisted event of a run.
type RunEvent struct {
	RunID     string          `json:"run_id"`
	Seq       int             `json:"seq"`
	At        time.Time       `json:"at"`
	EventType string          `json:"event_type"`
	Raw       json.RawMessage `json:"raw"`
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// Only plain string fields are marshalled here.
		panic(err)
	}
	return data
}
