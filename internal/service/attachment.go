package service

import (
	"context"
	"encoding/json"
	"io"

	"github.com/zhongli1990/saas-codex/internal/domain"
	"github.com/zhongli1990/saas-codex/internal/runs"
)

// Attachment is one consumer's view of a run: the replayed history and, for
// a running run, the live tail.
type Attachment struct {
	RunID   string
	History []json.RawMessage
	// Status is the run status when the attachment was made. It is
	// RunStatusRunning exactly when Live reports true.
	Status domain.RunStatus

	run *runs.Run
	sub *runs.Subscriber
}

// Live reports whether events will follow the history.
func (a *Attachment) Live() bool {
	return a.sub != nil
}

// Next blocks for the next live event. It returns io.EOF once the run has
// finished and every event has been delivered.
func (a *Attachment) Next(ctx context.Context) (json.RawMessage, error) {
	if a.sub == nil {
		return nil, io.EOF
	}
	return a.sub.Next(ctx)
}

// Closed returns the stream.closed event for a finished run.
func (a *Attachment) Closed() json.RawMessage {
	return domain.NewStreamClosed(a.RunID, a.Status)
}

// Close detaches the live subscription.
func (a *Attachment) Close() {
	if a.run != nil {
		a.run.Unsubscribe(a.sub)
	}
}
