// Package runs tracks in-flight agent runs and fans their events out to
// subscribers.
//
// A Run owns an append-only event buffer. The Broadcaster is the only
// writer; any number of Subscribers read. Subscribe snapshots the buffer and
// registers the subscriber under the same lock as append, so a subscriber
// sees every event exactly once: either in its snapshot or live.
package runs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/zhongli1990/saas-codex/internal/domain"
)

var errRunCancelled = errors.New("run cancelled")

// Run is one prompt submitted on a thread.
type Run struct {
	ID        string
	ThreadID  string
	SessionID string
	Runner    string
	Prompt    string
	CreatedAt time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc

	mu      sync.Mutex
	status  domain.RunStatus
	events  []json.RawMessage
	subs    map[*Subscriber]struct{}
	endedAt time.Time
	errMsg  string
}

func newRun(id string, spec Spec, now time.Time) *Run {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Run{
		ID:        id,
		ThreadID:  spec.ThreadID,
		SessionID: spec.SessionID,
		Runner:    spec.Runner,
		Prompt:    spec.Prompt,
		CreatedAt: now,
		ctx:       ctx,
		cancel:    cancel,
		status:    domain.RunStatusRunning,
		subs:      make(map[*Subscriber]struct{}),
	}
}

// Snapshot is a point-in-time view of a run.
type Snapshot struct {
	RunID      string           `json:"runId"`
	ThreadID   string           `json:"threadId"`
	SessionID  string           `json:"sessionId,omitempty"`
	Runner     string           `json:"runner,omitempty"`
	Prompt     string           `json:"prompt"`
	Status     domain.RunStatus `json:"status"`
	EventCount int              `json:"eventCount"`
	CreatedAt  time.Time        `json:"createdAt"`
	EndedAt    *time.Time       `json:"endedAt,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// Snapshot returns the current state of the run.
func (r *Run) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Snapshot{
		RunID:      r.ID,
		ThreadID:   r.ThreadID,
		SessionID:  r.SessionID,
		Runner:     r.Runner,
		Prompt:     r.Prompt,
		Status:     r.status,
		EventCount: len(r.events),
		CreatedAt:  r.CreatedAt,
		Error:      r.errMsg,
	}
	if !r.endedAt.IsZero() {
		ended := r.endedAt
		s.EndedAt = &ended
	}
	return s
}

// Status returns the current status.
func (r *Run) Status() domain.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Events returns a copy of the event buffer.
func (r *Run) Events() []json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]json.RawMessage(nil), r.events...)
}

// Subscribe returns the events so far and, while the run is still running, a
// subscriber that receives every later event. For a finished run the
// subscriber is nil.
func (r *Run) Subscribe() ([]json.RawMessage, *Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	history := append([]json.RawMessage(nil), r.events...)
	if r.status.IsTerminal() {
		return history, nil
	}
	sub := newSubscriber()
	r.subs[sub] = struct{}{}
	return history, sub
}

// Unsubscribe detaches sub. Its pending events are discarded.
func (r *Run) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	r.mu.Lock()
	delete(r.subs, sub)
	r.mu.Unlock()
	sub.close()
}

// Subscribers reports how many subscribers are attached.
func (r *Run) Subscribers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Cancel stops a running run. The run ends in error with "run cancelled".
func (r *Run) Cancel() error {
	r.mu.Lock()
	terminal := r.status.IsTerminal()
	r.mu.Unlock()
	if terminal {
		return domain.ErrRunNotRunning
	}
	r.cancel(errRunCancelled)
	return nil
}

// Done is closed once the run is cancelled or has finished.
func (r *Run) Done() <-chan struct{} {
	return r.ctx.Done()
}

func (r *Run) append(ev json.RawMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.IsTerminal() {
		return false
	}
	r.events = append(r.events, ev)
	for sub := range r.subs {
		sub.push(ev)
	}
	return true
}

// finish appends the terminal event, moves the run to status and closes
// every subscriber. Only the first call has any effect.
func (r *Run) finish(status domain.RunStatus, terminal json.RawMessage, errMsg string, now time.Time) bool {
	r.mu.Lock()
	if r.status.IsTerminal() {
		r.mu.Unlock()
		return false
	}
	r.events = append(r.events, terminal)
	r.status = status
	r.endedAt = now
	r.errMsg = errMsg
	subs := r.subs
	r.subs = make(map[*Subscriber]struct{})
	for sub := range subs {
		sub.push(terminal)
		sub.close()
	}
	r.mu.Unlock()

	r.cancel(context.Canceled)
	return true
}

func (r *Run) endedBefore(cutoff time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status.IsTerminal() && r.endedAt.Before(cutoff)
}
