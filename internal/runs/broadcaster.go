package runs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/zhongli1990/saas-codex/internal/agent"
	"github.com/zhongli1990/saas-codex/internal/domain"
	"github.com/zhongli1990/saas-codex/internal/log"
)

// Observer is told about run lifecycle transitions.
type Observer interface {
	RunStarted(run *Run)
	RunEvent(run *Run, eventType string)
	RunFinished(run *Run, status domain.RunStatus, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) RunStarted(*Run)                                   {}
func (nopObserver) RunEvent(*Run, string)                             {}
func (nopObserver) RunFinished(*Run, domain.RunStatus, time.Duration) {}

// OpenFunc starts the vendor stream for a run. The context is cancelled
// when the run is cancelled or times out.
type OpenFunc func(ctx context.Context) (agent.Stream, error)

// Broadcaster drives runs: it drains the vendor stream of each run in its
// own goroutine and appends every event to the run.
type Broadcaster struct {
	timeout  time.Duration
	observer Observer
	now      func() time.Time
}

// NewBroadcaster creates a broadcaster. A zero timeout lets runs last
// indefinitely; a nil observer is allowed.
func NewBroadcaster(timeout time.Duration, observer Observer) *Broadcaster {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Broadcaster{timeout: timeout, observer: observer, now: time.Now}
}

// Start appends run.started and drives the run in the background.
func (b *Broadcaster) Start(run *Run, open OpenFunc) {
	b.observer.RunStarted(run)
	b.publish(run, domain.NewRunStarted(run.ID, run.ThreadID))
	log.Infof("run started: run_id=%s thread_id=%s", run.ID, run.ThreadID)
	go b.drive(run, open)
}

func (b *Broadcaster) drive(run *Run, open OpenFunc) {
	ctx := run.ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, b.timeout, fmt.Errorf("run timed out after %s", b.timeout))
		defer cancel()
	}

	stream, err := open(ctx)
	if err != nil {
		b.fail(ctx, run, err)
		return
	}
	defer stream.Close()
	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stop()

	for {
		raw, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			if ctx.Err() != nil {
				b.fail(ctx, run, ctx.Err())
				return
			}
			b.complete(run)
			return
		}
		if err != nil {
			b.fail(ctx, run, err)
			return
		}

		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			log.Warnf("dropping malformed event: run_id=%s err=%v", run.ID, err)
			continue
		}
		b.publish(run, buf.Bytes())
	}
}

func (b *Broadcaster) publish(run *Run, ev json.RawMessage) {
	if run.append(ev) {
		b.observer.RunEvent(run, domain.EventType(ev))
	}
}

func (b *Broadcaster) complete(run *Run) {
	b.finish(run, domain.RunStatusCompleted, domain.NewRunCompleted(run.ID, run.ThreadID), "")
}

func (b *Broadcaster) fail(ctx context.Context, run *Run, err error) {
	msg := err.Error()
	if ctx.Err() != nil {
		msg = context.Cause(ctx).Error()
	}
	log.Warnf("run failed: run_id=%s err=%s", run.ID, msg)
	b.finish(run, domain.RunStatusError, domain.NewError(msg), msg)
}

func (b *Broadcaster) finish(run *Run, status domain.RunStatus, terminal json.RawMessage, errMsg string) {
	if !run.finish(status, terminal, errMsg, b.now()) {
		return
	}
	b.observer.RunEvent(run, domain.EventType(terminal))
	elapsed := b.now().Sub(run.CreatedAt)
	b.observer.RunFinished(run, status, elapsed)
	log.Infof("run finished: run_id=%s status=%s elapsed=%s", run.ID, status, elapsed)
}
