package runs

import (
	"context"
	"encoding/json"
	"io"
	"sync"
)

// Subscriber is an unbounded FIFO mailbox for one consumer of a run.
// Pushing never blocks, so a slow consumer cannot stall the broadcaster.
type Subscriber struct {
	mu     sync.Mutex
	queue  []json.RawMessage
	closed bool
	notify chan struct{}
}

func newSubscriber() *Subscriber {
	return &Subscriber{notify: make(chan struct{}, 1)}
}

func (s *Subscriber) push(ev json.RawMessage) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.wake()
}

func (s *Subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wake()
}

func (s *Subscriber) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next returns the next event. It returns io.EOF once the subscriber is
// closed and drained, or ctx.Err() when ctx ends first.
func (s *Subscriber) Next(ctx context.Context) (json.RawMessage, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, io.EOF
		}

		select {
		case <-s.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Pending reports how many events are queued.
func (s *Subscriber) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
