package agent

import (
	"context"
	"encoding/json"
	"io"
	"sync"
)

// Stream is a lazy, single-pass sequence of vendor-native events.
// Recv returns io.EOF when the vendor signals completion; any other error
// is a vendor failure. Close releases the underlying vendor resources.
type Stream interface {
	Recv() (json.RawMessage, error)
	Close() error
}

// EmitFunc hands one event to the consumer of a produced stream.
type EmitFunc func(event any) error

// Produce runs fn in its own goroutine and exposes what it emits as a Stream.
// A nil return from fn ends the stream with io.EOF; an error ends it with that
// error. Closing the stream cancels the context passed to fn.
func Produce(ctx context.Context, fn func(ctx context.Context, emit EmitFunc) error) Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &producedStream{
		events: make(chan json.RawMessage),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go func() {
		err := fn(ctx, func(event any) error {
			raw, err := encode(event)
			if err != nil {
				return err
			}
			select {
			case s.events <- raw:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err == nil {
			err = io.EOF
		}
		s.err = err
		close(s.done)
	}()
	return s
}

type producedStream struct {
	events chan json.RawMessage
	done   chan struct{}
	err    error
	cancel context.CancelFunc
	once   sync.Once
}

func (s *producedStream) Recv() (json.RawMessage, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case <-s.done:
		return nil, s.err
	}
}

func (s *producedStream) Close() error {
	s.once.Do(s.cancel)
	return nil
}

func encode(event any) (json.RawMessage, error) {
	switch v := event.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	default:
		return json.Marshal(v)
	}
}

// SliceStream returns a Stream over a fixed list of events followed by err
// (io.EOF when err is nil).
func SliceStream(events []json.RawMessage, err error) Stream {
	if err == nil {
		err = io.EOF
	}
	return &sliceStream{events: events, err: err}
}

type sliceStream struct {
	mu     sync.Mutex
	events []json.RawMessage
	err    error
}

func (s *sliceStream) Recv() (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return nil, s.err
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

func (s *sliceStream) Close() error { return nil }
