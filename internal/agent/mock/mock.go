// Package mock provides a scripted backend emitting Codex-shaped events.
package mock

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zhongli1990/saas-codex/internal/agent"
	"github.com/zhongli1990/saas-codex/internal/domain"
)

// Name is the runner name of the mock backend.
const Name = "mock"

// Backend is a mock agent backend for tests and local development.
type Backend struct {
	// Delay is slept between events.
	Delay time.Duration
}

// New creates a mock backend.
func New(delay time.Duration) *Backend {
	return &Backend{Delay: delay}
}

var _ agent.Backend = (*Backend)(nil)

// Name implements agent.Backend.
func (b *Backend) Name() string { return Name }

// Open implements agent.Backend.
func (b *Backend) Open(ctx context.Context, thread *domain.Thread) (agent.Handle, error) {
	return &handle{
		delay:          b.Delay,
		vendorThreadID: uuid.New().String(),
		workdir:        thread.WorkingDirectory,
	}, nil
}

type handle struct {
	delay          time.Duration
	vendorThreadID string
	workdir        string
}

type item map[string]any

// RunStreamed replays a fixed turn: a shell listing of the working directory
// followed by an agent message summarising it.
func (h *handle) RunStreamed(ctx context.Context, prompt string) (agent.Stream, error) {
	listing := listDir(h.workdir)
	events := []item{
		{"type": "thread.started", "thread_id": h.vendorThreadID},
		{"type": "turn.started"},
		{"type": "item.completed", "item": item{
			"id":   "item_0",
			"type": "reasoning",
			"text": fmt.Sprintf("Handling request: %s", prompt),
		}},
		{"type": "item.completed", "item": item{
			"id":                "item_1",
			"type":              "command_execution",
			"command":           "ls",
			"aggregated_output": listing,
			"exit_code":         0,
			"status":            "completed",
		}},
		{"type": "item.completed", "item": item{
			"id":   "item_2",
			"type": "agent_message",
			"text": fmt.Sprintf("[MOCK] Received your message: %q. The working directory contains %d entries.", prompt, strings.Count(listing, "\n")),
		}},
		{"type": "turn.completed", "usage": item{"input_tokens": len(prompt) / 4, "output_tokens": 16}},
	}

	return agent.Produce(ctx, func(ctx context.Context, emit agent.EmitFunc) error {
		for _, ev := range events {
			if h.delay > 0 {
				select {
				case <-time.After(h.delay):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if err := emit(ev); err != nil {
				return err
			}
		}
		return nil
	}), nil
}

func listDir(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, n := range names {
		b.WriteString(n)
		b.WriteByte('\n')
	}
	return b.String()
}
