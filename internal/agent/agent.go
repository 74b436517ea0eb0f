// Package agent wraps vendor agent backends behind a thread/run contract.
//
// An Adapter owns the thread table. Each thread is bound to a working
// directory under the sandbox root and to the vendor handle opened by the
// backend that serves it. Callers only ever see thread ids.
package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhongli1990/saas-codex/internal/domain"
	"github.com/zhongli1990/saas-codex/internal/log"
	"github.com/zhongli1990/saas-codex/internal/sandbox"
)

// Backend opens vendor handles for threads.
type Backend interface {
	// Name is the runner name clients select the backend by.
	Name() string
	// Open creates the vendor-side state for a thread.
	Open(ctx context.Context, thread *domain.Thread) (Handle, error)
}

// Handle is the vendor-side state of one thread.
type Handle interface {
	// RunStreamed submits prompt and returns the resulting event stream.
	RunStreamed(ctx context.Context, prompt string) (Stream, error)
}

// ThreadOptions tune thread creation.
type ThreadOptions struct {
	// Runner selects the backend; empty selects the default runner.
	Runner           string
	SkipGitRepoCheck bool
}

type threadEntry struct {
	thread *domain.Thread
	handle Handle
}

// Adapter is the thread table plus the registered backends.
type Adapter struct {
	root          string
	defaultRunner string
	backends      map[string]Backend

	mu      sync.RWMutex
	threads map[string]*threadEntry
}

// NewAdapter creates an adapter confined to root.
func NewAdapter(root, defaultRunner string, backends ...Backend) *Adapter {
	a := &Adapter{
		root:          root,
		defaultRunner: defaultRunner,
		backends:      make(map[string]Backend, len(backends)),
		threads:       make(map[string]*threadEntry),
	}
	for _, b := range backends {
		a.backends[b.Name()] = b
	}
	return a
}

// Root returns the sandbox root.
func (a *Adapter) Root() string {
	return a.root
}

// Runners lists the registered runner names.
func (a *Adapter) Runners() []string {
	names := make([]string, 0, len(a.backends))
	for name := range a.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StartThread validates workingDirectory against the sandbox root and opens a
// vendor handle for it. The sandbox check happens before any backend call.
func (a *Adapter) StartThread(ctx context.Context, workingDirectory string, opts ThreadOptions) (*domain.Thread, error) {
	wd, err := sandbox.Resolve(a.root, workingDirectory)
	if err != nil {
		return nil, err
	}

	runner := opts.Runner
	if runner == "" {
		runner = a.defaultRunner
	}
	backend, ok := a.backends[runner]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownRunner, runner)
	}

	thread := &domain.Thread{
		ThreadID:         uuid.New().String(),
		WorkingDirectory: wd,
		Runner:           runner,
		SkipGitRepoCheck: opts.SkipGitRepoCheck,
		CreatedAt:        time.Now(),
	}
	handle, err := backend.Open(ctx, thread)
	if err != nil {
		return nil, &domain.VendorStreamError{Runner: runner, Err: err}
	}

	a.mu.Lock()
	a.threads[thread.ThreadID] = &threadEntry{thread: thread, handle: handle}
	a.mu.Unlock()

	log.Infof("thread started: thread_id=%s runner=%s wd=%s", thread.ThreadID, runner, wd)
	return thread, nil
}

// Thread returns a copy of the thread record.
func (a *Adapter) Thread(threadID string) (*domain.Thread, error) {
	a.mu.RLock()
	entry, ok := a.threads[threadID]
	a.mu.RUnlock()
	if !ok {
		return nil, domain.ErrThreadNotFound
	}
	t := *entry.thread
	return &t, nil
}

// RunStreamed submits prompt on the thread's vendor handle.
func (a *Adapter) RunStreamed(ctx context.Context, threadID, prompt string) (Stream, error) {
	a.mu.RLock()
	entry, ok := a.threads[threadID]
	a.mu.RUnlock()
	if !ok {
		return nil, domain.ErrThreadNotFound
	}

	stream, err := entry.handle.RunStreamed(ctx, prompt)
	if err != nil {
		return nil, &domain.VendorStreamError{Runner: entry.thread.Runner, Err: err}
	}
	return stream, nil
}
