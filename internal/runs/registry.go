package runs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhongli1990/saas-codex/internal/domain"
	"github.com/zhongli1990/saas-codex/internal/log"
)

// Registry maps run ids to runs.
type Registry struct {
	retention time.Duration
	now       func() time.Time

	mu   sync.RWMutex
	runs map[string]*Run
}

// NewRegistry creates a registry. A zero retention keeps finished runs for
// the lifetime of the process.
func NewRegistry(retention time.Duration) *Registry {
	return &Registry{
		retention: retention,
		now:       time.Now,
		runs:      make(map[string]*Run),
	}
}

// Spec describes a run to create.
type Spec struct {
	ThreadID  string
	SessionID string
	Runner    string
	Prompt    string
}

// Create registers a new running run.
func (r *Registry) Create(spec Spec) *Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := newRunID()
	run := newRun(id, spec, r.now())
	r.runs[id] = run
	return run
}

func newRunID() string {
	return "run_" + uuid.New().String()
}

// Get returns the run with the given id.
func (r *Registry) Get(runID string) (*Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[runID]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	return run, nil
}

// List returns all runs ordered by creation time.
func (r *Registry) List() []*Run {
	r.mu.RLock()
	runs := make([]*Run, 0, len(r.runs))
	for _, run := range r.runs {
		runs = append(runs, run)
	}
	r.mu.RUnlock()
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.Before(runs[j].CreatedAt) })
	return runs
}

// Active counts runs that have not finished.
func (r *Registry) Active() int {
	n := 0
	for _, run := range r.List() {
		if !run.Status().IsTerminal() {
			n++
		}
	}
	return n
}

// Evict removes finished runs that ended more than the retention period
// ago. Running runs are never evicted.
func (r *Registry) Evict() int {
	if r.retention <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.retention)

	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, run := range r.runs {
		if run.endedBefore(cutoff) {
			delete(r.runs, id)
			n++
		}
	}
	return n
}

// RunJanitor evicts expired runs every interval until ctx is done.
func (r *Registry) RunJanitor(ctx context.Context, interval time.Duration) {
	if r.retention <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Evict(); n > 0 {
				log.Debugf("evicted %d finished runs", n)
			}
		}
	}
}
