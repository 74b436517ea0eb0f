// Package service ties the agent adapter, the run registry and the store
// together behind the operations the transports expose.
package service

import (
	"context"
	"sync"

	"github.com/zhongli1990/saas-codex/internal/agent"
	"github.com/zhongli1990/saas-codex/internal/agent/claude"
	"github.com/zhongli1990/saas-codex/internal/repository"
	"github.com/zhongli1990/saas-codex/internal/runs"
)

type Service struct {
	adapter     *agent.Adapter
	registry    *runs.Registry
	broadcaster *runs.Broadcaster
	store       repository.Store
	skills      *claude.Catalog

	recorders sync.WaitGroup
}

// New creates a service. skills may be nil.
func New(adapter *agent.Adapter, registry *runs.Registry, broadcaster *runs.Broadcaster, store repository.Store, skills *claude.Catalog) *Service {
	return &Service{
		adapter:     adapter,
		registry:    registry,
		broadcaster: broadcaster,
		store:       store,
		skills:      skills,
	}
}

// Runners lists the registered backends.
func (s *Service) Runners() []string {
	return s.adapter.Runners()
}

// Skills returns the global skill catalog.
func (s *Service) Skills() []claude.Skill {
	if s.skills == nil {
		return []claude.Skill{}
	}
	return s.skills.Global()
}

// Shutdown cancels every running run and waits until their recorders have
// flushed, or until ctx is done.
func (s *Service) Shutdown(ctx context.Context) error {
	for _, run := range s.registry.List() {
		_ = run.Cancel()
	}
	done := make(chan struct{})
	go func() {
		s.recorders.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
