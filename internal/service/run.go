package service

import (
	"context"
	"errors"
	"strings"

	"github.com/zhongli1990/saas-codex/internal/agent"
	"github.com/zhongli1990/saas-codex/internal/domain"
	"github.com/zhongli1990/saas-codex/internal/log"
	"github.com/zhongli1990/saas-codex/internal/runs"
	"github.com/zhongli1990/saas-codex/internal/transcript"
)

// CreateThread starts a thread bound to a working directory.
func (s *Service) CreateThread(ctx context.Context, req *domain.CreateThreadRequest) (*domain.Thread, error) {
	return s.adapter.StartThread(ctx, req.WorkingDirectory, agent.ThreadOptions{
		Runner:           req.Runner,
		SkipGitRepoCheck: req.SkipGitRepoCheck,
	})
}

// CreateRun submits a prompt on an existing thread.
func (s *Service) CreateRun(ctx context.Context, req *domain.CreateRunRequest) (*runs.Run, error) {
	if strings.TrimSpace(req.ThreadID) == "" || strings.TrimSpace(req.Prompt) == "" {
		return nil, &domain.ValidationError{Message: "threadId and prompt are required"}
	}
	thread, err := s.adapter.Thread(req.ThreadID)
	if err != nil {
		return nil, err
	}
	run := s.newRun(ctx, thread, "", req.Prompt)
	s.start(run)
	return run, nil
}

// newRun registers a run and persists its row. When the row is stored a
// recorder is attached before any event can be appended.
func (s *Service) newRun(ctx context.Context, thread *domain.Thread, sessionID, prompt string) *runs.Run {
	run := s.registry.Create(runs.Spec{
		ThreadID:  thread.ThreadID,
		SessionID: sessionID,
		Runner:    thread.Runner,
		Prompt:    prompt,
	})
	record := &domain.RunRecord{
		RunID:     run.ID,
		SessionID: sessionID,
		ThreadID:  thread.ThreadID,
		Prompt:    prompt,
		Status:    domain.RunStatusRunning,
		StartedAt: run.CreatedAt,
	}
	if err := s.store.CreateRun(ctx, record); err != nil {
		log.Warnf("run will not be persisted: run_id=%s err=%v", run.ID, err)
		return run
	}
	_, sub := run.Subscribe()
	s.recorders.Add(1)
	go s.record(run, sub)
	return run
}

func (s *Service) start(run *runs.Run) {
	threadID, prompt := run.ThreadID, run.Prompt
	s.broadcaster.Start(run, func(ctx context.Context) (agent.Stream, error) {
		return s.adapter.RunStreamed(ctx, threadID, prompt)
	})
}

// GetRun returns a snapshot of a live run, or of the persisted record once
// the run has been evicted.
func (s *Service) GetRun(ctx context.Context, runID string) (*runs.Snapshot, error) {
	if run, err := s.registry.Get(runID); err == nil {
		snap := run.Snapshot()
		return &snap, nil
	}
	record, events, err := s.storedRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &runs.Snapshot{
		RunID:      record.RunID,
		ThreadID:   record.ThreadID,
		SessionID:  record.SessionID,
		Prompt:     record.Prompt,
		Status:     record.Status,
		EventCount: len(events),
		CreatedAt:  record.StartedAt,
		EndedAt:    record.CompletedAt,
		Error:      record.Error,
	}, nil
}

// CancelRun cancels a running run.
func (s *Service) CancelRun(ctx context.Context, runID string) error {
	run, err := s.registry.Get(runID)
	if err == nil {
		return run.Cancel()
	}
	if _, err := s.store.GetRun(ctx, runID); err != nil {
		return err
	}
	return domain.ErrRunNotRunning
}

// Transcript normalizes the events of a run.
func (s *Service) Transcript(ctx context.Context, runID string) ([]transcript.Message, error) {
	if run, err := s.registry.Get(runID); err == nil {
		return transcript.Normalize(run.Events()), nil
	}
	_, events, err := s.storedRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return transcript.Normalize(events), nil
}

// Attach returns the events of a run so far and, while it is running, a live
// subscription to the rest. Evicted runs are replayed from the store.
func (s *Service) Attach(ctx context.Context, runID string) (*Attachment, error) {
	run, err := s.registry.Get(runID)
	if err == nil {
		history, sub := run.Subscribe()
		status := domain.RunStatusRunning
		if sub == nil {
			status = run.Status()
		}
		return &Attachment{RunID: runID, History: history, Status: status, run: run, sub: sub}, nil
	}
	if !errors.Is(err, domain.ErrRunNotFound) {
		return nil, err
	}

	record, events, err := s.storedRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &Attachment{RunID: runID, History: events, Status: record.Status}, nil
}
