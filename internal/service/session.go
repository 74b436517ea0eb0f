package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zhongli1990/saas-codex/internal/agent"
	"github.com/zhongli1990/saas-codex/internal/domain"
	"github.com/zhongli1990/saas-codex/internal/log"
	"github.com/zhongli1990/saas-codex/internal/runs"
)

// CreateSession starts a thread for the session right away, so an invalid
// workspace or runner is reported at creation.
func (s *Service) CreateSession(ctx context.Context, req *domain.CreateSessionRequest) (*domain.Session, error) {
	thread, err := s.adapter.StartThread(ctx, req.WorkingDirectory, agent.ThreadOptions{
		Runner:           req.RunnerType,
		SkipGitRepoCheck: req.SkipGitRepoCheck,
	})
	if err != nil {
		return nil, err
	}
	session := &domain.Session{
		SessionID:        "sess_" + uuid.New().String(),
		RunnerType:       thread.Runner,
		ThreadID:         thread.ThreadID,
		WorkingDirectory: thread.WorkingDirectory,
		SkipGitRepoCheck: req.SkipGitRepoCheck,
		CreatedAt:        time.Now(),
		Metadata:         req.Metadata,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

func (s *Service) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

// PromptSession submits prompt on the session thread. A session whose
// thread the adapter no longer knows, for instance after a restart, gets a
// fresh thread on the same working directory.
func (s *Service) PromptSession(ctx context.Context, sessionID, prompt string) (*runs.Run, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, &domain.ValidationError{Message: "prompt is required"}
	}
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	thread, err := s.sessionThread(ctx, session)
	if err != nil {
		return nil, err
	}

	run := s.newRun(ctx, thread, session.SessionID, prompt)
	err = s.store.CreateMessage(ctx, &domain.Message{
		MessageID: "msg_" + uuid.New().String(),
		SessionID: session.SessionID,
		RunID:     run.ID,
		Role:      domain.RoleUser,
		Content:   prompt,
		CreatedAt: run.CreatedAt,
	})
	if err != nil {
		log.Warnf("failed to store prompt: session_id=%s run_id=%s err=%v", session.SessionID, run.ID, err)
	}
	s.start(run)
	return run, nil
}

func (s *Service) sessionThread(ctx context.Context, session *domain.Session) (*domain.Thread, error) {
	if session.ThreadID != "" {
		thread, err := s.adapter.Thread(session.ThreadID)
		if err == nil {
			return thread, nil
		}
		if !errors.Is(err, domain.ErrThreadNotFound) {
			return nil, err
		}
	}
	thread, err := s.adapter.StartThread(ctx, session.WorkingDirectory, agent.ThreadOptions{
		Runner:           session.RunnerType,
		SkipGitRepoCheck: session.SkipGitRepoCheck,
	})
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateSessionThread(ctx, session.SessionID, thread.ThreadID); err != nil {
		return nil, fmt.Errorf("failed to update session thread: %w", err)
	}
	log.Infof("session thread replaced: session_id=%s thread_id=%s", session.SessionID, thread.ThreadID)
	return thread, nil
}

// ListSessionRuns returns the persisted runs of a session.
func (s *Service) ListSessionRuns(ctx context.Context, sessionID string) ([]domain.RunRecord, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	records, err := s.store.ListRuns(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return records, nil
}
