// Package repository persists sessions, messages, runs and run events.
package repository

import (
	"context"
	"time"

	"github.com/zhongli1990/saas-codex/internal/domain"
)

// Store defines the interface for data persistence.
type Store interface {
	// Session operations
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	UpdateSessionThread(ctx context.Context, sessionID, threadID string) error

	// Message operations
	CreateMessage(ctx context.Context, message *domain.Message) error
	GetMessages(ctx context.Context, sessionID string, limit int, before string) ([]domain.Message, error)

	// Run operations
	CreateRun(ctx context.Context, run *domain.RunRecord) error
	GetRun(ctx context.Context, runID string) (*domain.RunRecord, error)
	ListRuns(ctx context.Context, sessionID string) ([]domain.RunRecord, error)
	ListRunsByStatus(ctx context.Context, status domain.RunStatus) ([]domain.RunRecord, error)
	UpdateRunCompleted(ctx context.Context, runID string, status domain.RunStatus, errMsg string, completedAt time.Time) error

	// Event operations
	AppendRunEvent(ctx context.Context, event *domain.RunEvent) error
	GetRunEvents(ctx context.Context, runID string) ([]domain.RunEvent, error)

	// Lifecycle
	Close() error
}
