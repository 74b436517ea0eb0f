package domain

import (
	"encoding/json"
	"time"
)

// Session groups runs under one thread/workspace pairing.
type Session struct {
	SessionID        string          `json:"session_id"`
	RunnerType       string          `json:"runner_type"`
	ThreadID         string          `json:"thread_id,omitempty"`
	WorkingDirectory string          `json:"working_directory"`
	SkipGitRepoCheck bool            `json:"skip_git_repo_check"`
	CreatedAt        time.Time       `json:"created_at"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
}

// Message is one persisted conversation message.
type Message struct {
	MessageID string          `json:"message_id"`
	SessionID string          `json:"session_id"`
	RunID     string          `json:"run_id,omitempty"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// RunRecord is the persisted form of a run.
type RunRecord struct {
	RunID       string     `json:"run_id"`
	SessionID   string     `json:"session_id,omitempty"`
	ThreadID    string     `json:"thread_id"`
	Prompt      string     `json:"prompt"`
	Status      RunStatus  `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
