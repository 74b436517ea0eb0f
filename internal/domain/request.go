package domain

import "encoding/json"

// CreateThreadRequest is the body of POST /threads.
type CreateThreadRequest struct {
	WorkingDirectory string `json:"workingDirectory"`
	SkipGitRepoCheck bool   `json:"skipGitRepoCheck"`
	Runner           string `json:"runner,omitempty"`
}

// CreateThreadResponse is the response of POST /threads.
type CreateThreadResponse struct {
	ThreadID string `json:"threadId"`
}

// CreateRunRequest is the body of POST /runs.
type CreateRunRequest struct {
	ThreadID string `json:"threadId"`
	Prompt   string `json:"prompt"`
}

// CreateRunResponse is the response of POST /runs.
type CreateRunResponse struct {
	RunID    string `json:"runId"`
	ThreadID string `json:"threadId,omitempty"`
}

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	WorkingDirectory string          `json:"workingDirectory"`
	RunnerType       string          `json:"runnerType,omitempty"`
	SkipGitRepoCheck bool            `json:"skipGitRepoCheck"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
}

// PromptRequest is the body of POST /sessions/:session_id/prompt.
type PromptRequest struct {
	Prompt string `json:"prompt"`
}

// AppendMessageRequest is the body of POST /sessions/:session_id/messages.
type AppendMessageRequest struct {
	Role     string          `json:"role"`
	Content  string          `json:"content"`
	RunID    string          `json:"run_id,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}
