package domain

import "time"

// Thread is a stateful agent conversation bound to a sandboxed working directory.
type Thread struct {
	ThreadID         string    `json:"threadId"`
	WorkingDirectory string    `json:"workingDirectory"`
	Runner           string    `json:"runner"`
	SkipGitRepoCheck bool      `json:"skipGitRepoCheck"`
	CreatedAt        time.Time `json:"createdAt"`
}
