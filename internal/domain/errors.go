package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidWorkspace is returned when a working directory escapes the sandbox root.
	ErrInvalidWorkspace = errors.New("workingDirectory must be under WORKSPACES_ROOT")
	// ErrThreadNotFound is returned for an unknown thread id.
	ErrThreadNotFound = errors.New("thread not found")
	// ErrRunNotFound is returned for an unknown run id.
	ErrRunNotFound = errors.New("run not found")
	// ErrSessionNotFound is returned for an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUnknownRunner is returned when no backend is registered under a runner name.
	ErrUnknownRunner = errors.New("unknown runner")
	// ErrRunNotRunning is returned when cancelling a run that already finished.
	ErrRunNotRunning = errors.New("run is not running")
)

// VendorStreamError reports a failure of the underlying agent backend.
type VendorStreamError struct {
	Runner string
	Err    error
}

func (e *VendorStreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Runner, e.Err)
}

func (e *VendorStreamError) Unwrap() error {
	return e.Err
}

// ValidationError reports a malformed request. Its message is returned to
// the client as-is.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
