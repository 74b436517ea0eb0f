// Package codex drives the Codex CLI in JSON streaming mode.
//
// A thread maps to one Codex session. The first run starts the session with
// `codex exec --json`; the session id announced in the `thread.started` event
// is then used to `resume` it on later runs. Stdout lines are forwarded
// verbatim as vendor events.
package codex

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/zhongli1990/saas-codex/internal/agent"
	"github.com/zhongli1990/saas-codex/internal/domain"
	"github.com/zhongli1990/saas-codex/internal/log"
)

// Name is the runner name of the Codex backend.
const Name = "codex"

const stderrTailSize = 4096

// Config configures the Codex CLI invocation.
type Config struct {
	// CLIPath is the codex executable; defaults to "codex".
	CLIPath string
	// Model is passed as -m when set.
	Model string
	// Env is appended to the inherited environment.
	Env map[string]string
	// ExtraArgs are appended after the built-in flags.
	ExtraArgs []string
}

// Backend starts Codex CLI processes.
type Backend struct {
	cfg Config
}

// New creates a Codex backend.
func New(cfg Config) *Backend {
	if cfg.CLIPath == "" {
		cfg.CLIPath = "codex"
	}
	return &Backend{cfg: cfg}
}

var _ agent.Backend = (*Backend)(nil)

// Name implements agent.Backend.
func (b *Backend) Name() string { return Name }

// Open implements agent.Backend. No process is started until the first run.
func (b *Backend) Open(ctx context.Context, thread *domain.Thread) (agent.Handle, error) {
	return &session{
		cfg:              b.cfg,
		workdir:          thread.WorkingDirectory,
		skipGitRepoCheck: thread.SkipGitRepoCheck,
	}, nil
}

type session struct {
	cfg              Config
	workdir          string
	skipGitRepoCheck bool

	mu             sync.Mutex
	vendorThreadID string
}

// BuildArgs builds the CLI arguments for prompt.
func (s *session) BuildArgs(prompt string) []string {
	args := []string{"exec", "--json"}
	if s.skipGitRepoCheck {
		args = append(args, "--skip-git-repo-check")
	}
	if s.cfg.Model != "" {
		args = append(args, "-m", s.cfg.Model)
	}
	args = append(args, s.cfg.ExtraArgs...)

	s.mu.Lock()
	resumeID := s.vendorThreadID
	s.mu.Unlock()

	if resumeID != "" {
		return append(args, "resume", resumeID, prompt)
	}
	return append(args, "-C", s.workdir, prompt)
}

func (s *session) setVendorThreadID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vendorThreadID == "" {
		s.vendorThreadID = id
	}
}

// RunStreamed implements agent.Handle.
func (s *session) RunStreamed(ctx context.Context, prompt string) (agent.Stream, error) {
	ctx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(ctx, s.cfg.CLIPath, s.BuildArgs(prompt)...)
	cmd.Dir = s.workdir
	cmd.Env = os.Environ()
	for k, v := range s.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	// Graceful shutdown: SIGTERM, then SIGKILL after WaitDelay.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 500 * time.Millisecond

	stderr := &tailBuffer{limit: stderrTailSize}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("codex CLI not found at %q: %w", s.cfg.CLIPath, err)
		}
		return nil, fmt.Errorf("failed to start codex: %w", err)
	}
	log.Debugf("codex started: pid=%d wd=%s", cmd.Process.Pid, s.workdir)

	return &processStream{
		session: s,
		ctx:     ctx,
		cancel:  cancel,
		cmd:     cmd,
		reader:  bufio.NewReader(stdout),
		stderr:  stderr,
	}, nil
}

type processStream struct {
	session *session
	ctx     context.Context
	cancel  context.CancelFunc
	cmd     *exec.Cmd
	reader  *bufio.Reader
	stderr  *tailBuffer

	waitOnce sync.Once
	waitErr  error
}

// Recv returns the next JSON line from stdout. Non-JSON lines are skipped.
func (p *processStream) Recv() (json.RawMessage, error) {
	for {
		line, readErr := p.reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			if json.Valid(line) {
				p.observe(line)
				return json.RawMessage(line), nil
			}
			log.Debugf("codex: skipping non-JSON output: %s", truncate(string(line), 200))
		}
		if readErr == nil {
			continue
		}
		if readErr != io.EOF {
			p.wait()
			return nil, fmt.Errorf("failed to read codex output: %w", readErr)
		}
		if err := p.wait(); err != nil {
			if ctxErr := p.ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if tail := strings.TrimSpace(p.stderr.String()); tail != "" {
				return nil, fmt.Errorf("codex exited: %w: %s", err, tail)
			}
			return nil, fmt.Errorf("codex exited: %w", err)
		}
		return nil, io.EOF
	}
}

func (p *processStream) observe(line []byte) {
	var ev struct {
		Type     string `json:"type"`
		ThreadID string `json:"thread_id"`
	}
	if err := json.Unmarshal(line, &ev); err != nil {
		return
	}
	if ev.Type == "thread.started" && ev.ThreadID != "" {
		p.session.setVendorThreadID(ev.ThreadID)
	}
}

func (p *processStream) wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
	})
	return p.waitErr
}

// Close stops the process if it is still running.
func (p *processStream) Close() error {
	p.cancel()
	p.wait()
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, b...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(b), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
