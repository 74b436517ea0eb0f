package codex

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhongli1990/saas-codex/internal/domain"
)

const fakeCodex = `#!/bin/sh
echo "$@" >> "$ARGS_FILE"
echo '{"type":"thread.started","thread_id":"vendor-1"}'
echo 'warning: not json'
echo '{"type":"item.completed","item":{"id":"item_0","type":"agent_message","text":"done"}}'
echo '{"type":"turn.completed"}'
`

const failingCodex = `#!/bin/sh
echo '{"type":"thread.started","thread_id":"vendor-2"}'
echo 'model overloaded' >&2
exit 3
`

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "codex")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func collect(t *testing.T, recv func() (json.RawMessage, error)) ([]string, error) {
	t.Helper()
	var types []string
	for {
		ev, err := recv()
		if err != nil {
			if err == io.EOF {
				return types, nil
			}
			return types, err
		}
		types = append(types, domain.EventType(ev))
	}
}

func TestRunStreamedForwardsJSONLinesAndResumes(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args.txt")
	backend := New(Config{
		CLIPath: writeScript(t, fakeCodex),
		Env:     map[string]string{"ARGS_FILE": argsFile},
	})
	wd := t.TempDir()
	h, err := backend.Open(context.Background(), &domain.Thread{ThreadID: "t1", WorkingDirectory: wd, SkipGitRepoCheck: true})
	require.NoError(t, err)

	stream, err := h.RunStreamed(context.Background(), "list files")
	require.NoError(t, err)
	types, err := collect(t, stream.Recv)
	require.NoError(t, err)
	require.NoError(t, stream.Close())
	assert.Equal(t, []string{"thread.started", "item.completed", "turn.completed"}, types)

	stream, err = h.RunStreamed(context.Background(), "and again")
	require.NoError(t, err)
	_, err = collect(t, stream.Recv)
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "exec --json --skip-git-repo-check -C "+wd+" list files", lines[0])
	assert.Equal(t, "exec --json --skip-git-repo-check resume vendor-1 and again", lines[1])
}

func TestRunStreamedNonZeroExit(t *testing.T) {
	backend := New(Config{CLIPath: writeScript(t, failingCodex)})
	h, err := backend.Open(context.Background(), &domain.Thread{WorkingDirectory: t.TempDir()})
	require.NoError(t, err)

	stream, err := h.RunStreamed(context.Background(), "hi")
	require.NoError(t, err)
	defer stream.Close()

	types, err := collect(t, stream.Recv)
	assert.Equal(t, []string{"thread.started"}, types)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
	assert.NotErrorIs(t, err, context.Canceled)
}

const hangingCodex = `#!/bin/sh
echo '{"type":"thread.started","thread_id":"vendor-3"}'
exec sleep 30
`

func TestRunStreamedCancelled(t *testing.T) {
	backend := New(Config{CLIPath: writeScript(t, hangingCodex)})
	h, err := backend.Open(context.Background(), &domain.Thread{WorkingDirectory: t.TempDir()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := h.RunStreamed(ctx, "hi")
	require.NoError(t, err)
	defer stream.Close()

	ev, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "thread.started", domain.EventType(ev))

	cancel()
	_, err = stream.Recv()
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunStreamedMissingBinary(t *testing.T) {
	backend := New(Config{CLIPath: filepath.Join(t.TempDir(), "does-not-exist")})
	h, err := backend.Open(context.Background(), &domain.Thread{WorkingDirectory: t.TempDir()})
	require.NoError(t, err)

	_, err = h.RunStreamed(context.Background(), "hi")
	assert.Error(t, err)
}

func TestBuildArgsWithModel(t *testing.T) {
	s := &session{cfg: Config{Model: "gpt-5-codex"}, workdir: "/workspaces/a"}

	assert.Equal(t, []string{"exec", "--json", "-m", "gpt-5-codex", "-C", "/workspaces/a", "hi"}, s.BuildArgs("hi"))

	s.setVendorThreadID("v1")
	s.setVendorThreadID("v2")
	assert.Equal(t, []string{"exec", "--json", "-m", "gpt-5-codex", "resume", "v1", "hi"}, s.BuildArgs("hi"))
}
