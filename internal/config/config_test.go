package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 8081, cfg.HTTPPort)
	assert.Equal(t, "/workspaces", cfg.WorkspacesRoot)
	assert.Equal(t, "codex", cfg.DefaultRunner)
	assert.Equal(t, 20, cfg.MaxAgentTurns)
	assert.True(t, cfg.EnableHooks)
	assert.Equal(t, time.Minute, cfg.BashTimeout)
	assert.Zero(t, cfg.RunTimeout)
	assert.Zero(t, cfg.RunRetention)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("WORKSPACES_ROOT", "/srv/ws")
	t.Setenv("ENABLE_HOOKS", "false")
	t.Setenv("RUN_TIMEOUT_MS", "1500")
	t.Setenv("MAX_AGENT_TURNS", "not-a-number")

	cfg := Load()

	assert.Equal(t, 9000, cfg.HTTPPort)
	assert.Equal(t, "/srv/ws", cfg.WorkspacesRoot)
	assert.False(t, cfg.EnableHooks)
	assert.Equal(t, 1500*time.Millisecond, cfg.RunTimeout)
	assert.Equal(t, 20, cfg.MaxAgentTurns)
}

func TestLoadMockModeOverridesDefaultRunner(t *testing.T) {
	t.Setenv(EnvRunnerMode, "mock")
	t.Setenv("DEFAULT_RUNNER", "claude")

	cfg := Load()

	assert.Equal(t, ModeMock, cfg.Mode)
	assert.Equal(t, "mock", cfg.DefaultRunner)
}
