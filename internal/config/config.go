// Package config provides configuration for the runner service.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// EnvRunnerMode is the environment variable name for mode selection.
	EnvRunnerMode = "RUNNER_MODE"
	// ModeMock forces the mock backend as the default runner.
	ModeMock = "MOCK"
)

// Config holds the runner configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Sandbox root every working directory must resolve under
	WorkspacesRoot string

	// Backends
	DefaultRunner string
	Mode          string
	CodexPath     string
	CodexModel    string

	// Claude-style backend
	LLMBaseURL       string
	LLMAPIKey        string
	LLMModel         string
	LLMTimeout       time.Duration
	MaxAgentTurns    int
	EnableHooks      bool
	GlobalSkillsPath string
	BashTimeout      time.Duration

	// Run lifecycle
	RunTimeout      time.Duration
	RunRetention    time.Duration
	JanitorInterval time.Duration

	// WebSocket settings
	PingInterval time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:         getEnvInt("HTTP_PORT", 8081),
		DatabaseURL:      getEnv("DATABASE_URL", "file:runner.db?cache=shared&mode=rwc"),
		WorkspacesRoot:   getEnv("WORKSPACES_ROOT", "/workspaces"),
		DefaultRunner:    getEnv("DEFAULT_RUNNER", "codex"),
		Mode:             strings.ToUpper(getEnv(EnvRunnerMode, "")),
		CodexPath:        getEnv("CODEX_PATH", "codex"),
		CodexModel:       getEnv("CODEX_MODEL", ""),
		LLMBaseURL:       getEnv("LLM_BASE_URL", "http://localhost:4000"),
		LLMAPIKey:        getEnv("LLM_API_KEY", ""),
		LLMModel:         getEnv("LLM_MODEL", "claude-sonnet-4-20250514"),
		LLMTimeout:       getEnvMs("LLM_TIMEOUT_MS", 300000),
		MaxAgentTurns:    getEnvInt("MAX_AGENT_TURNS", 20),
		EnableHooks:      getEnvBool("ENABLE_HOOKS", true),
		GlobalSkillsPath: getEnv("GLOBAL_SKILLS_PATH", "/app/skills"),
		BashTimeout:      getEnvMs("BASH_TIMEOUT_MS", 60000),
		RunTimeout:       getEnvMs("RUN_TIMEOUT_MS", 0),
		RunRetention:     getEnvMs("RUN_RETENTION_MS", 0),
		JanitorInterval:  getEnvMs("RUN_JANITOR_INTERVAL_MS", 60000),
		PingInterval:     getEnvMs("WS_PING_INTERVAL_MS", 30000),
		WriteTimeout:     getEnvMs("WS_WRITE_TIMEOUT_MS", 10000),
		ReadTimeout:      getEnvMs("WS_READ_TIMEOUT_MS", 60000),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}
	if cfg.Mode == ModeMock {
		cfg.DefaultRunner = "mock"
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvMs(key string, defaultMs int) time.Duration {
	return time.Duration(getEnvInt(key, defaultMs)) * time.Millisecond
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
