// Command runner serves the agent run API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/zhongli1990/saas-codex/internal/agent"
	"github.com/zhongli1990/saas-codex/internal/agent/claude"
	"github.com/zhongli1990/saas-codex/internal/agent/codex"
	"github.com/zhongli1990/saas-codex/internal/agent/mock"
	"github.com/zhongli1990/saas-codex/internal/config"
	"github.com/zhongli1990/saas-codex/internal/llm"
	"github.com/zhongli1990/saas-codex/internal/log"
	"github.com/zhongli1990/saas-codex/internal/metrics"
	"github.com/zhongli1990/saas-codex/internal/policy"
	"github.com/zhongli1990/saas-codex/internal/repository"
	"github.com/zhongli1990/saas-codex/internal/runs"
	"github.com/zhongli1990/saas-codex/internal/service"
	transporthttp "github.com/zhongli1990/saas-codex/internal/transport/http"
	"github.com/zhongli1990/saas-codex/internal/transport/ws"
)

func main() {
	// Load configuration
	cfg := config.Load()
	log.SetLevel(cfg.LogLevel)

	log.Infof("Starting runner...")
	log.Infof("HTTP Port: %d", cfg.HTTPPort)
	log.Infof("Database: %s", cfg.DatabaseURL)
	log.Infof("Workspaces root: %s", cfg.WorkspacesRoot)
	log.Infof("Default runner: %s", cfg.DefaultRunner)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	db, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	// Initialize policy engine
	var policyEngine *policy.Engine
	if cfg.EnableHooks {
		policyEngine, err = policy.NewEngine(ctx, policy.DefaultPolicy)
		if err != nil {
			log.Fatalf("Failed to initialize policy engine: %v", err)
		}
	}

	// Skills
	skills := claude.NewCatalog(cfg.GlobalSkillsPath)
	go func() {
		if err := skills.Watch(ctx); err != nil {
			log.Warnf("skill catalog is not watched: %v", err)
		}
	}()

	// Backends
	llmClient := llm.NewLLMClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMTimeout, cfg.Mode == config.ModeMock)
	adapter := agent.NewAdapter(cfg.WorkspacesRoot, cfg.DefaultRunner,
		codex.New(codex.Config{CLIPath: cfg.CodexPath, Model: cfg.CodexModel}),
		claude.New(claude.Config{
			Model:          cfg.LLMModel,
			MaxTurns:       cfg.MaxAgentTurns,
			WorkspacesRoot: cfg.WorkspacesRoot,
			BashTimeout:    cfg.BashTimeout,
		}, llmClient, policyEngine, skills),
		mock.New(200*time.Millisecond),
	)
	log.Infof("Runners: %v", adapter.Runners())

	// Runs
	m := metrics.New()
	registry := runs.NewRegistry(cfg.RunRetention)
	go registry.RunJanitor(ctx, cfg.JanitorInterval)
	broadcaster := runs.NewBroadcaster(cfg.RunTimeout, m)

	// Initialize service and server
	svc := service.New(adapter, registry, broadcaster, db, skills)
	if n, err := svc.RecoverRuns(ctx); err != nil {
		log.Fatalf("Failed to recover runs: %v", err)
	} else if n > 0 {
		log.Warnf("Marked %d unfinished runs as failed", n)
	}
	server := transporthttp.NewServer(svc, m, ws.Config{
		PingInterval: cfg.PingInterval,
		WriteTimeout: cfg.WriteTimeout,
		ReadTimeout:  cfg.ReadTimeout,
	})

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Infof("API started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	<-ctx.Done()
	log.Infof("Shutting down runner...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Cancelling the runs first ends the open event streams.
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Warnf("Runs still recording at shutdown: %v", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("Failed to shutdown server gracefully: %v", err)
	}

	log.Infof("Runner stopped")
}
