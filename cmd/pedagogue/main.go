// Pedagogue is a course-design assistant service. It orchestrates a set of
// specialist LLM agents over persistent sessions, assembling context from
// course data, session state, and long-term memory, and exposes the workflow
// over an HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"pedagogue/internal/api"
	"pedagogue/pkg/agents"
	"pedagogue/pkg/config"
	"pedagogue/pkg/contextmgr"
	"pedagogue/pkg/courses"
	"pedagogue/pkg/eventlog"
	"pedagogue/pkg/guardrail"
	"pedagogue/pkg/llm"
	_ "pedagogue/pkg/llm/providers"
	"pedagogue/pkg/logx"
	"pedagogue/pkg/memory"
	"pedagogue/pkg/metrics"
	"pedagogue/pkg/orchestrator"
	"pedagogue/pkg/persistence"
	"pedagogue/pkg/state"
	"pedagogue/pkg/utils"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pedagogue: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger := logx.NewLogger("main")

	db, err := persistence.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	audit, err := eventlog.NewWriter(cfg.Database.EventLogDir)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer audit.Close()

	client, err := llm.NewClient(cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create llm client: %w", err)
	}

	counter, err := utils.NewTokenCounter(cfg.LLM.Model)
	if err != nil {
		return fmt.Errorf("failed to create token counter: %w", err)
	}

	recorder := metrics.NewRecorder()
	store := state.NewStore(db, audit)
	memIndex := memory.NewIndex(db)
	provider := courses.NewSQLProvider(db)
	assembler := contextmgr.NewAssembler(db, store, memIndex, provider, counter, cfg.Context)
	registry := agents.NewRegistry(client, recorder, cfg.LLM.MaxTokens, true)
	orch := orchestrator.New(db, cfg, store, assembler, registry, guardrail.NewValidator(),
		memIndex, provider, recorder)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewRouter(orch),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening on %s (provider=%s model=%s)", cfg.Server.Addr, cfg.LLM.Provider, cfg.LLM.Model)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
