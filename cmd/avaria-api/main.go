package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pvcarvalho/avaria-api/internal/analyzer"
	"github.com/pvcarvalho/avaria-api/internal/analyzer/claude"
	"github.com/pvcarvalho/avaria-api/internal/analyzer/gemini"
	"github.com/pvcarvalho/avaria-api/internal/config"
	"github.com/pvcarvalho/avaria-api/internal/job"
	"github.com/pvcarvalho/avaria-api/internal/platform/sqlite"
	"github.com/pvcarvalho/avaria-api/internal/progress"
	"github.com/pvcarvalho/avaria-api/internal/report"
	jobrepo "github.com/pvcarvalho/avaria-api/internal/repository/job"
	reportrepo "github.com/pvcarvalho/avaria-api/internal/repository/report"
	"github.com/pvcarvalho/avaria-api/internal/server"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.toml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}
	settings := config.NewStore(configPath, cfg)

	// Root context: cancelled on SIGINT/SIGTERM so the running analysis job
	// stops promptly during graceful shutdown.
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Open database
	db, err := sqlite.Open(cfg.Server.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	// Repositories and services
	reportSvc := report.NewService(reportrepo.NewRepository(db.DB))
	jobRepo := jobrepo.NewRepository(db.DB)

	// Analyzer registry: every provider with a configured key is available,
	// cfg.API.Provider picks the default.
	registry := analyzer.NewRegistry()
	registry.Register(gemini.New(cfg.API.GeminiAPIKey,
		gemini.WithModel(cfg.API.Model),
		gemini.WithTemperature(cfg.API.Temperature),
		gemini.WithMaxTokens(cfg.API.MaxTokens),
	))
	registry.Register(claude.New(cfg.API.AnthropicAPIKey,
		claude.WithTemperature(cfg.API.Temperature),
		claude.WithMaxTokens(cfg.API.MaxTokens),
	))

	tracker := progress.NewTracker()
	runner := job.NewRunner(rootCtx, tracker, reportSvc, jobRepo, slog.Default())

	// HTTP server — rootCtx is used as BaseContext so every request context
	// inherits from it and is cancelled on shutdown.
	srv := server.New(rootCtx, cfg.Server.Port, server.Deps{
		Reports:  reportSvc,
		Runner:   runner,
		Jobs:     jobRepo,
		Tracker:  tracker,
		Registry: registry,
		Settings: settings,
	})

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("server started", "port", cfg.Server.Port, "provider", cfg.API.Provider)
	<-done

	// Cancel root context first so the in-flight job begins winding down and
	// persists whatever it has resolved.
	rootCancel()

	// Give the runner a moment to store partial results before closing.
	deadline := time.After(10 * time.Second)
	for runner.Active() {
		select {
		case <-deadline:
			slog.Warn("job did not stop before shutdown deadline")
		case <-time.After(100 * time.Millisecond):
			continue
		}
		break
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	slog.Info("server stopped")
}
