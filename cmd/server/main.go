// Package main is the entrypoint for the filegen API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/paybridge/filegen/internal/api"
	"github.com/paybridge/filegen/internal/api/handler"
	mw "github.com/paybridge/filegen/internal/api/middleware"
	"github.com/paybridge/filegen/internal/api/response"
	"github.com/paybridge/filegen/internal/config"
	"github.com/paybridge/filegen/internal/generator"
	"github.com/paybridge/filegen/internal/jobs"
	"github.com/paybridge/filegen/internal/store"
	"github.com/paybridge/filegen/internal/stream"
	"github.com/paybridge/filegen/internal/sweeper"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	// 1. Load config and fail fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env,
		"max_concurrent_jobs", cfg.Jobs.MaxConcurrent,
		"retention_days", cfg.Jobs.RetentionDays)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open the durable job store
	jobStore := store.NewFileStore(cfg.Jobs.StoreDir)
	if err := jobStore.Init(); err != nil {
		return fmt.Errorf("init job store: %w", err)
	}
	if err := os.MkdirAll(cfg.Jobs.OutputRoot, 0o755); err != nil {
		return fmt.Errorf("create output root: %w", err)
	}
	slog.Info("job store ready", "dir", cfg.Jobs.StoreDir)

	// 3. Build the generation adapters
	rowGen, err := generator.NewRowGenerator(cfg.RowGen)
	if err != nil {
		return fmt.Errorf("create row generator: %w", err)
	}
	translator, err := generator.NewReportTranslator(cfg.Translator)
	if err != nil {
		return fmt.Errorf("create report translator: %w", err)
	}
	slog.Info("adapters initialized", "row_generator", rowGen.Name(), "translator", translator.Name())

	// 4. Wire the job manager and notification hub
	hub := stream.NewHub()
	manager := jobs.NewManager(jobs.Options{
		Store:         jobStore,
		RowGenerator:  rowGen,
		Translator:    translator,
		Hub:           hub,
		OutputRoot:    cfg.Jobs.OutputRoot,
		MaxConcurrent: cfg.Jobs.MaxConcurrent,
		RetentionDays: cfg.Jobs.RetentionDays,
		StageDelay:    cfg.Jobs.StageDelay,
	})

	// 5. Warm restart: reload persisted jobs and reschedule pending work
	if cfg.Jobs.WarmRestart {
		if err := manager.Restore(ctx); err != nil {
			return fmt.Errorf("restore jobs: %w", err)
		}
	}

	// 6. Start the retention sweeper
	sw := sweeper.New(manager, cfg.Jobs.SweepInterval)
	if err := sw.Start(); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}
	defer sw.Stop()

	// 7. Build router with dependencies
	deps := api.Dependencies{
		RateLimit: mw.NewRateLimit(cfg.Server.RateLimitRPS),

		HealthHandler:   healthHandler(cfg.Jobs.StoreDir, cfg.Jobs.OutputRoot),
		SubmitHandler:   handler.NewSubmitHandler(manager, cfg.Jobs.SyncRowLimit),
		ListJobsHandler: handler.NewListJobsHandler(manager),
		GetJobHandler:   handler.NewGetJobHandler(manager),
		CancelHandler:   handler.NewCancelJobHandler(manager),
		EventsHandler:   handler.NewEventsHandler(manager),
		DownloadHandler: handler.NewDownloadHandler(manager),
		SweepHandler:    handler.NewSweepHandler(manager),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: the event stream holds connections open for
		// the lifetime of a job.
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks that the store and output directories are writable.
func healthHandler(storeDir, outputRoot string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"store":  "ok",
			"output": "ok",
		}

		if err := probeDir(storeDir); err != nil {
			checks["store"] = "degraded"
		}
		if err := probeDir(outputRoot); err != nil {
			checks["output"] = "degraded"
		}

		if checks["store"] != "ok" || checks["output"] != "ok" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}

func probeDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return err
	}
	f.Close()
	return os.Remove(f.Name())
}
