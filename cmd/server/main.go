// Package main is the entrypoint for the Frazo API server.
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

	"github.com/lisperz/frazo/internal/api"
	"github.com/lisperz/frazo/internal/api/handler"
	mw "github.com/lisperz/frazo/internal/api/middleware"
	"github.com/lisperz/frazo/internal/api/response"
	"github.com/lisperz/frazo/internal/billing"
	"github.com/lisperz/frazo/internal/blob"
	"github.com/lisperz/frazo/internal/cache"
	"github.com/lisperz/frazo/internal/config"
	"github.com/lisperz/frazo/internal/notify"
	"github.com/lisperz/frazo/internal/orchestrator"
	"github.com/lisperz/frazo/internal/store"
	"github.com/lisperz/frazo/internal/vendors/ghostcut"
	"github.com/lisperz/frazo/internal/vendors/syncso"
)

const (
	shutdownTimeout = 30 * time.Second
	fetchTimeout    = 10 * time.Minute
)

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
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "workers", cfg.Worker.Count)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Blob storage for durable artifacts
	uploader, err := blob.NewS3Uploader(ctx, cfg.Blob)
	if err != nil {
		return fmt.Errorf("create blob uploader: %w", err)
	}
	slog.Info("blob storage ready", "bucket", cfg.Blob.Bucket)

	// 6. Vendor clients
	lipsync := syncso.NewClient(cfg.SyncSo)
	inpaint := ghostcut.NewClient(cfg.GhostCut)

	// 7. Orchestration
	pgStore := store.NewPostgresStore(pool)
	hub := notify.NewHub()
	settler := billing.NewPostgresSettler(pool)
	runner := orchestrator.NewRunner(
		pgStore, redisCache, lipsync, inpaint,
		uploader, blob.NewHTTPFetcher(fetchTimeout),
		hub, settler, cfg.Worker)

	scheduler := orchestrator.NewScheduler(runner, cfg.Worker)
	scheduler.Start(ctx)

	reconciler := orchestrator.NewReconciler(runner, scheduler, cfg.Worker.ReconcileInterval)
	reconciler.Start(ctx)

	// 8. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, 60)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler: healthHandler(pgStore, redisCache),

		CreateJobHandler: handler.NewCreateJobHandler(pgStore, redisCache, scheduler),
		GetJobHandler:    handler.NewGetJobHandler(pgStore),
		JobStatusHandler: handler.NewJobStatusHandler(pgStore, redisCache),
		ListJobsHandler:  handler.NewListJobsHandler(pgStore),
		CancelJobHandler: handler.NewCancelJobHandler(pgStore, redisCache),

		JobEventsHandler: handler.NewJobEventsHandler(hub),
		CreditsHandler:   handler.NewCreditsHandler(pgStore),

		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
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

	// Workers park cleanly; the reconciler resumes any in-flight vendor
	// tasks on the next start.
	scheduler.Shutdown()
	reconciler.Wait()

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		if checks["database"] != "ok" || checks["cache"] != "ok" {
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
