// Package main is the entrypoint for the Briefly API server.
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

	"github.com/kmathur/briefly/internal/api"
	"github.com/kmathur/briefly/internal/api/handler"
	mw "github.com/kmathur/briefly/internal/api/middleware"
	"github.com/kmathur/briefly/internal/api/response"
	"github.com/kmathur/briefly/internal/cache"
	"github.com/kmathur/briefly/internal/config"
	"github.com/kmathur/briefly/internal/pipeline"
	"github.com/kmathur/briefly/internal/queue"
	"github.com/kmathur/briefly/internal/store"
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
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "ai_provider", cfg.AI.Provider, "env", cfg.Server.Env)

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

	// 5. Create job queue
	jobQueue, err := queue.NewRedisQueue(cfg.Redis.URL, queue.Options{
		MaxAttempts:       cfg.Queue.MaxAttempts,
		BackoffBase:       cfg.Queue.BackoffBase,
		FailedRetention:   cfg.Queue.FailedRetention,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		DedupeTTL:         cfg.Queue.DedupeTTL,
	})
	if err != nil {
		return fmt.Errorf("create job queue: %w", err)
	}
	defer jobQueue.Close()

	// 6. Create store and batch service
	pgStore := store.NewPostgresStore(pool)
	batchSvc := pipeline.NewBatchService(pgStore, jobQueue, redisCache,
		embeddingModel(cfg.AI), cfg.Pipeline.ChunkSize)

	// 7. Build router with dependencies
	deps := api.Dependencies{
		RateLimit: mw.NewRateLimit(redisCache, 60),

		HealthHandler:          healthHandler(pgStore, redisCache, jobQueue),
		CreateBatchHandler:     handler.NewCreateBatchHandler(batchSvc),
		GetBatchHandler:        handler.NewGetBatchHandler(batchSvc),
		ListLogsHandler:        handler.NewListLogsHandler(pgStore),
		ResourceLogsHandler:    handler.NewResourceLogsHandler(pgStore),
		ResourceSummaryHandler: handler.NewResourceSummaryHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
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

	slog.Info("server stopped gracefully")
	return nil
}

func embeddingModel(cfg config.AIConfig) string {
	if cfg.Provider == "openai" {
		return cfg.OpenAI.EmbeddingModel
	}
	return cfg.Gemini.EmbeddingModel
}

// healthHandler checks database, cache, and queue connectivity.
func healthHandler(s store.Store, c cache.Cache, q queue.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
			"queue":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}
		if err := q.Ping(r.Context()); err != nil {
			checks["queue"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok" || checks["queue"] != "ok"
		if degraded {
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
