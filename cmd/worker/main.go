// Package main is the entrypoint for the Briefly pipeline worker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kmathur/briefly/internal/ai"
	"github.com/kmathur/briefly/internal/config"
	"github.com/kmathur/briefly/internal/fetch"
	"github.com/kmathur/briefly/internal/pipeline"
	"github.com/kmathur/briefly/internal/queue"
	"github.com/kmathur/briefly/internal/search"
	"github.com/kmathur/briefly/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
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

	// 4. Create job queue
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

	if err := jobQueue.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create AI provider
	aiProvider, err := ai.NewProvider(cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI provider: %w", err)
	}
	slog.Info("AI provider initialized", "provider", aiProvider.Name())

	// 6. Assemble the pipeline
	pgStore := store.NewPostgresStore(pool)
	fetcher := fetch.NewFetcher(cfg.Pipeline.FetchTimeout)
	searcher := search.NewSearcher(aiProvider, pgStore)
	pipe := pipeline.New(pgStore, jobQueue, aiProvider, fetcher, searcher, cfg.Pipeline)

	// 7. Run until shutdown; in-flight jobs drain before exit
	worker := pipeline.NewWorker(jobQueue, pipe, cfg.Queue.Concurrency)
	worker.Run(ctx)

	return nil
}
