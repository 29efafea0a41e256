package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lodeworks/lodestone/internal/config"
	"github.com/lodeworks/lodestone/internal/coord"
	"github.com/lodeworks/lodestone/internal/logging"
	"github.com/lodeworks/lodestone/internal/plugin"
)

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run an indexing worker",
		Long: `Runs a worker that pulls indexing jobs from the Redis priority
queues, processes them, and publishes results. Requires REDIS_URL.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd.Context())
		},
	}
	return cmd
}

func runWorker(ctx context.Context) error {
	root, err := os.Getwd()
	if err != nil {
		return err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	if cfg.Cache.RedisURL == "" {
		return fmt.Errorf("worker requires REDIS_URL")
	}

	queue, err := coord.NewQueue(ctx, cfg.Cache.RedisURL)
	if err != nil {
		return err
	}
	defer func() { _ = queue.Close() }()

	registry := plugin.NewRegistry(nil, plugin.NewBuiltinFactory(), cfg.Dispatcher.PluginLoadTimeout, nil)
	worker := coord.NewWorker(cfg.Coordinator, queue, registry, cfg.IndexDir(), nil)

	logger, cleanup, err := logging.Setup(logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      logging.WorkerLogPath(worker.ID()),
		MaxSizeMB:     10,
		MaxFiles:      3,
		WriteToStderr: true,
	})
	if err == nil {
		defer cleanup()
		slog.SetDefault(logger)
	}

	if err := os.MkdirAll(cfg.IndexDir(), 0o755); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("worker_started", slog.String("id", worker.ID()))
	if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
