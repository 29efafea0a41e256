package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lodeworks/lodestone/internal/mcp"
	"github.com/lodeworks/lodestone/internal/watcher"
)

func newServeCmd() *cobra.Command {
	var noWatch bool
	var reindex bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the MCP tool surface over stdio",
		Long: `Starts the MCP server on stdio. Stdout carries JSON-RPC
exclusively; diagnostics go to the log file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeOptions(cmd.Context(), noWatch, reindex)
		},
	}

	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Disable the file watcher")
	cmd.Flags().BoolVar(&reindex, "reindex", false, "Force a full reindex before serving")
	return cmd
}

func runServe(ctx context.Context) error {
	return runServeOptions(ctx, false, false)
}

func runServeOptions(ctx context.Context, noWatch, reindex bool) error {
	rt, err := buildRuntime()
	if err != nil {
		return err
	}
	defer rt.cleanup()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := rt.dispatcher.IndexDirectory(ctx, "", reindex)
	if err != nil {
		rt.logger.Error("initial_index_failed", slog.String("error", err.Error()))
		return err
	}
	rt.logger.Info("initial_index_complete",
		slog.Int("indexed", summary.IndexedFiles),
		slog.Int("total", summary.TotalFiles))

	if !noWatch {
		w, werr := watcher.New(rt.dispatcher.RootPath(), func(ev watcher.Event) {
			if ev.Removed {
				rt.dispatcher.InvalidatePath(context.Background(), ev.Path)
				return
			}
			if _, ierr := rt.dispatcher.IndexFile(context.Background(), ev.Path, false); ierr != nil {
				rt.logger.Debug("watch_reindex_failed",
					slog.String("path", ev.Path),
					slog.String("error", ierr.Error()))
			}
		}, rt.logger)
		if werr != nil {
			rt.logger.Warn("watcher_disabled", slog.String("error", werr.Error()))
		} else {
			go w.Run(ctx)
			defer func() { _ = w.Close() }()
		}
	}

	server, err := mcp.NewServer(rt.dispatcher, rt.logger)
	if err != nil {
		return err
	}
	if err := server.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
