// Package cmd provides the CLI commands for Lodestone.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lodeworks/lodestone/internal/cache"
	"github.com/lodeworks/lodestone/internal/config"
	"github.com/lodeworks/lodestone/internal/dispatch"
	"github.com/lodeworks/lodestone/internal/logging"
	"github.com/lodeworks/lodestone/internal/plugin"
	"github.com/lodeworks/lodestone/internal/store"
	"github.com/lodeworks/lodestone/pkg/version"
)

var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the lodestone CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lodestone",
		Short: "Code-index MCP server for AI coding assistants",
		Long: `Lodestone indexes a codebase into SQLite with FTS5 and serves
symbol lookups and ranked code search over the Model Context Protocol.

Run 'lodestone serve' in your project directory to get started.`,
		Version: version.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return cmd.Help()
			}
			return runServe(cmd.Context())
		},
	}

	cmd.SetVersionTemplate("lodestone version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.lodestone/logs/")
	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func startLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return fmt.Errorf("failed to setup debug logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Info("Debug logging enabled", slog.String("log_file", logging.DefaultLogPath()))
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// runtime bundles everything a command needs to serve or query a
// project, plus a cleanup that releases it in reverse order.
type runtime struct {
	cfg        *config.Config
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
	cleanup    func()
}

// buildRuntime assembles the store, plugin registry, cache, multi-repo
// manager, and dispatcher for the project rooted at the working
// directory.
func buildRuntime() (*runtime, error) {
	root, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}

	logger, logCleanup, err := logging.Setup(logging.Config{
		Level:     cfg.Logging.Level,
		FilePath:  logPath(cfg),
		MaxSizeMB: 10,
		MaxFiles:  5,
	})
	if err != nil {
		// MCP clients own stdout; stderr logging is the fallback.
		logger = logging.SetupStderr(cfg.Logging.Level)
		logCleanup = func() {}
	}

	if err := os.MkdirAll(cfg.IndexDir(), 0o755); err != nil {
		logCleanup()
		return nil, err
	}
	st, err := store.Open(filepath.Join(cfg.IndexDir(), store.RepoID(root)+".db"))
	if err != nil {
		logCleanup()
		return nil, err
	}

	registry := plugin.NewRegistry(nil, plugin.NewBuiltinFactory(), cfg.Dispatcher.PluginLoadTimeout, logger)

	tiered, err := cache.New(cache.Config{
		MaxEntries: cfg.Cache.MaxEntries,
		MaxBytes:   int64(cfg.Cache.MaxMB) * 1024 * 1024,
		DefaultTTL: cfg.Cache.DefaultTTL,
		RedisURL:   cfg.Cache.RedisURL,
		Dir:        cfg.CacheDir(),
		Logger:     logger,
	})
	if err != nil {
		logger.Warn("cache_disabled", slog.String("error", err.Error()))
		tiered = nil
	}
	var queries *cache.QueryCache
	if tiered != nil {
		queries = cache.NewQueryCache(tiered)
	}

	var multi *dispatch.MultiRepoManager
	if len(cfg.Dispatcher.AuthorizedRepos) > 0 {
		multi = dispatch.NewMultiRepoManager(
			cfg.Dispatcher.AuthorizedRepos,
			cfg.IndexSearchPaths(),
			cfg.Dispatcher.MultiRepoTimeout,
			cfg.Dispatcher.LocalFallbackTimeout,
		)
	}

	dispatcher, err := dispatch.New(cfg, st, registry, root, dispatch.Options{
		Queries: queries,
		Multi:   multi,
		Logger:  logger,
	})
	if err != nil {
		_ = st.Close()
		logCleanup()
		return nil, err
	}

	return &runtime{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logger,
		cleanup: func() {
			dispatcher.Shutdown()
			logCleanup()
		},
	}, nil
}

func logPath(cfg *config.Config) string {
	if cfg.Logging.File != "" {
		return cfg.Logging.File
	}
	return logging.DefaultLogPath()
}
