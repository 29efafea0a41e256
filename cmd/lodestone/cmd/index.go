package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/lodeworks/lodestone/internal/coord"
)

func newIndexCmd() *cobra.Command {
	var force bool
	var distributed bool
	var priority string

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a directory into the local store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) > 0 {
				path = args[0]
			}
			if distributed {
				return runIndexDistributed(cmd, path, priority)
			}
			return runIndexLocal(cmd, path, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Re-ingest files even when content hashes are unchanged")
	cmd.Flags().BoolVar(&distributed, "distributed", false, "Submit jobs to the worker pool instead of indexing in-process")
	cmd.Flags().StringVar(&priority, "priority", "normal", "Job priority: low, normal, high, urgent")
	return cmd
}

func runIndexLocal(cmd *cobra.Command, path string, force bool) error {
	rt, err := buildRuntime()
	if err != nil {
		return err
	}
	defer rt.cleanup()

	summary, err := rt.dispatcher.IndexDirectory(cmd.Context(), path, force)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d/%d files (%d ignored, %d failed)\n",
		summary.IndexedFiles, summary.TotalFiles, summary.IgnoredFiles, summary.FailedFiles)

	langs := make([]string, 0, len(summary.ByLanguage))
	for lang := range summary.ByLanguage {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	for _, lang := range langs {
		fmt.Fprintf(cmd.OutOrStdout(), "  %-12s %d\n", lang, summary.ByLanguage[lang])
	}
	return nil
}

func runIndexDistributed(cmd *cobra.Command, path, priority string) error {
	rt, err := buildRuntime()
	if err != nil {
		return err
	}
	defer rt.cleanup()

	if rt.cfg.Cache.RedisURL == "" {
		return fmt.Errorf("distributed indexing requires REDIS_URL")
	}
	queue, err := coord.NewQueue(cmd.Context(), rt.cfg.Cache.RedisURL)
	if err != nil {
		return err
	}
	defer func() { _ = queue.Close() }()

	coordinator, err := coord.NewCoordinator(rt.cfg.Coordinator, queue, rt.logger)
	if err != nil {
		return err
	}

	if path == "" {
		path = rt.dispatcher.RootPath()
	}
	jobs, err := coordinator.SubmitRepository(cmd.Context(), path, coord.Priority(priority))
	if err != nil {
		return err
	}

	total := 0
	for _, job := range jobs {
		total += len(job.Files)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Submitted %d jobs (%d files) at priority %s\n",
		len(jobs), total, priority)
	return nil
}
