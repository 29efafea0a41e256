package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lodeworks/lodestone/internal/dispatch"
)

func newSearchCmd() *cobra.Command {
	var limit int
	var repo string
	var lookup bool

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the code index from the command line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime()
			if err != nil {
				return err
			}
			defer rt.cleanup()

			if lookup {
				result, err := rt.dispatcher.Lookup(cmd.Context(), args[0], repo)
				if err != nil {
					return err
				}
				if !result.Found {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], result.Reason)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s, %s)\n  %s:%d\n",
					result.Symbol, result.Kind, result.Language, result.DefinedIn, result.Line)
				if result.Signature != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", result.Signature)
				}
				return nil
			}

			resp, err := rt.dispatcher.Search(cmd.Context(), args[0], dispatch.SearchOptions{
				Limit: limit,
				Repo:  repo,
			})
			if err != nil {
				return err
			}
			if len(resp.Hits) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no results")
				return nil
			}
			for _, h := range resp.Hits {
				loc := h.File
				if h.Line > 0 {
					loc = fmt.Sprintf("%s:%d", h.File, h.Line)
				}
				if h.Repository != "" {
					loc = h.Repository + " " + loc
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%6.2f  %s\n        %s\n", h.Score, loc, h.Snippet)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of results")
	cmd.Flags().StringVar(&repo, "repo", "", "Search an authorized reference repository")
	cmd.Flags().BoolVar(&lookup, "symbol", false, "Resolve a symbol definition instead of searching")
	return cmd
}
