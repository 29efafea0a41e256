package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index health and plugin state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := buildRuntime()
			if err != nil {
				return err
			}
			defer rt.cleanup()

			status := rt.dispatcher.HealthCheck(cmd.Context())

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Status:   %s (%s mode)\n", status.Status, status.Mode)
			fmt.Fprintf(out, "Index:    %d files, %d symbols, %d documents\n",
				status.Index.Files, status.Index.Symbols, status.Index.Documents)
			if !status.Index.LastIndexed.IsZero() {
				fmt.Fprintf(out, "Indexed:  %s\n", status.Index.LastIndexed.Format("2006-01-02 15:04:05"))
			}
			fmt.Fprintf(out, "Plugins:  %s\n", strings.Join(status.Languages.Loaded, ", "))
			if len(status.Languages.Skipped) > 0 {
				for lang, reason := range status.Languages.Skipped {
					fmt.Fprintf(out, "  skipped %s: %s\n", lang, reason)
				}
			}
			if status.Validation != nil && !status.Validation.Valid {
				fmt.Fprintf(out, "Warning:  index may be stale (%s)\n",
					strings.Join(status.Validation.Issues, "; "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the full status as JSON")
	return cmd
}
