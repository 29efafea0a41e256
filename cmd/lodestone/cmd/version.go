package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lodeworks/lodestone/pkg/version"
)

func newVersionCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			if verbose {
				fmt.Fprintln(cmd.OutOrStdout(), version.String())
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "lodestone version %s\n", version.Version)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Include commit and build date")
	return cmd
}
