package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/benchtrail/pkg/report"
	"github.com/Sumatoshi-tech/benchtrail/pkg/workspace"
)

// NewListCommand creates the list command.
func NewListCommand(global *GlobalOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the benchmarks found in the benchmark directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsed, err := report.ParseFormat(format)
			if err != nil {
				return err
			}

			ws, err := workspace.Open(cmd.Context(), global.Repo, global.ConfigPath)
			if err != nil {
				return err
			}
			defer ws.Close()

			benches, err := ws.Benchmarks()
			if err != nil {
				return err
			}

			if len(benches) == 0 && parsed == report.FormatTable {
				fmt.Fprintln(cmd.OutOrStdout(), "No benchmarks found.")

				return nil
			}

			return report.WriteBenchmarks(cmd.OutOrStdout(), benches, parsed)
		},
	}

	cmd.Flags().StringVar(&format, "format", string(report.FormatTable), "Output format: table, json, yaml")

	return cmd
}
