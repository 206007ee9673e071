package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/benchtrail/pkg/report"
)

// NewRunsCommand creates the runs command.
func NewRunsCommand(global *GlobalOptions) *cobra.Command {
	return newRunsCommandWithClock(global, time.Now)
}

func newRunsCommandWithClock(global *GlobalOptions, now func() time.Time) *cobra.Command {
	var (
		format   string
		show     string
		clearAll bool
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List past runs of this repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsed, err := report.ParseFormat(format)
			if err != nil {
				return err
			}

			repoDir, err := global.repoDir()
			if err != nil {
				return err
			}

			cfg, err := global.loadConfig(repoDir)
			if err != nil {
				return err
			}

			manager := newRecordManager(repoDir, cfg)
			out := cmd.OutOrStdout()

			if clearAll {
				err = manager.Clear()
				if err != nil {
					return err
				}

				fmt.Fprintln(out, "Run records cleared")

				return nil
			}

			if show != "" {
				rec, getErr := manager.Get(show)
				if getErr != nil {
					return getErr
				}

				return report.WriteRecord(out, rec, parsed)
			}

			records, unreadable, err := manager.List()
			if err != nil {
				return err
			}

			for _, name := range unreadable {
				fmt.Fprintf(cmd.ErrOrStderr(), "unreadable run record %s\n", name)
			}

			if len(records) == 0 && parsed == report.FormatTable {
				fmt.Fprintln(out, "No runs recorded.")

				return nil
			}

			return report.WriteRuns(out, records, now(), parsed)
		},
	}

	cmd.Flags().StringVar(&format, "format", string(report.FormatTable), "Output format: table, json, yaml")
	cmd.Flags().StringVar(&show, "show", "", "Print the record whose run id starts with this prefix")
	cmd.Flags().BoolVar(&clearAll, "clear", false, "Delete every run record of this repository")

	return cmd
}
