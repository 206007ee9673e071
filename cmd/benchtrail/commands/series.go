package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/benchtrail/pkg/config"
	"github.com/Sumatoshi-tech/benchtrail/pkg/workspace"
)

// SeriesCommand assembles series from the cache without executing anything.
type SeriesCommand struct {
	global *GlobalOptions
	count  int
	out    outputOptions
}

// NewSeriesCommand creates the series command.
func NewSeriesCommand(global *GlobalOptions) *cobra.Command {
	sc := &SeriesCommand{global: global}

	cmd := &cobra.Command{
		Use:   "series [benchmarks...]",
		Short: "Print, export or plot cached series",
		Long: `Assemble the cached results of the last N revisions into one series per
benchmark, oldest first. Failed and missing runs are gaps. Nothing is executed.`,
		RunE: sc.run,
	}

	cmd.Flags().IntVarP(&sc.count, "count", "n", config.DefaultCount, "Number of revisions back from HEAD")
	sc.out.bind(cmd, true)

	return cmd
}

func (sc *SeriesCommand) run(cmd *cobra.Command, args []string) error {
	_, err := sc.out.parseFormat()
	if err != nil {
		return err
	}

	ws, err := workspace.Open(cmd.Context(), sc.global.Repo, sc.global.ConfigPath)
	if err != nil {
		return err
	}
	defer ws.Close()

	count := ws.Config.Orchestrator.Count
	if cmd.Flags().Changed("count") {
		count = sc.count
	}

	result, unknown, err := ws.Series(cmd.Context(), count, args)
	if err != nil {
		return err
	}

	if len(unknown) > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "Unknown benchmarks skipped: %s\n", strings.Join(unknown, ", "))
	}

	return sc.out.write(cmd.OutOrStdout(), cmd.ErrOrStderr(), result)
}
