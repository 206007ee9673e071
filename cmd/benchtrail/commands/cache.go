package commands

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/benchtrail/pkg/report"
	"github.com/Sumatoshi-tech/benchtrail/pkg/resultcache"
	"github.com/Sumatoshi-tech/benchtrail/pkg/workspace"
)

var (
	// ErrClearNeedsFilter is returned by cache clear without a filter or --all.
	ErrClearNeedsFilter = errors.New("cache clear needs --revision, --benchmark or --all")
	// ErrCacheProblems is returned by cache verify when it found problems.
	ErrCacheProblems = errors.New("cache verification failed")
)

// keyFilter selects cache keys by revision prefix and benchmark name.
type keyFilter struct {
	revision  string
	benchmark string
}

func (f *keyFilter) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.revision, "revision", "", "Only entries whose revision starts with this prefix")
	cmd.Flags().StringVar(&f.benchmark, "benchmark", "", "Only entries of this benchmark")
}

func (f *keyFilter) empty() bool {
	return f.revision == "" && f.benchmark == ""
}

func (f *keyFilter) match(key resultcache.Key) bool {
	if f.revision != "" && !strings.HasPrefix(key.Revision, f.revision) {
		return false
	}

	return f.benchmark == "" || key.Benchmark == f.benchmark
}

// NewCacheCommand creates the cache command group.
func NewCacheCommand(global *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect, clear or verify the result cache",
	}

	cmd.AddCommand(newCacheListCommand(global, time.Now))
	cmd.AddCommand(newCacheClearCommand(global))
	cmd.AddCommand(newCacheVerifyCommand(global))

	return cmd
}

func newCacheListCommand(global *GlobalOptions, now func() time.Time) *cobra.Command {
	var (
		filter keyFilter
		format string
	)

	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List cached entries",
		Args:    cobra.NoArgs,
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

			entries, unreadable, err := ws.Entries(cmd.Context())
			if err != nil {
				return err
			}

			kept := entries[:0]

			for _, e := range entries {
				if filter.match(e.Key()) {
					kept = append(kept, e)
				}
			}

			if unreadable > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "%d unreadable entries skipped; run 'benchtrail cache verify'\n", unreadable)
			}

			return report.WriteEntries(cmd.OutOrStdout(), kept, now(), parsed)
		},
	}

	filter.bind(cmd)
	cmd.Flags().StringVar(&format, "format", string(report.FormatTable), "Output format: table, json, yaml")

	return cmd
}

func newCacheClearCommand(global *GlobalOptions) *cobra.Command {
	var (
		filter keyFilter
		all    bool
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove cached entries",
		Long: `Remove cached entries matching --revision and --benchmark, or every entry
with --all. Removed pairs are executed again by the next run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if filter.empty() && !all {
				return ErrClearNeedsFilter
			}

			ws, err := workspace.Open(cmd.Context(), global.Repo, global.ConfigPath)
			if err != nil {
				return err
			}
			defer ws.Close()

			removed, err := resultcache.ClearAll(cmd.Context(), ws.Store, func(key resultcache.Key) bool {
				return !filter.match(key)
			})

			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries\n", removed)

			return err
		},
	}

	filter.bind(cmd)
	cmd.Flags().BoolVar(&all, "all", false, "Remove every entry")

	return cmd
}

func newCacheVerifyCommand(global *GlobalOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check every entry against the entry schema",
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

			problems, err := resultcache.Verify(cmd.Context(), ws.Store)
			if err != nil {
				return err
			}

			err = report.WriteProblems(cmd.OutOrStdout(), problems, parsed)
			if err != nil {
				return err
			}

			if len(problems) > 0 {
				return fmt.Errorf("%w: %d problems", ErrCacheProblems, len(problems))
			}

			if parsed == report.FormatTable {
				fmt.Fprintln(cmd.OutOrStdout(), "Cache OK")
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", string(report.FormatTable), "Output format: table, json, yaml")

	return cmd
}
