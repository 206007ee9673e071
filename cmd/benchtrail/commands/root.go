// Package commands implements CLI command handlers for benchtrail.
package commands

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/benchtrail/pkg/config"
	"github.com/Sumatoshi-tech/benchtrail/pkg/observability"
	"github.com/Sumatoshi-tech/benchtrail/pkg/version"
)

// GlobalOptions are the flags shared by every command.
type GlobalOptions struct {
	ConfigPath string
	Repo       string
	Verbosity  int
}

// NewRootCommand builds the benchtrail command tree.
func NewRootCommand() *cobra.Command {
	global := &GlobalOptions{}

	root := &cobra.Command{
		Use:   "benchtrail",
		Short: "Benchmark every revision of a repository's recent history",
		Long: `benchtrail runs a repository's benchmarks against the last N first-parent
revisions, each in an isolated snapshot, caches every outcome per
(revision, benchmark) and assembles the cached outcomes into series.

Commands:
  run       Benchmark the revision window
  list      List discovered benchmarks
  series    Print, export or plot cached series
  cache     Inspect, clear or verify the result cache
  runs      List past runs
  mcp       Start the MCP server`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&global.ConfigPath, "config", "", "Config file (default: .benchtrail.yaml in the repository, CWD or $HOME)")
	root.PersistentFlags().StringVarP(&global.Repo, "repo", "r", ".", "Repository path")
	root.PersistentFlags().CountVarP(&global.Verbosity, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")

	root.AddCommand(NewRunCommand(global))
	root.AddCommand(NewListCommand(global))
	root.AddCommand(NewSeriesCommand(global))
	root.AddCommand(NewCacheCommand(global))
	root.AddCommand(NewRunsCommand(global))
	root.AddCommand(NewMCPCommand(global))
	root.AddCommand(newVersionCommand())

	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

// repoDir returns the absolute repository path.
func (g *GlobalOptions) repoDir() (string, error) {
	abs, err := filepath.Abs(g.Repo)
	if err != nil {
		return "", fmt.Errorf("resolve repository path: %w", err)
	}

	return abs, nil
}

func (g *GlobalOptions) loadConfig(repoDir string) (*config.Config, error) {
	return config.LoadConfig(g.ConfigPath, repoDir)
}

// initObservability starts the providers with logs on logOut. The returned
// function flushes them.
func (g *GlobalOptions) initObservability(
	cfg *config.Config, mode observability.AppMode, logOut io.Writer,
) (observability.Providers, func(), error) {
	providers, err := observability.InitWriter(cfg.ObservabilityConfig(version.Version, mode, g.Verbosity), logOut)
	if err != nil {
		return observability.Providers{}, nil, fmt.Errorf("init observability: %w", err)
	}

	shutdown := func() {
		shutdownErr := providers.Shutdown(context.Background())
		if shutdownErr != nil {
			providers.Logger.Warn("observability shutdown failed", "error", shutdownErr)
		}
	}

	return providers, shutdown, nil
}
