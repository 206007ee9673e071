package commands

import (
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/benchtrail/pkg/mcp"
	"github.com/Sumatoshi-tech/benchtrail/pkg/observability"
)

// NewMCPCommand creates the MCP server command.
func NewMCPCommand(global *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start MCP server for AI agent integration",
		Long: `Start a Model Context Protocol (MCP) server on stdio transport.

The server exposes read-only tools over benchtrail result caches:
  - list_benchmarks: benchmarks discovered in a repository
  - get_series: cached series of the last N revisions
  - cache_status: entry counts and optional schema verification`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repoDir, err := global.repoDir()
			if err != nil {
				return err
			}

			cfg, err := global.loadConfig(repoDir)
			if err != nil {
				return err
			}

			cfg.Log.JSON = true

			providers, shutdown, err := global.initObservability(cfg, observability.ModeMCP, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer shutdown()

			red, err := observability.NewREDMetrics(providers.Meter)
			if err != nil {
				return err
			}

			srv := mcp.NewServer(mcp.ServerDeps{
				Logger:     providers.Logger,
				Metrics:    red,
				Tracer:     providers.Tracer,
				ConfigPath: global.ConfigPath,
			})

			return srv.Run(cmd.Context())
		},
	}
}
