package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/automaker/internal/config"
	"github.com/Iron-Ham/automaker/internal/engine"
	"github.com/Iron-Ham/automaker/internal/mcpserver"
)

func newServeCmd() *cobra.Command {
	var (
		auto        bool
		metricsAddr string
	)
	c := &cobra.Command{
		Use:   "serve",
		Short: "Serve the board to MCP clients over stdio",
		Long: `Start an MCP server on stdin/stdout exposing the board as tools: create
and edit features, manage dependencies, start and stop runs, approve work
and generate suggestions. Runs continue while the client is connected.`,
		Example: `  # Claude Code
  claude mcp add automaker -- automaker serve --project /path/to/project`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mcpserver.Version = Version
			o := openOptions{live: true, mutate: func(cfg *config.Config) {
				if auto {
					cfg.Engine.AutoMode = true
				}
				if metricsAddr != "" {
					cfg.Metrics.Listen = metricsAddr
				}
			}}
			return withEngine(cmd, o, func(ctx context.Context, e *engine.Engine) error {
				e.Logger().Info("mcp server starting")
				return mcpserver.Serve(e)
			})
		},
	}
	c.Flags().BoolVar(&auto, "auto", false, "start with auto mode on")
	c.Flags().StringVar(&metricsAddr, "metrics", "", "serve Prometheus metrics on this address (e.g. :9090)")
	return c
}
