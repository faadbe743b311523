package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nudged/internal/mcp"
)

func (c *cli) mcpCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the daemon API as MCP tools over stdio",
		Long: `Run a Model Context Protocol server on stdin/stdout that forwards each
tool call to the nudged daemon at --server.

Register it with an MCP client as:
  nudgectl mcp --server http://127.0.0.1:9494

Logs go to stderr and are off unless --verbose is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := zap.NewNop()
			if verbose {
				l, err := zap.NewProduction()
				if err != nil {
					return fmt.Errorf("failed to create logger: %w", err)
				}
				logger = l
			}
			defer func() { _ = logger.Sync() }()

			srv, err := mcp.NewServer(&mcp.Config{
				Name:    "nudged",
				Version: version,
				Logger:  logger,
			}, c.client())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.context(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log tool calls to stderr")
	return cmd
}
