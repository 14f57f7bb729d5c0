package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pitabwire/leanflow/internal/config"
	"github.com/pitabwire/leanflow/internal/mcpserver"
	"github.com/pitabwire/leanflow/internal/observability"
	"github.com/pitabwire/leanflow/internal/reasoning"
)

func newMCPCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the optimizer as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			// stdout carries the protocol.
			cfg.Observability.LogOutput = "stderr"

			logger, err := observability.NewLogger(cfg.Observability)
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			defer logger.Sync()

			a, err := buildApp(cmd.Context(), cfg, logger, format, nil)
			if err != nil {
				return err
			}
			defer a.close()
			defer a.optimizer.Wait()

			return mcpserver.New(a.optimizer, a.holder, logger).ServeStdio()
		},
	}
	cmd.Flags().StringVar(&format, "format", reasoning.FormatMarkdown, "report format: json, markdown or narrative")
	return cmd
}
