package main

import (
	"github.com/spf13/cobra"

	"github.com/pario-ai/goscli/pkg/mcp"
)

func newMCPCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start goscli as an MCP server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(g)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			var admin mcp.CacheAdmin
			if a.cache != nil {
				admin = a.cache
			}
			srv := mcp.New(admin, a.tracker, version, a.logger)
			return srv.Run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
