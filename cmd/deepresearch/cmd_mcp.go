package main

import (
	"github.com/spf13/cobra"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve research tools over MCP stdio",
	Long: `Exposes deep_research and get_report as Model Context Protocol tools.
Logs go to stderr; stdout carries the protocol.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		stopWatch := followConfig()
		defer stopWatch()

		a, err := newApp(cmd.Context(), appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()
		return mcpserver.ServeStdio(mcpserver.New(a.service))
	},
}
