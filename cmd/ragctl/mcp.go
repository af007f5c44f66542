package main

import (
	"github.com/spf13/cobra"

	"rag-sync-go/pkg/log"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdin/stdout",
	Long: `Serve the MCP tools over stdin/stdout so that an MCP client can
launch ragctl as a subprocess. Logs must go to a file or stderr in this mode.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		log.Info("[ragctl] MCP stdio 服务启动")
		return app.MCP.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
