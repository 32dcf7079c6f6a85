/*
Copyright © 2026 James Lawson (jpl-au) <hello@caelisco.net>
*/

// mcp.go implements the "memd mcp" command: MCP server over stdio.

package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jpl-au/memd/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP server over stdio",
	Long: `Expose the memory service as Model Context Protocol tools over stdio
so an LLM assistant can store, recall and forget memories. Logging goes
to stderr; stdout is reserved for the protocol.`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(c *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(c.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mem, err := setup(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer mem.Close()

	return mcp.Serve(ctx, mem, logger)
}
