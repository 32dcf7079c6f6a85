/*
Copyright © 2026 James Lawson (jpl-au) <hello@caelisco.net>
*/

// root.go defines the root command and CLI execution entry point.
//
// Design: configuration and the assembled memory are built lazily in
// each subcommand rather than in a persistent pre-run, because serve and
// mcp hold the memory for their whole lifetime while one-shot commands
// (ask, search, import) build, use and close it.

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgPath   string
	indexName string
)

var rootCmd = &cobra.Command{
	Use:   "memd",
	Short: "Long-term memory service for LLM workflows",
	Long: `memd ingests documents into searchable long-term memory and answers
questions grounded in what it has stored. Runs as an HTTP service, an
MCP server for assistants, or one-shot from the command line.`,
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default: $MEMD_CONFIG)")
	rootCmd.PersistentFlags().StringVarP(&indexName, "index", "i", "", "memory index (default index when empty)")
}

// Execute runs the root command. Exit code 1 indicates error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
