/*
Copyright © 2026 James Lawson (jpl-au) <hello@caelisco.net>
*/

// status.go implements the "memd status" command.

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <documentId>",
	Short: "Show a document's ingestion progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(c *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx := c.Context()
	mem, err := setup(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer mem.Close()

	st, err := mem.Status(ctx, indexName, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("document:  %s\n", st.DocumentID)
	fmt.Printf("index:     %s\n", st.Index)
	fmt.Printf("steps:     %s\n", strings.Join(st.Steps, " -> "))
	fmt.Printf("completed: %s\n", strings.Join(st.CompletedSteps, " "))
	switch {
	case st.Failed():
		fmt.Printf("state:     failed (%s)\n", st.TerminalError)
	case st.Complete():
		fmt.Println("state:     ready")
	default:
		fmt.Printf("state:     ingesting (next %s)\n", st.NextStep())
	}
	if st.FailedAttempts > 0 {
		fmt.Printf("retries:   %d\n", st.FailedAttempts)
	}
	return nil
}
