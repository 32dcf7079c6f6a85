/*
Copyright © 2026 James Lawson (jpl-au) <hello@caelisco.net>
*/

// rm.go implements the "memd rm" command: document deletion.

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rmCmd = &cobra.Command{
	Use:   "rm <documentId>",
	Short: "Forget a document",
	Long:  `Delete a document's records, files and pipeline state from memory.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runRm,
}

func init() {
	rootCmd.AddCommand(rmCmd)
}

func runRm(c *cobra.Command, args []string) error {
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

	if err := mem.DeleteDocument(ctx, indexName, args[0]); err != nil {
		return err
	}
	fmt.Printf("deletion dispatched for %s\n", args[0])
	return nil
}
