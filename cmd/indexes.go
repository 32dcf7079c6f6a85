/*
Copyright © 2026 James Lawson (jpl-au) <hello@caelisco.net>
*/

// indexes.go implements the "memd indexes" command group.

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var indexesCmd = &cobra.Command{
	Use:   "indexes",
	Short: "List memory indexes",
	RunE:  runIndexesList,
}

var indexesRmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Delete an index and everything in it",
	Args:  cobra.ExactArgs(1),
	RunE:  runIndexesRm,
}

func init() {
	indexesCmd.AddCommand(indexesRmCmd)
	rootCmd.AddCommand(indexesCmd)
}

func runIndexesList(c *cobra.Command, _ []string) error {
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

	names, err := mem.ListIndexes(ctx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("no indexes")
		return nil
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

func runIndexesRm(c *cobra.Command, args []string) error {
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

	if err := mem.DeleteIndex(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("index %s deleted\n", args[0])
	return nil
}
