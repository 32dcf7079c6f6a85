/*
Copyright © 2026 James Lawson (jpl-au) <hello@caelisco.net>
*/

// search.go implements the "memd search" command.

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jpl-au/memd/internal/search"
)

var (
	searchFilters []string
	searchLimit   int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Similarity search over memory",
	Long:  `Find stored chunks similar to the query, grouped by document.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().StringArrayVarP(&searchFilters, "filter", "f", nil, "require tag key:value (repeatable, all must match)")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum matches (configured default when 0)")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(c *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	fs, err := filterFlags(searchFilters)
	if err != nil {
		return err
	}

	ctx := c.Context()
	mem, err := setup(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer mem.Close()

	res, err := mem.Search(ctx, indexName, args[0], search.Options{
		Filters: fs,
		Limit:   searchLimit,
	})
	if err != nil {
		return err
	}
	if len(res.Citations) == 0 {
		fmt.Println("no matches")
		return nil
	}

	var b strings.Builder
	for _, cit := range res.Citations {
		fmt.Fprintf(&b, "# %s (%s)\n\n", cit.DocumentID, cit.Index)
		for _, p := range cit.Partitions {
			fmt.Fprintf(&b, "- [%.2f] %s\n", p.Relevance, oneLine(p.Text, 120))
		}
		b.WriteString("\n")
	}
	render(b.String(), false)
	return nil
}

// oneLine flattens and truncates text for list display.
func oneLine(text string, max int) string {
	flat := strings.Join(strings.Fields(text), " ")
	if len(flat) <= max {
		return flat
	}
	return flat[:max] + "..."
}
