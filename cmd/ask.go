/*
Copyright © 2026 James Lawson (jpl-au) <hello@caelisco.net>
*/

// ask.go implements the "memd ask" command.
//
// Design: terminal output gets glamour markdown rendering; pipe/redirect
// gets the raw answer, so scripting stays clean.

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jpl-au/memd/internal/filters"
	"github.com/jpl-au/memd/internal/search"
	"github.com/jpl-au/memd/internal/tags"
)

var askFilters []string

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question answered from memory",
	Long: `Answer a question using only what the memory holds, citing the
documents the answer came from. Prints "INFO NOT FOUND" when nothing
relevant is stored.`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringArrayVarP(&askFilters, "filter", "f", nil, "require tag key:value (repeatable, all must match)")
	askCmd.Flags().Bool("raw", false, "output raw text without rendering")
	rootCmd.AddCommand(askCmd)
}

func runAsk(c *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	raw, _ := c.Flags().GetBool("raw")

	fs, err := filterFlags(askFilters)
	if err != nil {
		return err
	}

	ctx := c.Context()
	mem, err := setup(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer mem.Close()

	ans, err := mem.Ask(ctx, indexName, args[0], search.Options{Filters: fs})
	if err != nil {
		return err
	}
	if ans.Error != "" {
		fmt.Fprintln(os.Stderr, "model error:", ans.Error)
	}

	render(formatAnswer(ans), raw)
	return nil
}

// formatAnswer lays the answer and its citations out as markdown.
func formatAnswer(ans search.Answer) string {
	var b strings.Builder
	b.WriteString(ans.Text)
	b.WriteString("\n")
	if len(ans.Citations) > 0 {
		b.WriteString("\n**Sources**\n\n")
		for _, c := range ans.Citations {
			best := 0.0
			if len(c.Partitions) > 0 {
				best = c.Partitions[0].Relevance
			}
			fmt.Fprintf(&b, "- %s (%s, relevance %.2f)\n", c.DocumentID, c.Index, best)
		}
	}
	return b.String()
}

// render writes markdown through glamour on a terminal, raw otherwise.
func render(text string, raw bool) {
	if !raw && term.IsTerminal(int(os.Stdout.Fd())) {
		if rendered, err := glamour.Render(text, "dark"); err == nil {
			fmt.Print(rendered)
			return
		}
	}
	fmt.Print(text)
}

// filterFlags converts repeated key:value flags into one conjunction.
func filterFlags(raw []string) ([]*filters.Filter, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	f := filters.New()
	for _, pair := range raw {
		k, v, err := tags.ParsePair(pair)
		if err != nil {
			return nil, err
		}
		f = f.ByTag(k, v)
	}
	return []*filters.Filter{f}, nil
}
