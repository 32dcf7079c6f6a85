/*
Copyright © 2026 James Lawson (jpl-au) <hello@caelisco.net>
*/

// import.go implements the "memd import" command: one-shot file ingestion.

package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpl-au/memd/internal/memory"
	"github.com/jpl-au/memd/internal/orchestrator"
	"github.com/jpl-au/memd/internal/tags"
)

var (
	importID    string
	importTags  []string
	importSteps []string
	importWait  bool
)

var importCmd = &cobra.Command{
	Use:   "import <file>...",
	Short: "Import files into memory",
	Long: `Ingest one or more files as a single document. Ingestion is
asynchronous; use --wait to block until the document is searchable.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&importID, "id", "", "document id (derived from file names when empty)")
	importCmd.Flags().StringArrayVarP(&importTags, "tag", "t", nil, "tag as key:value (repeatable)")
	importCmd.Flags().StringSliceVar(&importSteps, "steps", nil, "pipeline steps (default chain when empty)")
	importCmd.Flags().BoolVarP(&importWait, "wait", "w", false, "wait for ingestion to finish")
	rootCmd.AddCommand(importCmd)
}

func runImport(c *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	tc := tags.New()
	for _, raw := range importTags {
		k, v, err := tags.ParsePair(raw)
		if err != nil {
			return err
		}
		tc.Add(k, v)
	}

	var files []orchestrator.UploadFile
	for _, path := range args {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		// Mime type is sniffed at admission when left empty.
		files = append(files, orchestrator.UploadFile{
			Name:    filepath.Base(path),
			Content: content,
		})
	}

	ctx := c.Context()
	mem, err := setup(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer mem.Close()

	idx, doc, err := mem.ImportDocument(ctx, memory.ImportRequest{
		Index:      indexName,
		DocumentID: importID,
		Files:      files,
		Tags:       tc,
		Steps:      importSteps,
	})
	if err != nil {
		return err
	}
	fmt.Printf("queued %s in index %s\n", doc, idx)

	// An in-process pipeline dies with this process, so the command must
	// wait for it regardless of --wait. Redis-backed queues survive; only
	// wait there when asked.
	if cfg.Queue.Backend == "redis" && !importWait {
		return nil
	}
	return waitReady(ctx, mem, idx, doc)
}

// waitReady polls until the document completes or fails.
func waitReady(ctx context.Context, mem *memory.Memory, idx, doc string) error {
	for {
		st, err := mem.Status(ctx, idx, doc)
		if err != nil {
			return err
		}
		if st.Failed() {
			return fmt.Errorf("ingestion failed: %s", st.TerminalError)
		}
		if st.Complete() {
			fmt.Printf("document %s ready\n", doc)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}
