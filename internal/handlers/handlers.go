// Package handlers implements the pipeline step handlers: extract,
// partition, embedding generation, record persistence, summarization and
// deletion.
//
// Every handler is idempotent against a partially-complete state: work
// already recorded in the artifact ledger is skipped, so a crashed run
// resumed from the state file produces no duplicates. Handlers report
// unrecoverable conditions with pipeline.Terminal; anything else is
// treated as transient and retried by the orchestrator.
package handlers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/jpl-au/memd/internal/docstore"
	"github.com/jpl-au/memd/internal/pipeline"
)

// Artifact naming. Names are derived from the source so re-runs address
// the same objects.
func extractedName(source string) string {
	return source + ".extract.txt"
}

func partitionName(extracted string, partN int) string {
	return fmt.Sprintf("%s.partition.%d.txt", extracted, partN)
}

func embeddingName(partition string) string {
	return partition + ".embedding.json"
}

// summaryName is the synthetic artifact holding a document summary. It
// occupies partition number zero, which real partitions never use.
const summaryName = "summary.synthetic.txt"

func contentSHA(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// readArtifact loads a ledger file's bytes from the document store.
func readArtifact(ctx context.Context, docs docstore.Store, s *pipeline.State, name string) ([]byte, error) {
	b, err := docstore.ReadAll(ctx, docs, s.Index, s.DocumentID, name)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", name, err)
	}
	return b, nil
}

// writeArtifact stores bytes and records the descriptor in the ledger.
func writeArtifact(ctx context.Context, docs docstore.Store, s *pipeline.State, fd pipeline.FileDescriptor, content []byte) error {
	fd.Size = int64(len(content))
	fd.ContentSHA = contentSHA(content)
	if err := docs.WriteFile(ctx, s.Index, s.DocumentID, fd.Name, bytes.NewReader(content)); err != nil {
		return fmt.Errorf("write artifact %s: %w", fd.Name, err)
	}
	s.AddFile(fd)
	return nil
}

// embeddingArtifacts lists the files an embedding step must process:
// partitions plus synthetic summaries.
func embeddingSources(s *pipeline.State) []pipeline.FileDescriptor {
	out := s.FilesOfType(pipeline.ArtifactPartition)
	return append(out, s.FilesOfType(pipeline.ArtifactSynthetic)...)
}
