// partition.go splits extracted text into embedding-sized chunks.

package handlers

import (
	"context"

	"go.uber.org/zap"

	"github.com/jpl-au/memd/internal/docstore"
	"github.com/jpl-au/memd/internal/partition"
	"github.com/jpl-au/memd/internal/pipeline"
)

// Partition produces numbered chunk artifacts from each extracted file.
// Partition numbers are 1-based; zero is reserved for synthetic content.
type Partition struct {
	Docs     docstore.Store
	Splitter *partition.Splitter
	Log      *zap.Logger
}

func (h *Partition) Name() string { return pipeline.StepPartition }

func (h *Partition) Process(ctx context.Context, s *pipeline.State) (*pipeline.State, error) {
	for _, ext := range s.FilesOfType(pipeline.ArtifactExtracted) {
		if s.HasArtifact(h.Name(), ext.Name, 1) {
			// Chunks are written as a unit per source; the first one
			// standing in the ledger means the whole set is there.
			continue
		}
		raw, err := readArtifact(ctx, h.Docs, s, ext.Name)
		if err != nil {
			return nil, err
		}

		chunks := h.Splitter.Split(string(raw))
		for i, chunk := range chunks {
			partN := i + 1
			fd := pipeline.FileDescriptor{
				Name:            partitionName(ext.Name, partN),
				MimeType:        "text/plain",
				ArtifactType:    pipeline.ArtifactPartition,
				GeneratedBy:     h.Name(),
				SourceFile:      ext.Name,
				PartitionNumber: partN,
			}
			if err := writeArtifact(ctx, h.Docs, s, fd, []byte(chunk)); err != nil {
				return nil, err
			}
		}
		h.Log.Debug("partitioned",
			zap.String("document", s.DocumentID),
			zap.String("file", ext.Name),
			zap.Int("chunks", len(chunks)))
	}
	return s, nil
}
