// embeddings.go generates vectors for partition and synthetic artifacts.
//
// Two handlers share the work: GenEmbeddings batches texts through the
// embedder sequentially, GenEmbeddingsParallel fans out per-file under a
// concurrency limit. A pipeline uses one or the other, never both.

package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jpl-au/memd/internal/ai"
	"github.com/jpl-au/memd/internal/docstore"
	"github.com/jpl-au/memd/internal/pipeline"
)

// DefaultEmbedBatch is the number of texts sent to the embedder per call.
const DefaultEmbedBatch = 16

// DefaultEmbedParallelism bounds concurrent embedder calls in the
// parallel handler.
const DefaultEmbedParallelism = 4

// embeddingPayload is the JSON body of an embedding artifact.
type embeddingPayload struct {
	Vector []float32 `json:"vector"`
}

// GenEmbeddings embeds pending partitions in batches.
type GenEmbeddings struct {
	Docs      docstore.Store
	Embedder  ai.Embedder
	BatchSize int
	Log       *zap.Logger
}

func (h *GenEmbeddings) Name() string { return pipeline.StepGenEmbeddings }

func (h *GenEmbeddings) Process(ctx context.Context, s *pipeline.State) (*pipeline.State, error) {
	pending, texts, err := pendingEmbeddings(ctx, h.Docs, s)
	if err != nil {
		return nil, err
	}

	batch := h.BatchSize
	if batch <= 0 {
		batch = DefaultEmbedBatch
	}
	for start := 0; start < len(pending); start += batch {
		end := min(start+batch, len(pending))
		vecs, err := h.Embedder.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch: %w", err)
		}
		for i, fd := range pending[start:end] {
			if err := writeEmbedding(ctx, h.Docs, s, fd, vecs[i]); err != nil {
				return nil, err
			}
		}
	}
	if len(pending) > 0 {
		h.Log.Debug("embedded",
			zap.String("document", s.DocumentID),
			zap.Int("vectors", len(pending)))
	}
	return s, nil
}

// GenEmbeddingsParallel embeds pending partitions concurrently.
type GenEmbeddingsParallel struct {
	Docs        docstore.Store
	Embedder    ai.Embedder
	Parallelism int
	Log         *zap.Logger
}

func (h *GenEmbeddingsParallel) Name() string { return pipeline.StepGenEmbeddingsParallel }

func (h *GenEmbeddingsParallel) Process(ctx context.Context, s *pipeline.State) (*pipeline.State, error) {
	pending, texts, err := pendingEmbeddings(ctx, h.Docs, s)
	if err != nil {
		return nil, err
	}

	limit := h.Parallelism
	if limit <= 0 {
		limit = DefaultEmbedParallelism
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	vecs := make([][]float32, len(pending))
	for i := range pending {
		g.Go(func() error {
			out, err := h.Embedder.Embed(gctx, []string{texts[i]})
			if err != nil {
				return fmt.Errorf("embed %s: %w", pending[i].Name, err)
			}
			vecs[i] = out[0]
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// The ledger is not concurrency-safe; write serially after the
	// embedder calls are done.
	for i, fd := range pending {
		if err := writeEmbedding(ctx, h.Docs, s, fd, vecs[i]); err != nil {
			return nil, err
		}
	}
	if len(pending) > 0 {
		h.Log.Debug("embedded parallel",
			zap.String("document", s.DocumentID),
			zap.Int("vectors", len(pending)))
	}
	return s, nil
}

// pendingEmbeddings returns the partition and synthetic artifacts that
// have no embedding yet, with their texts loaded.
func pendingEmbeddings(ctx context.Context, docs docstore.Store, s *pipeline.State) ([]pipeline.FileDescriptor, []string, error) {
	var pending []pipeline.FileDescriptor
	var texts []string
	for _, fd := range embeddingSources(s) {
		if _, ok := s.FindFile(embeddingName(fd.Name)); ok {
			continue
		}
		raw, err := readArtifact(ctx, docs, s, fd.Name)
		if err != nil {
			return nil, nil, err
		}
		pending = append(pending, fd)
		texts = append(texts, string(raw))
	}
	return pending, texts, nil
}

func writeEmbedding(ctx context.Context, docs docstore.Store, s *pipeline.State, src pipeline.FileDescriptor, vec []float32) error {
	body, err := json.Marshal(embeddingPayload{Vector: vec})
	if err != nil {
		return fmt.Errorf("encode embedding for %s: %w", src.Name, err)
	}
	fd := pipeline.FileDescriptor{
		Name:            embeddingName(src.Name),
		MimeType:        "application/json",
		ArtifactType:    pipeline.ArtifactEmbedding,
		GeneratedBy:     pipeline.StepGenEmbeddings,
		SourceFile:      src.Name,
		PartitionNumber: src.PartitionNumber,
		SectionNumber:   src.SectionNumber,
	}
	return writeArtifact(ctx, docs, s, fd, body)
}
