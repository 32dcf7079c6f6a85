// saverecords.go upserts one record per embedding artifact.
//
// Record ids are deterministic over (index, document, file, partition,
// section), so re-running the step replaces records instead of
// duplicating them. Reserved tags carry the provenance the filter engine
// needs for cascade deletion.

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jpl-au/memd/internal/docstore"
	"github.com/jpl-au/memd/internal/pipeline"
	"github.com/jpl-au/memd/internal/recordstore"
	"github.com/jpl-au/memd/internal/tags"
)

// SyntheticSummary is the reserved tag value marking summary records.
const SyntheticSummary = "summary"

// SaveRecords persists embedding artifacts as searchable records.
type SaveRecords struct {
	Docs    docstore.Store
	Records recordstore.Store
	Log     *zap.Logger
}

func (h *SaveRecords) Name() string { return pipeline.StepSaveRecords }

func (h *SaveRecords) Process(ctx context.Context, s *pipeline.State) (*pipeline.State, error) {
	saved := 0
	for _, emb := range s.FilesOfType(pipeline.ArtifactEmbedding) {
		part, ok := s.FindFile(emb.SourceFile)
		if !ok {
			return nil, pipeline.Terminal(fmt.Errorf("embedding %s references unknown artifact %s", emb.Name, emb.SourceFile))
		}

		raw, err := readArtifact(ctx, h.Docs, s, emb.Name)
		if err != nil {
			return nil, err
		}
		var payload embeddingPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, pipeline.Terminal(fmt.Errorf("decode embedding %s: %w", emb.Name, err))
		}

		text, err := readArtifact(ctx, h.Docs, s, part.Name)
		if err != nil {
			return nil, err
		}

		rec := h.buildRecord(s, part, payload.Vector, string(text))
		if _, err := h.Records.Upsert(ctx, s.Index, rec); err != nil {
			return nil, fmt.Errorf("upsert record for %s: %w", part.Name, err)
		}
		saved++
	}
	if saved > 0 {
		h.Log.Debug("records saved",
			zap.String("document", s.DocumentID),
			zap.Int("count", saved))
	}
	return s, nil
}

// buildRecord assembles the record for one partition. The file identity
// is the partition's source, i.e. the extracted file it was cut from.
func (h *SaveRecords) buildRecord(s *pipeline.State, part pipeline.FileDescriptor, vec []float32, text string) recordstore.Record {
	fileID := part.SourceFile
	if fileID == "" {
		fileID = part.Name
	}

	tc := s.Tags.Clone()
	tc[tags.KeyDocumentID] = []string{s.DocumentID}
	tc[tags.KeyFileID] = []string{fileID}
	tc[tags.KeyPartition] = []string{fmt.Sprintf("%d", part.PartitionNumber)}
	tc[tags.KeySection] = []string{fmt.Sprintf("%d", part.SectionNumber)}
	if part.ArtifactType == pipeline.ArtifactSynthetic {
		tc[tags.KeySynthetic] = []string{SyntheticSummary}
	}

	return recordstore.Record{
		ID:     recordstore.ID(s.Index, s.DocumentID, fileID, part.PartitionNumber, part.SectionNumber),
		Vector: vec,
		Tags:   tc,
		Payload: map[string]any{
			recordstore.PayloadText:       text,
			recordstore.PayloadFile:       fileID,
			recordstore.PayloadLastUpdate: time.Now().UTC().Format(time.RFC3339),
		},
	}
}
