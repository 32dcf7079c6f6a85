// extract.go converts each source file to plain text.

package handlers

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jpl-au/memd/internal/docstore"
	"github.com/jpl-au/memd/internal/extract"
	"github.com/jpl-au/memd/internal/pipeline"
)

// Extract produces one extracted-text artifact per source file.
type Extract struct {
	Docs     docstore.Store
	Registry *extract.Registry
	Log      *zap.Logger
}

func (h *Extract) Name() string { return pipeline.StepExtract }

func (h *Extract) Process(ctx context.Context, s *pipeline.State) (*pipeline.State, error) {
	for _, src := range s.FilesOfType(pipeline.ArtifactSource) {
		if s.HasArtifact(h.Name(), src.Name, 0) {
			continue
		}
		raw, err := readArtifact(ctx, h.Docs, s, src.Name)
		if err != nil {
			return nil, err
		}

		text, err := h.Registry.Extract(ctx, raw, src.MimeType)
		if err != nil {
			if errors.Is(err, extract.ErrUnsupported) {
				// Retrying cannot make the type readable.
				return nil, pipeline.Terminal(fmt.Errorf("extract %s: %w", src.Name, err))
			}
			return nil, fmt.Errorf("extract %s: %w", src.Name, err)
		}

		fd := pipeline.FileDescriptor{
			Name:         extractedName(src.Name),
			MimeType:     "text/plain",
			ArtifactType: pipeline.ArtifactExtracted,
			GeneratedBy:  h.Name(),
			SourceFile:   src.Name,
		}
		if err := writeArtifact(ctx, h.Docs, s, fd, []byte(text)); err != nil {
			return nil, err
		}
		h.Log.Debug("extracted",
			zap.String("document", s.DocumentID),
			zap.String("file", src.Name),
			zap.Int("bytes", len(text)))
	}
	return s, nil
}
