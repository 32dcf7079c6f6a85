// summarize.go produces a synthetic summary artifact from the extracted
// text. The summary occupies partition number zero so its record id never
// collides with a real partition; downstream embedding and save steps
// treat it like any other chunk.

package handlers

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jpl-au/memd/internal/ai"
	"github.com/jpl-au/memd/internal/docstore"
	"github.com/jpl-au/memd/internal/pipeline"
	"github.com/jpl-au/memd/internal/prompts"
)

// Summarize generates one document-level summary.
type Summarize struct {
	Docs      docstore.Store
	Generator ai.TextGenerator
	Prompts   prompts.Provider
	Log       *zap.Logger
}

func (h *Summarize) Name() string { return pipeline.StepSummarize }

func (h *Summarize) Process(ctx context.Context, s *pipeline.State) (*pipeline.State, error) {
	if _, ok := s.FindFile(summaryName); ok {
		return s, nil
	}

	var parts []string
	for _, ext := range s.FilesOfType(pipeline.ArtifactExtracted) {
		raw, err := readArtifact(ctx, h.Docs, s, ext.Name)
		if err != nil {
			return nil, err
		}
		parts = append(parts, string(raw))
	}
	content := strings.TrimSpace(strings.Join(parts, "\n\n"))
	if content == "" {
		// Nothing to summarize; the step still completes.
		return s, nil
	}

	prompt, err := h.Prompts.Summarize(content)
	if err != nil {
		return nil, pipeline.Terminal(err)
	}
	summary, err := h.Generator.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate summary: %w", err)
	}

	fd := pipeline.FileDescriptor{
		Name:         summaryName,
		MimeType:     "text/plain",
		ArtifactType: pipeline.ArtifactSynthetic,
		GeneratedBy:  h.Name(),
	}
	if err := writeArtifact(ctx, h.Docs, s, fd, []byte(summary)); err != nil {
		return nil, err
	}
	h.Log.Debug("summarized",
		zap.String("document", s.DocumentID),
		zap.Int("bytes", len(summary)))
	return s, nil
}
