// delete.go implements the deletion handlers.
//
// Deletion runs as a pipeline like everything else: the orchestrator
// switches a document to the deletion chain and dispatches it, so the
// same retry and crash-recovery machinery applies. Records go first,
// files second; a crash in between leaves files that the re-run removes,
// never records without a document.

package handlers

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jpl-au/memd/internal/docstore"
	"github.com/jpl-au/memd/internal/filters"
	"github.com/jpl-au/memd/internal/pipeline"
	"github.com/jpl-au/memd/internal/recordstore"
)

// DeleteDocument removes a document's records and files.
type DeleteDocument struct {
	Docs    docstore.Store
	Records recordstore.Store
	Log     *zap.Logger
}

func (h *DeleteDocument) Name() string { return pipeline.StepDeleteDocument }

func (h *DeleteDocument) Process(ctx context.Context, s *pipeline.State) (*pipeline.State, error) {
	removed := 0
	list := h.Records.GetList(ctx, s.Index, recordstore.ListOptions{
		Filters: []*filters.Filter{filters.ByDocument(s.DocumentID)},
	})
	for rec, err := range list {
		if err != nil {
			if errors.Is(err, recordstore.ErrIndexNotFound) {
				break
			}
			return nil, fmt.Errorf("list records for delete: %w", err)
		}
		if err := h.Records.Delete(ctx, s.Index, rec); err != nil {
			return nil, fmt.Errorf("delete record %s: %w", rec.ID, err)
		}
		removed++
	}

	if err := h.Docs.DeleteDocument(ctx, s.Index, s.DocumentID); err != nil &&
		!errors.Is(err, docstore.ErrDocumentNotFound) && !errors.Is(err, docstore.ErrIndexNotFound) {
		return nil, fmt.Errorf("delete document files: %w", err)
	}

	h.Log.Info("document deleted",
		zap.String("index", s.Index),
		zap.String("document", s.DocumentID),
		zap.Int("records", removed))
	return s, nil
}

// DeleteIndex removes an entire index from both stores.
type DeleteIndex struct {
	Docs    docstore.Store
	Records recordstore.Store
	Log     *zap.Logger
}

func (h *DeleteIndex) Name() string { return pipeline.StepDeleteIndex }

func (h *DeleteIndex) Process(ctx context.Context, s *pipeline.State) (*pipeline.State, error) {
	if err := h.Records.DeleteIndex(ctx, s.Index); err != nil {
		return nil, fmt.Errorf("delete record index %s: %w", s.Index, err)
	}
	if err := h.Docs.DeleteIndex(ctx, s.Index); err != nil && !errors.Is(err, docstore.ErrIndexNotFound) {
		return nil, fmt.Errorf("delete document index %s: %w", s.Index, err)
	}
	h.Log.Info("index deleted", zap.String("index", s.Index))
	return s, nil
}
