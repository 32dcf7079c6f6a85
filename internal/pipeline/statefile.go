// statefile.go persists pipeline state through the document store.
//
// The state lives as one JSON file per document. Writers pass the ETag
// they loaded; if the stored bytes have changed underneath them the write
// fails with ErrStateChanged and the caller re-reads and re-applies.
// Combined with the single-worker-per-document invariant this keeps step
// advancement linearizable.

package pipeline

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jpl-au/memd/internal/docstore"
	"golang.org/x/crypto/blake2b"
)

// StateFileName is the reserved per-document pipeline status file.
const StateFileName = "__pipeline_status.json"

var (
	// ErrStateNotFound indicates no pipeline state exists for a document.
	ErrStateNotFound = errors.New("pipeline state not found")
	// ErrStateChanged indicates an optimistic write lost the race; reload
	// and retry from the current step.
	ErrStateChanged = errors.New("pipeline state changed concurrently")
)

// LoadState reads and decodes a document's pipeline state, returning the
// ETag of the bytes read for use in a later SaveState.
func LoadState(ctx context.Context, store docstore.Store, index, documentID string) (*State, string, error) {
	raw, err := docstore.ReadAll(ctx, store, index, documentID, StateFileName)
	if err != nil {
		if errors.Is(err, docstore.ErrFileNotFound) || errors.Is(err, docstore.ErrDocumentNotFound) {
			return nil, "", fmt.Errorf("load state %s/%s: %w", index, documentID, ErrStateNotFound)
		}
		return nil, "", fmt.Errorf("load state %s/%s: %w", index, documentID, err)
	}

	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, "", fmt.Errorf("decode state %s/%s: %w", index, documentID, err)
	}
	return &s, etag(raw), nil
}

// SaveState persists state. A non-empty expectedETag makes the write
// conditional: if the stored file no longer hashes to it, or was deleted
// since it was loaded, nothing is written and ErrStateChanged is
// returned. Pass "" for unconditional writes (admission, deletion
// switch).
func SaveState(ctx context.Context, store docstore.Store, s *State, expectedETag string) error {
	if expectedETag != "" {
		raw, err := docstore.ReadAll(ctx, store, s.Index, s.DocumentID, StateFileName)
		if errors.Is(err, docstore.ErrFileNotFound) || errors.Is(err, docstore.ErrDocumentNotFound) {
			// The caller loaded this state, so the file existed; it being
			// gone means the document was deleted underneath them. Writing
			// would resurrect it.
			return fmt.Errorf("save state %s/%s: %w", s.Index, s.DocumentID, ErrStateChanged)
		}
		if err == nil && etag(raw) != expectedETag {
			return fmt.Errorf("save state %s/%s: %w", s.Index, s.DocumentID, ErrStateChanged)
		}
	}

	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state %s/%s: %w", s.Index, s.DocumentID, err)
	}
	if err := store.WriteFile(ctx, s.Index, s.DocumentID, StateFileName, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("save state %s/%s: %w", s.Index, s.DocumentID, err)
	}
	return nil
}

// etag hashes state bytes for optimistic concurrency checks.
func etag(raw []byte) string {
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}
