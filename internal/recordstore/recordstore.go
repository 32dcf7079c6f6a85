// Package recordstore defines the record model and the vector-capable
// record store abstraction, with in-memory and SQLite implementations.
//
// A record is an {id, vector, tags, payload} tuple living inside a named
// index. The interface is the small capability set every backend must
// provide: index lifecycle, upsert, similarity search, filtered listing
// and deletion. Consumers depend only on Store, enabling testing against
// the memory backend and production use of SQLite or future backends.
package recordstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"

	"github.com/jpl-au/memd/internal/filters"
	"github.com/jpl-au/memd/internal/tags"
)

var (
	// ErrIndexNotFound indicates the requested index does not exist.
	ErrIndexNotFound = errors.New("index not found")
	// ErrVectorSize indicates a vector whose dimension does not match the
	// index's declared size.
	ErrVectorSize = errors.New("vector size mismatch")
)

// DefaultLimit is the similarity result ceiling applied when callers pass
// a non-positive limit to GetSimilar.
const DefaultLimit = 10

// Payload keys carried on every record for citations and display.
const (
	PayloadText       = "text"
	PayloadFile       = "file"
	PayloadLastUpdate = "last_update"
)

// Record is an addressable vector + tags + payload tuple.
type Record struct {
	ID      string
	Vector  []float32
	Tags    tags.Collection
	Payload map[string]any
}

// DocumentID returns the owning document's id from the reserved tag.
func (r Record) DocumentID() string {
	return r.Tags.First(tags.KeyDocumentID)
}

// Text returns the payload text, or "" when absent.
func (r Record) Text() string {
	if s, ok := r.Payload[PayloadText].(string); ok {
		return s
	}
	return ""
}

// LastUpdate returns the payload last-update timestamp (RFC 3339), or ""
// when absent.
func (r Record) LastUpdate() string {
	if s, ok := r.Payload[PayloadLastUpdate].(string); ok {
		return s
	}
	return ""
}

// Match pairs a record with its similarity score in [0, 1], where 1.0 is
// identical under the store's metric.
type Match struct {
	Record
	Score float64
}

// ID computes the deterministic record identity for a partition, so that
// re-ingesting the same content upserts instead of duplicating.
// The fields are joined with an ASCII unit separator before hashing;
// this exact layout is a compatibility surface.
func ID(indexName, documentID, fileID string, partN, sectN int) string {
	payload := strings.Join([]string{
		indexName, documentID, fileID, strconv.Itoa(partN), strconv.Itoa(sectN),
	}, "\x1f")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// SearchOptions configures GetSimilar.
type SearchOptions struct {
	Filters        []*filters.Filter // DNF; empty means search the whole index
	Limit          int               // <=0 applies DefaultLimit
	MinRelevance   float64           // prune below this score before applying Limit
	WithEmbeddings bool              // include vectors in results
}

// ListOptions configures GetList.
type ListOptions struct {
	Filters        []*filters.Filter // DNF; empty means list the whole index
	Limit          int               // <=0 means no limit
	WithEmbeddings bool
}

// Store is the record store capability set. Implementations must evaluate
// the DNF filter semantics of the filters package; backends with native
// tag indexes push filters down, others may post-filter but must not
// silently underfill limits.
type Store interface {
	// CreateIndex creates an index declaring its vector size.
	// Creating an existing index is a no-op when sizes agree.
	CreateIndex(ctx context.Context, name string, vectorSize int) error

	// ListIndexes returns all index names.
	ListIndexes(ctx context.Context) ([]string, error)

	// DeleteIndex drops an index and every record in it. Deleting a
	// missing index is a no-op.
	DeleteIndex(ctx context.Context, name string) error

	// Upsert inserts or replaces a record by id, creating the index
	// implicitly on first write. Returns the record id.
	Upsert(ctx context.Context, index string, rec Record) (string, error)

	// GetSimilar returns the records most similar to the query vector,
	// best first. Ties are broken by document id then record id ascending
	// so results are deterministic.
	GetSimilar(ctx context.Context, index string, query []float32, opts SearchOptions) ([]Match, error)

	// GetList streams records matching the filters in document id then
	// record id order. The sequence is lazy; breaking out of the range
	// stops production. Errors are yielded in the second position and
	// terminate the sequence.
	GetList(ctx context.Context, index string, opts ListOptions) iter.Seq2[Record, error]

	// Delete removes a record by id. Deleting a missing record is a no-op.
	Delete(ctx context.Context, index string, rec Record) error

	// Close releases backend resources.
	Close() error
}

// validateVector checks a vector against the declared index size.
func validateVector(vec []float32, size int) error {
	if len(vec) != size {
		return fmt.Errorf("%w: got %d, index declares %d", ErrVectorSize, len(vec), size)
	}
	return nil
}
