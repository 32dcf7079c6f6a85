// Package tags implements the tag collection attached to documents and
// records. A tag is a (key, value) pair; a collection maps each key to an
// ordered set of values. Tags are the filter primitive for retrieval and
// the mechanism behind cascade deletion.
//
// Design: Values keep insertion order for display, but all matching is
// set-semantic. Duplicate values are dropped on insert rather than on read
// so a stored collection is always already deduplicated.
package tags

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Reserved tag keys written by the pipeline. User input must not use the
// reserved "__" prefix; the pipeline relies on these for cascade deletes
// and record provenance.
const (
	ReservedPrefix = "__"

	KeyDocumentID = "__document_id"
	KeyFileID     = "__file_id"
	KeyPartition  = "__part_n"
	KeySection    = "__sect_n"
	KeySynthetic  = "__synthetic"
)

// ErrReservedKey indicates a caller-supplied tag used the reserved prefix.
var ErrReservedKey = errors.New("tag key uses reserved prefix")

// ErrInvalidTag indicates an empty or malformed tag.
var ErrInvalidTag = errors.New("invalid tag")

// Collection maps tag keys to ordered sets of values.
// The zero value is not usable; construct with New or make.
type Collection map[string][]string

// New returns an empty collection.
func New() Collection {
	return Collection{}
}

// Add appends values under key, dropping duplicates and preserving
// insertion order.
func (c Collection) Add(key string, values ...string) {
	existing := c[key]
	for _, v := range values {
		if !contains(existing, v) {
			existing = append(existing, v)
		}
	}
	c[key] = existing
}

// Contains reports whether value is present under key. Unknown keys
// never match.
func (c Collection) Contains(key, value string) bool {
	return contains(c[key], value)
}

// First returns the first value under key, or "" if absent.
func (c Collection) First(key string) string {
	if vs := c[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Keys returns the tag keys in sorted order for deterministic iteration.
func (c Collection) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy.
func (c Collection) Clone() Collection {
	out := make(Collection, len(c))
	for k, vs := range c {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// Merge adds every tag from other, deduplicating values. Existing values
// are kept; other's values append after them.
func (c Collection) Merge(other Collection) {
	for k, vs := range other {
		c.Add(k, vs...)
	}
}

// ValidateUser rejects collections that use reserved keys or empty keys.
// Called at admission; the pipeline itself writes reserved keys freely.
func (c Collection) ValidateUser() error {
	for k := range c {
		if k == "" {
			return fmt.Errorf("%w: empty key", ErrInvalidTag)
		}
		if strings.HasPrefix(k, ReservedPrefix) {
			return fmt.Errorf("%w: %s", ErrReservedKey, k)
		}
		if strings.ContainsRune(k, 0) {
			return fmt.Errorf("%w: null byte in key", ErrInvalidTag)
		}
	}
	return nil
}

// ParsePair parses a "key:value" tag argument as accepted by the CLI and
// the upload form. The value may itself contain colons.
func ParsePair(s string) (key, value string, err error) {
	k, v, ok := strings.Cut(s, ":")
	if !ok || k == "" {
		return "", "", fmt.Errorf("%w: want key:value, got %q", ErrInvalidTag, s)
	}
	return k, v, nil
}

func contains(vs []string, v string) bool {
	for _, x := range vs {
		if x == v {
			return true
		}
	}
	return false
}
