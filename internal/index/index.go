// Package index handles index name normalization and validation.
//
// An index is an isolated namespace of documents and records. Callers may
// supply names with mixed case, whitespace, or path-like separators; all
// components agree on a single canonical form so that "My Docs" and
// "my-docs" address the same namespace.
//
// Design: Normalization is idempotent - normalizing an already-normalized
// name returns it unchanged. Components normalize at every boundary rather
// than trusting callers, so idempotence is load-bearing, not cosmetic.
package index

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// DefaultName is used when the caller supplies an empty index name.
const DefaultName = "default"

// ErrInvalidName indicates an index name contains characters that cannot
// be normalized away. Check with errors.Is.
var ErrInvalidName = errors.New("invalid index name")

// separators matches runs of characters that normalize to a single dash:
// whitespace, slashes, dots, underscores, colons and pipes.
var separators = regexp.MustCompile(`[\s\\/._:|]+`)

// valid matches fully normalized names.
var valid = regexp.MustCompile(`^[a-z0-9-]+$`)

// Normalize returns the canonical form of an index name. Empty input maps
// to fallback (normalized in turn, so an empty fallback yields DefaultName).
//
// Rules: lowercase; each run of separator characters becomes a single "-";
// leading and trailing dashes are trimmed. Names containing any other
// character return ErrInvalidName.
func Normalize(name, fallback string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		if fallback == "" {
			return DefaultName, nil
		}
		return Normalize(fallback, "")
	}

	name = strings.ToLower(name)
	name = separators.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-")

	if name == "" {
		return "", fmt.Errorf("%w: name reduces to nothing", ErrInvalidName)
	}
	if !valid.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return name, nil
}
