// Package tokens provides token counting for chunk sizing and prompt
// budgeting. The real counter wraps tiktoken's BPE; the heuristic
// counter keeps tests and offline runs independent of the vocabulary
// download tiktoken performs on first use.
package tokens

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Counter estimates the token count of a text.
type Counter interface {
	Count(text string) int
}

// DefaultEncoding is the BPE encoding used when none is configured.
const DefaultEncoding = "cl100k_base"

// Tiktoken counts with a real BPE vocabulary.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding ("" for DefaultEncoding).
func NewTiktoken(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load token encoding %s: %w", encoding, err)
	}
	return &Tiktoken{enc: enc}, nil
}

func (t *Tiktoken) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// Heuristic approximates tokens as whitespace-separated words. Word
// counts run slightly under BPE counts for English prose, which errs on
// the side of larger chunks; acceptable for offline use.
type Heuristic struct{}

func (Heuristic) Count(text string) int {
	return len(strings.Fields(text))
}
