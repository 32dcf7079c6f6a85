// deterministic.go implements a local, reproducible embedder.
//
// Feature hashing over lowercased word tokens: each token is hashed into
// a fixed number of buckets, counts are accumulated and the vector is
// L2-normalized. Texts sharing vocabulary get genuinely similar vectors,
// which is enough for offline retrieval and for tests that assert on
// ranking rather than semantics.

package ai

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultDimensions is the vector size of a zero-configured Deterministic
// embedder.
const DefaultDimensions = 128

// Deterministic is a dependency-free Embedder.
type Deterministic struct {
	dim int
}

// NewDeterministic returns an embedder producing dim-sized vectors.
// Non-positive dim falls back to DefaultDimensions.
func NewDeterministic(dim int) *Deterministic {
	if dim <= 0 {
		dim = DefaultDimensions
	}
	return &Deterministic{dim: dim}
}

func (d *Deterministic) Dimensions() int { return d.dim }

func (d *Deterministic) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = d.embedOne(text)
	}
	return out, nil
}

func (d *Deterministic) embedOne(text string) []float32 {
	vec := make([]float32, d.dim)
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		sum := h.Sum32()
		// Low bit picks the sign so buckets cancel instead of piling up.
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		vec[(sum>>1)%uint32(d.dim)] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
