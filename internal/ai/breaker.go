// breaker.go wraps model providers in a circuit breaker.
//
// Provider outages otherwise turn every pipeline step into a slow
// timeout; an open circuit fails fast instead, and the failure stays
// transient so the orchestrator's retry/backoff machinery handles it.

package ai

import (
	"context"
	"fmt"

	"github.com/sony/gobreaker"
)

// BreakerEmbedder decorates an Embedder with a circuit breaker.
type BreakerEmbedder struct {
	inner Embedder
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerEmbedder wraps inner. Pass a zero Settings for gobreaker
// defaults; Name is filled in when empty.
func NewBreakerEmbedder(inner Embedder, st gobreaker.Settings) *BreakerEmbedder {
	if st.Name == "" {
		st.Name = "embedder"
	}
	return &BreakerEmbedder{inner: inner, cb: gobreaker.NewCircuitBreaker(st)}
}

func (b *BreakerEmbedder) Dimensions() int { return b.inner.Dimensions() }

func (b *BreakerEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.inner.Embed(ctx, texts)
	})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	return out.([][]float32), nil
}

// BreakerGenerator decorates a TextGenerator with a circuit breaker.
type BreakerGenerator struct {
	inner TextGenerator
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerGenerator wraps inner.
func NewBreakerGenerator(inner TextGenerator, st gobreaker.Settings) *BreakerGenerator {
	if st.Name == "" {
		st.Name = "text-generator"
	}
	return &BreakerGenerator{inner: inner, cb: gobreaker.NewCircuitBreaker(st)}
}

func (b *BreakerGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.inner.Generate(ctx, prompt)
	})
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return out.(string), nil
}
