// Package ai defines the ports to external model providers: embedding
// generation and text generation. Concrete providers live outside this
// module; the package ships a deterministic embedder and a fact-echoing
// generator so the whole pipeline runs offline in tests and embedded
// deployments.
package ai

import "context"

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed returns one vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed size of produced vectors.
	Dimensions() int
}

// TextGenerator produces a completion for a prompt.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
