// Package extract turns uploaded files into plain text.
//
// Extractors are selected by MIME type, sniffed from content when the
// upload carries no usable type. Unsupported types are a terminal
// condition: retrying cannot make a binary readable.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ErrUnsupported reports a MIME type no extractor handles.
var ErrUnsupported = errors.New("unsupported content type")

// Extractor converts one content family to plain text.
type Extractor interface {
	// Types lists the MIME types (without parameters) this extractor
	// accepts.
	Types() []string
	Extract(ctx context.Context, content []byte) (string, error)
}

// Registry routes content to extractors by MIME type.
type Registry struct {
	byType map[string]Extractor
}

// NewRegistry returns a registry with the built-in text, markdown, HTML
// and JSON extractors installed.
func NewRegistry() *Registry {
	r := &Registry{byType: make(map[string]Extractor)}
	r.Register(Plain{})
	r.Register(HTML{})
	return r
}

// Register installs e for all of its types, replacing prior handlers.
func (r *Registry) Register(e Extractor) {
	for _, t := range e.Types() {
		r.byType[t] = e
	}
}

// Supported reports whether mimeType has a registered extractor.
func (r *Registry) Supported(mimeType string) bool {
	_, ok := r.byType[normalizeType(mimeType)]
	return ok
}

// Extract converts content to text. An empty declared type triggers
// content sniffing.
func (r *Registry) Extract(ctx context.Context, content []byte, declaredType string) (string, error) {
	mt := normalizeType(declaredType)
	if mt == "" || mt == "application/octet-stream" {
		mt = normalizeType(mimetype.Detect(content).String())
	}
	e, ok := r.byType[mt]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, mt)
	}
	text, err := e.Extract(ctx, content)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", mt, err)
	}
	return text, nil
}

// DetectType sniffs the MIME type of content, without parameters.
func DetectType(content []byte) string {
	return normalizeType(mimetype.Detect(content).String())
}

// normalizeType strips parameters ("text/html; charset=utf-8") and
// lowercases the media type.
func normalizeType(mt string) string {
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.ToLower(strings.TrimSpace(mt))
}
