// plain.go extracts text-family content. Plain text, markdown and JSON
// pass through unmodified; chunking and embedding downstream do not care
// about markup that is already readable.

package extract

import "context"

// Plain passes textual content through as-is.
type Plain struct{}

func (Plain) Types() []string {
	return []string{
		"text/plain",
		"text/markdown",
		"text/x-markdown",
		"text/csv",
		"application/json",
		"application/x-ndjson",
		"text/xml",
		"application/xml",
	}
}

func (Plain) Extract(_ context.Context, content []byte) (string, error) {
	return string(content), nil
}
