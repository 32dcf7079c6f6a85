// html.go extracts readable text from HTML documents.
//
// bluemonday with an empty policy strips every tag; script and style
// bodies are removed first so their contents never leak into the text.

package extract

import (
	"context"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// HTML strips markup and returns the document's visible text.
type HTML struct{}

var (
	htmlStrip = bluemonday.StrictPolicy()

	scriptRe = regexp.MustCompile(`(?is)<(script|style|noscript)\b.*?</(script|style|noscript)>`)
	// Block-level closers become newlines so paragraphs survive the strip.
	blockRe = regexp.MustCompile(`(?i)</(p|div|li|h[1-6]|tr|blockquote|section|article)>|<br\s*/?>`)
	blankRe = regexp.MustCompile(`\n{3,}`)
)

func (HTML) Types() []string {
	return []string{"text/html", "application/xhtml+xml"}
}

func (HTML) Extract(_ context.Context, content []byte) (string, error) {
	s := scriptRe.ReplaceAllString(string(content), "")
	s = blockRe.ReplaceAllString(s, "\n\n")
	s = htmlStrip.Sanitize(s)
	s = html.UnescapeString(s)

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	s = blankRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s), nil
}
