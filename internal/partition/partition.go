// Package partition splits extracted text into token-bounded chunks for
// embedding. Chunks never cut through a unit (line, sentence or
// paragraph); a unit larger than the target becomes a chunk of its own.
package partition

import (
	"strings"
	"unicode"

	"github.com/jpl-au/memd/internal/tokens"
)

// Unit selects the indivisible element of text.
type Unit string

const (
	UnitLine      Unit = "line"
	UnitSentence  Unit = "sentence"
	UnitParagraph Unit = "paragraph"
)

// Defaults sized for embedding models with 8k contexts.
const (
	DefaultTargetTokens  = 1000
	DefaultOverlapTokens = 100
)

// Splitter packs units into chunks of roughly TargetTokens, carrying
// OverlapTokens of trailing context into the next chunk.
type Splitter struct {
	TargetTokens  int
	OverlapTokens int
	Unit          Unit
	Counter       tokens.Counter
}

// New returns a Splitter with defaults filled in for zero fields.
func New(target, overlap int, unit Unit, counter tokens.Counter) *Splitter {
	s := &Splitter{TargetTokens: target, OverlapTokens: overlap, Unit: unit, Counter: counter}
	if s.TargetTokens <= 0 {
		s.TargetTokens = DefaultTargetTokens
	}
	if s.OverlapTokens < 0 || s.OverlapTokens >= s.TargetTokens {
		s.OverlapTokens = DefaultOverlapTokens
	}
	if s.Unit == "" {
		s.Unit = UnitParagraph
	}
	if s.Counter == nil {
		s.Counter = tokens.Heuristic{}
	}
	return s
}

// Split returns the chunks of text in order. Blank input yields nil.
func (s *Splitter) Split(text string) []string {
	units := splitUnits(text, s.Unit)
	if len(units) == 0 {
		return nil
	}
	sep := separator(s.Unit)

	counts := make([]int, len(units))
	for i, u := range units {
		counts[i] = s.Counter.Count(u)
	}

	var chunks []string
	var cur []string
	curTokens := 0
	flush := func() {
		if len(cur) == 0 {
			return
		}
		chunks = append(chunks, strings.Join(cur, sep))
		// Seed the next chunk with trailing units up to the overlap
		// budget, preserving order.
		var carry []string
		carryTokens := 0
		for i := len(cur) - 1; i >= 0; i-- {
			n := s.Counter.Count(cur[i])
			if carryTokens+n > s.OverlapTokens {
				break
			}
			carry = append([]string{cur[i]}, carry...)
			carryTokens += n
		}
		cur = carry
		curTokens = carryTokens
	}

	for i, u := range units {
		if curTokens+counts[i] > s.TargetTokens && len(cur) > 0 {
			flush()
		}
		cur = append(cur, u)
		curTokens += counts[i]
	}
	if len(cur) > 0 {
		// Drop a final chunk that is pure overlap carry.
		tail := strings.Join(cur, sep)
		if len(chunks) == 0 || !strings.HasSuffix(chunks[len(chunks)-1], tail) {
			chunks = append(chunks, tail)
		}
	}
	return chunks
}

func separator(u Unit) string {
	switch u {
	case UnitLine:
		return "\n"
	case UnitSentence:
		return " "
	default:
		return "\n\n"
	}
}

func splitUnits(text string, u Unit) []string {
	switch u {
	case UnitLine:
		return nonBlank(strings.Split(text, "\n"))
	case UnitSentence:
		return sentences(text)
	default:
		return nonBlank(strings.Split(normalizeNewlines(text), "\n\n"))
	}
}

func nonBlank(parts []string) []string {
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func normalizeNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	// Collapse runs of 3+ newlines so empty paragraphs don't appear.
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return text
}

// sentences splits on terminal punctuation followed by whitespace. Good
// enough for chunk boundaries; abbreviation handling is not attempted.
func sentences(text string) []string {
	var out []string
	var b strings.Builder
	runes := []rune(strings.TrimSpace(text))
	for i := 0; i < len(runes); i++ {
		b.WriteRune(runes[i])
		if isTerminal(runes[i]) && (i+1 == len(runes) || unicode.IsSpace(runes[i+1])) {
			if s := strings.TrimSpace(b.String()); s != "" {
				out = append(out, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
