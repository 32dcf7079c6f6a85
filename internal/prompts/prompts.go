// Package prompts renders the prompts sent to text generators. The
// defaults ship embedded; a Provider lets deployments swap in their own
// wording without touching the retrieval code.
package prompts

import (
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed templates/*.txt
var templateFS embed.FS

// EmptyAnswer is the sentinel the answer prompt instructs the model to
// return when the facts cannot answer the question. Callers compare
// against it verbatim.
const EmptyAnswer = "INFO NOT FOUND"

// Provider renders prompts for the retrieval and summarize paths.
type Provider interface {
	Answer(facts, question string) (string, error)
	Summarize(content string) (string, error)
}

// Embedded serves the built-in templates.
type Embedded struct {
	answer    *template.Template
	summarize *template.Template
}

// NewEmbedded parses the embedded templates.
func NewEmbedded() (*Embedded, error) {
	t, err := template.ParseFS(templateFS, "templates/*.txt")
	if err != nil {
		return nil, fmt.Errorf("parse prompt templates: %w", err)
	}
	e := &Embedded{
		answer:    t.Lookup("answer.txt"),
		summarize: t.Lookup("summarize.txt"),
	}
	if e.answer == nil || e.summarize == nil {
		return nil, fmt.Errorf("parse prompt templates: missing template")
	}
	return e, nil
}

func (e *Embedded) Answer(facts, question string) (string, error) {
	return render(e.answer, map[string]string{
		"Facts":    strings.TrimSpace(facts),
		"Question": strings.TrimSpace(question),
	})
}

func (e *Embedded) Summarize(content string) (string, error) {
	return render(e.summarize, map[string]string{
		"Content": strings.TrimSpace(content),
	})
}

func render(t *template.Template, data map[string]string) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", t.Name(), err)
	}
	return b.String(), nil
}
