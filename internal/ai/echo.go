// echo.go implements a TextGenerator that answers from the prompt's own
// facts section. It exists so ask-style retrieval works end to end with
// no external model: the grounding is real, only the prose is naive.

package ai

import (
	"context"
	"strings"
)

// Echo extracts the facts block of a grounded prompt and returns it as
// the answer. Prompts without a recognizable facts block are echoed
// truncated.
type Echo struct {
	// MaxLen caps the answer length in bytes; 0 means no cap.
	MaxLen int
}

// echoFactsHeader and echoQuestionHeader mirror the default answer
// prompt layout in internal/prompts.
const (
	echoFactsHeader    = "Facts:"
	echoQuestionHeader = "Question:"
)

func (e *Echo) Generate(_ context.Context, prompt string) (string, error) {
	answer := prompt
	if i := strings.Index(prompt, echoFactsHeader); i >= 0 {
		answer = prompt[i+len(echoFactsHeader):]
		if j := strings.Index(answer, echoQuestionHeader); j >= 0 {
			answer = answer[:j]
		}
	}
	answer = strings.TrimSpace(answer)
	if e.MaxLen > 0 && len(answer) > e.MaxLen {
		answer = answer[:e.MaxLen]
	}
	return answer, nil
}
