// message.go defines the queue work item.
//
// Messages are small references, never document bodies: workers load the
// authoritative state from the document store on dequeue. The JSON layout
// is a compatibility surface.

package pipeline

import (
	"encoding/json"
	"fmt"
)

// Message references (index, document, step) from a queue work item.
// Attempt mirrors the state's failure count at enqueue time; it is
// informational (queue inspection, poison triage) and routing never
// depends on it, since redeliveries reuse the original payload.
type Message struct {
	Index      string `json:"index"`
	DocumentID string `json:"document_id"`
	Step       string `json:"step"`
	Attempt    int    `json:"attempt"`
}

// Encode serializes the message for enqueueing.
func (m Message) Encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode queue message: %w", err)
	}
	return b, nil
}

// DecodeMessage parses a queue payload.
func DecodeMessage(payload []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, fmt.Errorf("decode queue message: %w", err)
	}
	if m.Index == "" || m.DocumentID == "" || m.Step == "" {
		return Message{}, fmt.Errorf("decode queue message: missing fields in %q", payload)
	}
	return m, nil
}
