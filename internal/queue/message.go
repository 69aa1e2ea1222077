package queue

import (
	"encoding/json"
	"fmt"
)

// Job kinds carried on the queue.
const (
	KindStructure = "structure"
	KindCompare   = "compare"
)

// Message is the payload sent to queue consumers. Exactly one of DocumentID
// or ComparisonID is set, matching Kind.
type Message struct {
	Kind         string `json:"kind"`
	DocumentID   string `json:"documentId,omitempty"`
	ComparisonID string `json:"comparisonId,omitempty"`
	RequestID    string `json:"requestId"`
	EnqueuedAt   string `json:"enqueuedAt"`
	Version      int    `json:"version"`
}

// Validate checks the kind and the matching identifier.
func (m Message) Validate() error {
	switch m.Kind {
	case KindStructure:
		if m.DocumentID == "" {
			return fmt.Errorf("structure message missing document id")
		}
	case KindCompare:
		if m.ComparisonID == "" {
			return fmt.Errorf("compare message missing comparison id")
		}
	default:
		return fmt.Errorf("unknown message kind %q", m.Kind)
	}
	return nil
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
