// Package workerproc parses queue payloads and dispatches them to the
// structuring pipeline or the comparison engine. Parse failures are typed
// so the worker loop can drop unrecoverable payloads instead of retrying.
package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"disclosure-backend/internal/queue"
)

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{BodyLen: 0, BodySHA: ""}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

// ErrInvalidMessage indicates a decoded message with a bad kind or a
// missing identifier.
type ErrInvalidMessage struct {
	Meta      MessageMeta
	RequestID string
	Err       error
}

func (e ErrInvalidMessage) Error() string {
	if e.Err == nil {
		return "invalid message"
	}
	return "invalid message: " + e.Err.Error()
}

// ErrProcess indicates processing failed after successful parsing.
type ErrProcess struct {
	Kind      string
	TargetID  string
	RequestID string
	Err       error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "process " + e.Kind
	}
	return "process " + e.Kind + ": " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// Unrecoverable reports whether err means the payload can never succeed
// and should be dropped rather than retried.
func Unrecoverable(err error) bool {
	var empty ErrEmptyBody
	var decode ErrDecode
	var invalid ErrInvalidMessage
	return errors.As(err, &empty) || errors.As(err, &decode) || errors.As(err, &invalid)
}

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.Message, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, meta, ErrEmptyBody{Meta: meta}
	}

	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if err := msg.Validate(); err != nil {
		return msg, meta, ErrInvalidMessage{Meta: meta, RequestID: msg.RequestID, Err: err}
	}
	return msg, meta, nil
}

// Structurer runs the structuring pipeline for one document.
type Structurer interface {
	StructureDocument(ctx context.Context, documentID string) error
}

// Comparer runs one comparison end to end.
type Comparer interface {
	RunComparison(ctx context.Context, comparisonID string) error
}

// Processor dispatches parsed messages.
type Processor struct {
	Structuring Structurer
	Comparisons Comparer
}

// Handle routes one already-parsed message.
func (p *Processor) Handle(ctx context.Context, msg queue.Message) error {
	switch msg.Kind {
	case queue.KindStructure:
		if p.Structuring == nil {
			return errors.New("structuring service not configured")
		}
		if err := p.Structuring.StructureDocument(ctx, msg.DocumentID); err != nil {
			return ErrProcess{Kind: msg.Kind, TargetID: msg.DocumentID, RequestID: msg.RequestID, Err: err}
		}
		return nil
	case queue.KindCompare:
		if p.Comparisons == nil {
			return errors.New("comparison service not configured")
		}
		if err := p.Comparisons.RunComparison(ctx, msg.ComparisonID); err != nil {
			return ErrProcess{Kind: msg.Kind, TargetID: msg.ComparisonID, RequestID: msg.RequestID, Err: err}
		}
		return nil
	default:
		return ErrInvalidMessage{RequestID: msg.RequestID, Err: errors.New("unknown kind " + msg.Kind)}
	}
}

// HandleBody parses, validates, and processes a raw payload.
func (p *Processor) HandleBody(ctx context.Context, body string) error {
	msg, _, err := ParseMessage(body)
	if err != nil {
		return err
	}
	return p.Handle(ctx, msg)
}
