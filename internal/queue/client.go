package queue

import (
	"context"
	"time"
)

// Client sends messages to a queue backend.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

// Consumer receives messages from a queue backend. Receive blocks up to
// timeout; ok is false when the wait elapsed without a message.
type Consumer interface {
	Receive(ctx context.Context, timeout time.Duration) (msg Message, ok bool, err error)
}
