package llm

import (
	"context"
	"errors"
	"log"
	"net"
	"strings"
	"time"
)

const retryBaseDelay = 300 * time.Millisecond

type retryingClient struct {
	base Client
}

// WithRetry wraps a client with a single retry on transient failures.
func WithRetry(base Client) Client {
	if base == nil {
		return nil
	}
	return retryingClient{base: base}
}

func (r retryingClient) CompleteJSON(ctx context.Context, req Request) (Result, error) {
	return r.call(ctx, req, r.base.CompleteJSON)
}

func (r retryingClient) CompleteText(ctx context.Context, req Request) (Result, error) {
	return r.call(ctx, req, r.base.CompleteText)
}

func (r retryingClient) call(ctx context.Context, req Request, fn func(context.Context, Request) (Result, error)) (Result, error) {
	res, err := fn(ctx, req)
	if err == nil || !shouldRetry(err) {
		return res, err
	}

	log.Printf("llm retry attempt=1 error=%s", err.Error())
	select {
	case <-time.After(retryBaseDelay):
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	return fn(ctx, req)
}

func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "http status 5") || strings.Contains(msg, "server_error") || strings.Contains(msg, "rate_limit") {
		return true
	}
	if strings.Contains(msg, "timeout") && (strings.Contains(msg, "openai") || strings.Contains(msg, "llm") || strings.Contains(msg, "client.timeout")) {
		return true
	}
	if strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "tls handshake timeout") ||
		strings.Contains(msg, "eof") {
		return true
	}

	return false
}
