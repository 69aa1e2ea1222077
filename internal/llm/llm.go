package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// ImagePart attaches a base64-encoded image to a request.
type ImagePart struct {
	Base64PNG string
}

// Request is one chat completion request assembled by a pipeline stage.
type Request struct {
	System    string
	User      string
	Images    []ImagePart
	MaxTokens int
}

// Usage reports provider-side token accounting.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Result is a completed call.
type Result struct {
	Raw   json.RawMessage
	Text  string
	Usage Usage
}

// Client abstracts the chat-completion provider. CompleteJSON constrains the
// response to a JSON object; CompleteText returns free-form text and is used
// by the vision extractor.
type Client interface {
	CompleteJSON(ctx context.Context, req Request) (Result, error)
	CompleteText(ctx context.Context, req Request) (Result, error)
}

// ErrNotConfigured is returned by the placeholder client.
var ErrNotConfigured = errors.New("llm client not configured")

// PlaceholderClient is a stub implementation used when no provider is wired.
type PlaceholderClient struct{}

// CompleteJSON returns ErrNotConfigured.
func (PlaceholderClient) CompleteJSON(ctx context.Context, req Request) (Result, error) {
	_ = ctx
	_ = req
	return Result{}, ErrNotConfigured
}

// CompleteText returns ErrNotConfigured.
func (PlaceholderClient) CompleteText(ctx context.Context, req Request) (Result, error) {
	_ = ctx
	_ = req
	return Result{}, ErrNotConfigured
}
