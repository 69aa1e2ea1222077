// Package openai implements llm.Client against the OpenAI and Azure OpenAI
// Chat Completions endpoints.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"disclosure-backend/internal/llm"
	"disclosure-backend/internal/shared/metrics"
)

const openAIURL = "https://api.openai.com/v1/chat/completions"

// Options configure the client.
type Options struct {
	APIKey          string
	Model           string
	TimeoutSeconds  int
	Provider        string // "openai" or "azure"
	AzureEndpoint   string
	AzureAPIVersion string
}

// Client implements llm.Client using Chat Completions.
type Client struct {
	opts       Options
	url        string
	httpClient *http.Client
}

// NewClient constructs a provider client.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, fmt.Errorf("OPENAI_MODEL is required")
	}
	timeout := 30 * time.Second
	if opts.TimeoutSeconds > 0 {
		timeout = time.Duration(opts.TimeoutSeconds) * time.Second
	}

	url := openAIURL
	if opts.Provider == "azure" {
		endpoint := strings.TrimRight(strings.TrimSpace(opts.AzureEndpoint), "/")
		if endpoint == "" {
			return nil, fmt.Errorf("AZURE_OPENAI_ENDPOINT is required when OPENAI_PROVIDER=azure")
		}
		url = fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			endpoint, opts.Model, opts.AzureAPIVersion)
	}

	return &Client{
		opts: opts,
		url:  url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float32        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// CompleteJSON performs a completion constrained to a JSON object. If the
// provider returns invalid JSON the call is retried once with a fix-up prompt.
func (c *Client) CompleteJSON(ctx context.Context, req llm.Request) (llm.Result, error) {
	res, err := c.completeOnce(ctx, req, true)
	if err != nil {
		return llm.Result{}, err
	}
	if json.Valid([]byte(res.Text)) {
		res.Raw = json.RawMessage(res.Text)
		return res, nil
	}

	fixReq := llm.Request{
		System: "You repair malformed JSON. Return only the corrected JSON object, nothing else.",
		User:   res.Text,
	}
	fixed, err := c.completeOnce(ctx, fixReq, true)
	if err != nil {
		return llm.Result{}, err
	}
	if !json.Valid([]byte(fixed.Text)) {
		return llm.Result{}, fmt.Errorf("openai returned invalid JSON")
	}
	fixed.Raw = json.RawMessage(fixed.Text)
	fixed.Usage.TotalTokens += res.Usage.TotalTokens
	return fixed, nil
}

// CompleteText performs a free-form completion.
func (c *Client) CompleteText(ctx context.Context, req llm.Request) (llm.Result, error) {
	return c.completeOnce(ctx, req, false)
}

func (c *Client) completeOnce(ctx context.Context, req llm.Request, jsonMode bool) (llm.Result, error) {
	start := time.Now()
	defer func() {
		metrics.ObserveLLMCallDurationMs(float64(time.Since(start).Milliseconds()))
	}()

	messages := make([]chatMessage, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	if len(req.Images) == 0 {
		messages = append(messages, chatMessage{Role: "user", Content: req.User})
	} else {
		parts := make([]contentPart, 0, len(req.Images)+1)
		parts = append(parts, contentPart{Type: "text", Text: req.User})
		for _, img := range req.Images {
			parts = append(parts, contentPart{
				Type:     "image_url",
				ImageURL: &imageURL{URL: "data:image/png;base64," + img.Base64PNG},
			})
		}
		messages = append(messages, chatMessage{Role: "user", Content: parts})
	}

	temp := float32(0)
	reqBody := chatRequest{
		Model:       c.opts.Model,
		Messages:    messages,
		Temperature: &temp,
		MaxTokens:   req.MaxTokens,
	}
	if jsonMode {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return llm.Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return llm.Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.opts.Provider == "azure" {
		httpReq.Header.Set("api-key", c.opts.APIKey)
	} else {
		httpReq.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
			return llm.Result{}, fmt.Errorf("openai request timeout: %w", err)
		}
		return llm.Result{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return llm.Result{}, err
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return llm.Result{}, fmt.Errorf("openai response parse (http status %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return llm.Result{}, fmt.Errorf("openai error: %s (%s)", parsed.Error.Message, parsed.Error.Type)
	}
	if len(parsed.Choices) == 0 {
		return llm.Result{}, fmt.Errorf("openai response missing choices")
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return llm.Result{}, fmt.Errorf("openai response empty content")
	}

	result := llm.Result{Text: content}
	if parsed.Usage != nil {
		result.Usage = llm.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}
		metrics.AddLLMTokens(parsed.Usage.TotalTokens)
	}
	return result, nil
}

var _ llm.Client = (*Client)(nil)
