// Package openai provides an LLM provider backed by the OpenAI chat
// completions API using its SSE streaming protocol. It implements the
// llm.Provider interface.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/candorvoice/candor/pkg/provider/llm"
)

const (
	defaultEndpoint  = "https://api.openai.com/v1/chat/completions"
	defaultModel     = "gpt-4-turbo"
	defaultMaxTokens = 4096
	doneSentinel     = "[DONE]"
)

// Option is a functional option for configuring the OpenAI Provider.
type Option func(*Provider)

// WithEndpoint overrides the default chat completions URL.
func WithEndpoint(url string) Option {
	return func(p *Provider) {
		p.endpoint = url
	}
}

// WithModel sets the model to request (e.g., "gpt-4-turbo", "gpt-4o").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithHTTPClient replaces the HTTP client used for requests. The client's
// Timeout must be zero; a non-zero value would cut off long-lived streams.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// Provider implements llm.Provider against the OpenAI API.
type Provider struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// New creates a new OpenAI Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		endpoint: defaultEndpoint,
		client:   http.DefaultClient,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// request is the JSON body of a streaming chat completion call.
type request struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// streamChunk is one SSE data payload of a streaming response.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// errorBody is the shape of an OpenAI error response.
type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: send request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, upstreamError(resp)
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		sc := llm.NewSSEScanner(resp.Body)
		for {
			data, ok := sc.Next()
			if !ok {
				break
			}
			if string(data) == doneSentinel {
				emit(ctx, ch, llm.Chunk{FinishReason: "stop"})
				return
			}

			var chunk streamChunk
			if err := json.Unmarshal(data, &chunk); err != nil {
				slog.Warn("openai: skipping malformed stream line", "error", err)
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			if choice.Delta.Content == "" && choice.FinishReason == "" {
				continue
			}
			if !emit(ctx, ch, llm.Chunk{Text: choice.Delta.Content, FinishReason: choice.FinishReason}) {
				return
			}
		}

		if err := sc.Err(); err != nil {
			emit(ctx, ch, llm.Chunk{FinishReason: "error", Err: fmt.Errorf("openai: read stream: %w", err)})
		}
	}()

	return ch, nil
}

// buildRequest maps the provider-agnostic request onto the OpenAI wire shape.
// The system prompt becomes a leading "system"-role message.
func (p *Provider) buildRequest(req llm.CompletionRequest) request {
	out := request{
		Model:       p.model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = defaultMaxTokens
	}
	if req.SystemPrompt != "" {
		out.Messages = append(out.Messages, wireMessage{Role: llm.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, wireMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// upstreamError extracts the vendor error message from a non-2xx response.
func upstreamError(resp *http.Response) error {
	msg := "request failed"
	if raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16)); err == nil {
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil && eb.Error.Message != "" {
			msg = eb.Error.Message
		}
	}
	return &llm.UpstreamError{Vendor: "openai", StatusCode: resp.StatusCode, Message: msg}
}

func emit(ctx context.Context, ch chan<- llm.Chunk, c llm.Chunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
