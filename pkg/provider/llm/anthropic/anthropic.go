// Package anthropic provides an LLM provider backed by the Anthropic
// Messages API using its SSE streaming protocol. It implements the
// llm.Provider interface.
package anthropic

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
	defaultEndpoint  = "https://api.anthropic.com/v1/messages"
	defaultModel     = "claude-3-5-sonnet-20241022"
	defaultMaxTokens = 4096

	// apiVersion is the fixed protocol version the Messages API requires on
	// every request.
	apiVersion = "2023-06-01"
)

// Option is a functional option for configuring the Anthropic Provider.
type Option func(*Provider)

// WithEndpoint overrides the default Messages API URL.
func WithEndpoint(url string) Option {
	return func(p *Provider) {
		p.endpoint = url
	}
}

// WithModel sets the model to request (e.g., "claude-3-5-sonnet-20241022").
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

// Provider implements llm.Provider against the Anthropic Messages API.
type Provider struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// New creates a new Anthropic Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: apiKey must not be empty")
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

// request is the JSON body of a streaming Messages call. Unlike OpenAI, the
// system prompt rides in a dedicated top-level field rather than a message.
type request struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// streamEvent is one SSE data payload of a streaming response. Only
// content_block_delta events carry text; message_stop ends the stream.
type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// errorBody is the shape of an Anthropic error response.
type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: send request: %w", err)
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

			var ev streamEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				slog.Warn("anthropic: skipping malformed stream line", "error", err)
				continue
			}

			switch ev.Type {
			case "content_block_delta":
				if ev.Delta.Text == "" {
					continue
				}
				if !emit(ctx, ch, llm.Chunk{Text: ev.Delta.Text}) {
					return
				}
			case "message_stop":
				emit(ctx, ch, llm.Chunk{FinishReason: "stop"})
				return
			case "error":
				emit(ctx, ch, llm.Chunk{
					FinishReason: "error",
					Err:          fmt.Errorf("anthropic: stream error: %s", ev.Error.Message),
				})
				return
			}
		}

		if err := sc.Err(); err != nil {
			emit(ctx, ch, llm.Chunk{FinishReason: "error", Err: fmt.Errorf("anthropic: read stream: %w", err)})
		}
	}()

	return ch, nil
}

// buildRequest maps the provider-agnostic request onto the Messages wire
// shape. Any "system"-role messages are folded into the dedicated system
// field, which the API requires.
func (p *Provider) buildRequest(req llm.CompletionRequest) request {
	out := request{
		Model:       p.model,
		System:      req.SystemPrompt,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = defaultMaxTokens
	}
	for _, m := range req.Messages {
		if m.Role == llm.RoleSystem {
			if out.System != "" {
				out.System += "\n\n"
			}
			out.System += m.Content
			continue
		}
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
	return &llm.UpstreamError{Vendor: "anthropic", StatusCode: resp.StatusCode, Message: msg}
}

func emit(ctx context.Context, ch chan<- llm.Chunk, c llm.Chunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
