// Package gemini provides an LLM provider backed by the Google Gemini
// generateContent API. Gemini streams responses as a sequence of standalone
// JSON documents rather than SSE frames, authenticates with the API key in a
// query parameter, and renames the assistant role to "model" with text
// nested in a parts array. This package implements the llm.Provider
// interface over that protocol.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/candorvoice/candor/pkg/provider/llm"
)

const (
	defaultBaseURL   = "https://generativelanguage.googleapis.com/v1beta/models"
	defaultModel     = "gemini-2.5-flash"
	defaultMaxTokens = 8192
)

// Option is a functional option for configuring the Gemini Provider.
type Option func(*Provider)

// WithBaseURL overrides the default models base URL.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = u
	}
}

// WithModel sets the model to request (e.g., "gemini-2.5-flash").
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

// Provider implements llm.Provider against the Gemini API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// New creates a new Gemini Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
		client:  http.DefaultClient,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// request is the JSON body of a streamGenerateContent call.
type request struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

// streamChunk is one JSON document of a streaming response.
type streamChunk struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

// errorBody is the shape of a Gemini error response.
type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s:streamGenerateContent?key=%s", p.baseURL, p.model, url.QueryEscape(p.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: send request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, upstreamError(resp)
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		sc := newObjectScanner(resp.Body)
		for {
			raw, ok := sc.Next()
			if !ok {
				break
			}

			var chunk streamChunk
			if err := json.Unmarshal(raw, &chunk); err != nil {
				slog.Warn("gemini: skipping malformed stream chunk", "error", err)
				continue
			}
			if len(chunk.Candidates) == 0 {
				continue
			}
			cand := chunk.Candidates[0]
			text := ""
			if len(cand.Content.Parts) > 0 {
				text = cand.Content.Parts[0].Text
			}
			if text == "" && cand.FinishReason == "" {
				continue
			}
			out := llm.Chunk{Text: text}
			if cand.FinishReason != "" {
				out.FinishReason = "stop"
			}
			if !emit(ctx, ch, out) {
				return
			}
			if out.FinishReason != "" {
				return
			}
		}

		if err := sc.Err(); err != nil {
			emit(ctx, ch, llm.Chunk{FinishReason: "error", Err: fmt.Errorf("gemini: read stream: %w", err)})
		}
	}()

	return ch, nil
}

// buildRequest maps the provider-agnostic request onto the Gemini wire
// shape. System and assistant roles have no direct equivalent: system
// messages become a leading "user" content block and assistant turns use the
// "model" role.
func (p *Provider) buildRequest(req llm.CompletionRequest) request {
	out := request{
		GenerationConfig: generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}
	if out.GenerationConfig.MaxOutputTokens == 0 {
		out.GenerationConfig.MaxOutputTokens = defaultMaxTokens
	}
	if req.SystemPrompt != "" {
		out.Contents = append(out.Contents, content{
			Role:  "user",
			Parts: []part{{Text: req.SystemPrompt}},
		})
	}
	for _, m := range req.Messages {
		role := m.Role
		switch role {
		case llm.RoleAssistant:
			role = "model"
		case llm.RoleSystem:
			role = "user"
		}
		out.Contents = append(out.Contents, content{
			Role:  role,
			Parts: []part{{Text: m.Content}},
		})
	}
	return out
}

// upstreamError extracts the vendor error message from a non-2xx response.
// Gemini wraps error bodies in a one-element array on streaming endpoints,
// so both framings are tried.
func upstreamError(resp *http.Response) error {
	msg := "request failed"
	if raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16)); err == nil {
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil && eb.Error.Message != "" {
			msg = eb.Error.Message
		} else {
			var ebs []errorBody
			if json.Unmarshal(raw, &ebs) == nil && len(ebs) > 0 && ebs[0].Error.Message != "" {
				msg = ebs[0].Error.Message
			}
		}
	}
	return &llm.UpstreamError{Vendor: "gemini", StatusCode: resp.StatusCode, Message: msg}
}

func emit(ctx context.Context, ch chan<- llm.Chunk, c llm.Chunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
