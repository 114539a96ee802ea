// Package gateway normalizes provider-agnostic answer requests into
// vendor-specific streaming completion calls and hands back one uniform
// delta stream.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/candorvoice/candor/internal/resilience"
	"github.com/candorvoice/candor/internal/session"
	"github.com/candorvoice/candor/internal/store"
	"github.com/candorvoice/candor/pkg/provider/llm"
	"github.com/candorvoice/candor/pkg/provider/llm/anthropic"
	"github.com/candorvoice/candor/pkg/provider/llm/gemini"
	"github.com/candorvoice/candor/pkg/provider/llm/openai"
)

// historyWindow is how many recent conversation turns accompany each
// question.
const historyWindow = 5

// systemPrompt frames every completion request.
const systemPrompt = "You are a live interview assistant. The user is a candidate in a job " +
	"interview; the latest message is a question the interviewer just asked. " +
	"Using the recent conversation for context, suggest a concise, specific, " +
	"well-structured answer the candidate could give. Answer directly, without " +
	"preamble."

// ErrUnknownProvider is returned when the requested provider id has no
// catalog entry.
var ErrUnknownProvider = errors.New("gateway: unknown provider")

// MissingCredentialError is returned when the selected provider has no
// stored API key. It is raised before any network attempt.
type MissingCredentialError struct {
	Provider string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("gateway: no API key stored for provider %q", e.Provider)
}

// Factory builds an llm.Provider for one catalog entry with the given
// credential.
type Factory func(apiKey string, cfg ProviderConfig) (llm.Provider, error)

// DefaultFactories wires the three vendor clients to their catalog entries.
func DefaultFactories() map[string]Factory {
	return map[string]Factory{
		ProviderOpenAI: func(apiKey string, cfg ProviderConfig) (llm.Provider, error) {
			return openai.New(apiKey, openai.WithEndpoint(cfg.Endpoint), openai.WithModel(cfg.ModelID))
		},
		ProviderAnthropic: func(apiKey string, cfg ProviderConfig) (llm.Provider, error) {
			return anthropic.New(apiKey, anthropic.WithEndpoint(cfg.Endpoint), anthropic.WithModel(cfg.ModelID))
		},
		ProviderGemini: func(apiKey string, cfg ProviderConfig) (llm.Provider, error) {
			return gemini.New(apiKey, gemini.WithBaseURL(cfg.Endpoint), gemini.WithModel(cfg.ModelID))
		},
	}
}

// Gateway dispatches answer requests to the selected provider and enforces
// at most one live stream per question id: starting a stream for a question
// cancels any earlier stream for the same id, so a caller can never merge
// deltas from two overlapping generations of one turn.
//
// All methods are safe for concurrent use.
type Gateway struct {
	creds     *Credentials
	factories map[string]Factory
	breakers  *resilience.Set

	mu     sync.Mutex
	active map[string]streamSlot
}

// streamSlot identifies one live stream so that release only ever tears
// down its own registration, never a newer stream that took over the id.
type streamSlot struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Gateway reading credentials from st and using the default
// vendor factories.
func New(st store.Store) *Gateway {
	return NewWithFactories(st, DefaultFactories())
}

// NewWithFactories creates a Gateway with a custom factory set. Used by
// tests to substitute mock providers.
func NewWithFactories(st store.Store, factories map[string]Factory) *Gateway {
	return &Gateway{
		creds:     NewCredentials(st),
		factories: factories,
		breakers:  resilience.NewSet(resilience.BreakerConfig{}),
		active:    make(map[string]streamSlot),
	}
}

// Credentials exposes the credential accessor for settings handlers.
func (g *Gateway) Credentials() *Credentials { return g.creds }

// Stream requests a streamed answer to question from the given provider.
// history is the recent conversation; only the most recent turns within the
// history window are forwarded. questionID ties the stream to one
// question-answer cycle for the single-live-stream guarantee.
//
// The error return is non-nil only when the stream cannot start: unknown
// provider, missing credential (before any network call), an upstream
// refusal, or resilience.ErrCircuitOpen when the provider's breaker has
// tripped on repeated refusals.
func (g *Gateway) Stream(ctx context.Context, questionID, providerID, question string, history []session.Turn) (<-chan llm.Chunk, error) {
	cfg, ok := Lookup(providerID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, providerID)
	}
	factory, ok := g.factories[providerID]
	if !ok {
		return nil, fmt.Errorf("%w: %q has no factory", ErrUnknownProvider, providerID)
	}

	apiKey, err := g.creds.APIKey(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if apiKey == "" {
		return nil, &MissingCredentialError{Provider: providerID}
	}

	provider, err := factory(apiKey, cfg)
	if err != nil {
		return nil, fmt.Errorf("gateway: build provider %q: %w", providerID, err)
	}

	streamCtx := g.claim(ctx, questionID)

	// Only the start attempt feeds the breaker; once deltas flow, a
	// mid-stream failure surfaces on the chunk channel instead.
	var src <-chan llm.Chunk
	err = g.breakers.Get(providerID).Execute(func() error {
		var startErr error
		src, startErr = provider.StreamCompletion(streamCtx, buildRequest(cfg, question, history))
		return startErr
	})
	if err != nil {
		g.release(questionID, streamCtx)
		return nil, err
	}

	out := make(chan llm.Chunk, 32)
	go func() {
		defer close(out)
		defer g.release(questionID, streamCtx)
		for chunk := range src {
			select {
			case out <- chunk:
			case <-streamCtx.Done():
				return
			}
		}
	}()
	return out, nil
}

// CancelAll abandons every live stream. Called on shutdown and when the
// conversation is cleared.
func (g *Gateway) CancelAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, slot := range g.active {
		slot.cancel()
		delete(g.active, id)
	}
}

// claim cancels any live stream for questionID and registers a new one,
// returning its context.
func (g *Gateway) claim(ctx context.Context, questionID string) context.Context {
	g.mu.Lock()
	defer g.mu.Unlock()
	if slot, ok := g.active[questionID]; ok {
		slot.cancel()
	}
	streamCtx, cancel := context.WithCancel(ctx)
	g.active[questionID] = streamSlot{ctx: streamCtx, cancel: cancel}
	return streamCtx
}

// release drops the registration for questionID if streamCtx still owns
// it. A newer stream that took over the id keeps its slot.
func (g *Gateway) release(questionID string, streamCtx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if slot, ok := g.active[questionID]; ok && slot.ctx == streamCtx {
		slot.cancel()
		delete(g.active, questionID)
	}
}

// buildRequest assembles the provider-agnostic completion request: the
// system prompt, the most recent conversation turns, and the question as
// the closing user message.
func buildRequest(cfg ProviderConfig, question string, history []session.Turn) llm.CompletionRequest {
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}

	messages := make([]llm.Message, 0, len(history)+1)
	for _, t := range history {
		messages = append(messages, llm.Message{Role: t.Role, Content: t.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: question})

	return llm.CompletionRequest{
		Messages:     messages,
		SystemPrompt: systemPrompt,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
	}
}
