package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/candorvoice/candor/internal/resilience"
	"github.com/candorvoice/candor/internal/session"
	"github.com/candorvoice/candor/internal/store"
	"github.com/candorvoice/candor/pkg/provider/llm"
	llmmock "github.com/candorvoice/candor/pkg/provider/llm/mock"
)

func storeWithKey(t *testing.T, providerID, secret string) store.Store {
	t.Helper()
	st := store.NewMemory()
	creds := NewCredentials(st)
	if err := creds.SetAPIKey(context.Background(), providerID, secret); err != nil {
		t.Fatalf("SetAPIKey: %v", err)
	}
	return st
}

func mockFactories(p *llmmock.Provider) map[string]Factory {
	f := func(apiKey string, cfg ProviderConfig) (llm.Provider, error) { return p, nil }
	return map[string]Factory{
		ProviderGemini:    f,
		ProviderOpenAI:    f,
		ProviderAnthropic: f,
	}
}

func TestStream_MissingCredentialBeforeNetwork(t *testing.T) {
	mock := &llmmock.Provider{}
	g := NewWithFactories(store.NewMemory(), mockFactories(mock))

	_, err := g.Stream(context.Background(), "q1", ProviderOpenAI, "What is Go?", nil)

	var mc *MissingCredentialError
	if !errors.As(err, &mc) {
		t.Fatalf("error = %v, want *MissingCredentialError", err)
	}
	if mc.Provider != ProviderOpenAI {
		t.Errorf("Provider = %q, want openai", mc.Provider)
	}
	if mock.CallCount() != 0 {
		t.Error("provider was invoked despite the missing credential")
	}
}

func TestStream_UnknownProvider(t *testing.T) {
	g := NewWithFactories(store.NewMemory(), nil)
	_, err := g.Stream(context.Background(), "q1", "cohere", "x", nil)
	if !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("error = %v, want ErrUnknownProvider", err)
	}
}

func TestStream_DeliversChunks(t *testing.T) {
	mock := &llmmock.Provider{Chunks: []llm.Chunk{
		{Text: "Go is "},
		{Text: "a language", FinishReason: "stop"},
	}}
	g := NewWithFactories(storeWithKey(t, ProviderGemini, "secret"), mockFactories(mock))

	ch, err := g.Stream(context.Background(), "q1", ProviderGemini, "What is Go?", nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	got, err := llm.Collect(context.Background(), ch)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got != "Go is a language" {
		t.Errorf("collected = %q", got)
	}
}

func TestStream_RequestShape(t *testing.T) {
	mock := &llmmock.Provider{}
	g := NewWithFactories(storeWithKey(t, ProviderAnthropic, "secret"), mockFactories(mock))

	history := make([]session.Turn, 0, 8)
	for i := 0; i < 8; i++ {
		role := llm.RoleUser
		if i%2 == 1 {
			role = llm.RoleAssistant
		}
		history = append(history, session.Turn{Role: role, Content: string(rune('a' + i))})
	}

	ch, err := g.Stream(context.Background(), "q1", ProviderAnthropic, "What is Go?", history)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	for range ch {
	}

	if mock.CallCount() != 1 {
		t.Fatalf("provider calls = %d, want 1", mock.CallCount())
	}
	req := mock.StreamCalls[0].Req
	if req.SystemPrompt == "" {
		t.Error("request has no system prompt")
	}
	// Only the history window plus the question itself goes upstream.
	if len(req.Messages) != historyWindow+1 {
		t.Fatalf("len(Messages) = %d, want %d", len(req.Messages), historyWindow+1)
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != llm.RoleUser || last.Content != "What is Go?" {
		t.Errorf("closing message = %+v, want the question as a user message", last)
	}
	// Catalog numbers ride along.
	if req.MaxTokens != 4096 {
		t.Errorf("MaxTokens = %d, want 4096 for anthropic", req.MaxTokens)
	}
	if req.Temperature != 0.7 {
		t.Errorf("Temperature = %v, want 0.7", req.Temperature)
	}
}

// slowProvider streams forever until its context is cancelled, recording
// the context it was given.
type slowProvider struct {
	ctxs chan context.Context
}

func (p *slowProvider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.ctxs <- ctx
	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		<-ctx.Done()
	}()
	return ch, nil
}

func TestStream_SecondStreamForSameQuestionAbandonsFirst(t *testing.T) {
	slow := &slowProvider{ctxs: make(chan context.Context, 2)}
	f := func(apiKey string, cfg ProviderConfig) (llm.Provider, error) { return slow, nil }
	g := NewWithFactories(storeWithKey(t, ProviderGemini, "secret"),
		map[string]Factory{ProviderGemini: f})

	first, err := g.Stream(context.Background(), "q1", ProviderGemini, "x", nil)
	if err != nil {
		t.Fatalf("first Stream: %v", err)
	}
	firstCtx := <-slow.ctxs

	second, err := g.Stream(context.Background(), "q1", ProviderGemini, "x", nil)
	if err != nil {
		t.Fatalf("second Stream: %v", err)
	}
	<-slow.ctxs

	select {
	case <-firstCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("first stream's context was not cancelled by the second Stream call")
	}
	// The first channel drains without deltas; the second stays live.
	for range first {
	}

	g.CancelAll()
	for range second {
	}
}

func TestStream_BreakerTripsOnRepeatedRefusals(t *testing.T) {
	mock := &llmmock.Provider{StreamErr: errors.New("upstream: 503")}
	st := storeWithKey(t, ProviderOpenAI, "secret")
	creds := NewCredentials(st)
	creds.SetAPIKey(context.Background(), ProviderGemini, "secret")
	g := NewWithFactories(st, mockFactories(mock))

	for i := 0; i < 5; i++ {
		if _, err := g.Stream(context.Background(), "q1", ProviderOpenAI, "x", nil); err == nil {
			t.Fatalf("attempt %d: expected upstream error", i)
		}
	}

	// The tripped breaker now rejects before reaching the provider.
	calls := mock.CallCount()
	_, err := g.Stream(context.Background(), "q1", ProviderOpenAI, "x", nil)
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("error = %v, want ErrCircuitOpen", err)
	}
	if mock.CallCount() != calls {
		t.Error("provider was invoked while the breaker was open")
	}

	// Other providers keep their own breakers.
	mock.StreamErr = nil
	ch, err := g.Stream(context.Background(), "q2", ProviderGemini, "x", nil)
	if err != nil {
		t.Fatalf("gemini Stream: %v", err)
	}
	for range ch {
	}
}

func TestCredentials_RoundTrip(t *testing.T) {
	ctx := context.Background()
	creds := NewCredentials(store.NewMemory())

	if key, err := creds.APIKey(ctx, ProviderOpenAI); err != nil || key != "" {
		t.Errorf("APIKey on empty store = %q, %v", key, err)
	}

	creds.SetAPIKey(ctx, ProviderOpenAI, "sk-1")
	creds.SetAPIKey(ctx, ProviderGemini, "g-1")

	if key, _ := creds.APIKey(ctx, ProviderOpenAI); key != "sk-1" {
		t.Errorf("openai key = %q", key)
	}

	// Empty secret removes the entry.
	creds.SetAPIKey(ctx, ProviderOpenAI, "")
	if key, _ := creds.APIKey(ctx, ProviderOpenAI); key != "" {
		t.Errorf("openai key after removal = %q", key)
	}
	if key, _ := creds.APIKey(ctx, ProviderGemini); key != "g-1" {
		t.Errorf("gemini key disturbed by unrelated removal: %q", key)
	}
}

func TestCatalog(t *testing.T) {
	if _, ok := Lookup(DefaultProviderID); !ok {
		t.Error("default provider has no catalog entry")
	}
	g, _ := Lookup(ProviderGemini)
	if g.ModelID != "gemini-2.5-flash" || g.MaxTokens != 8192 {
		t.Errorf("gemini entry = %+v", g)
	}
	if len(Providers()) != 3 {
		t.Errorf("Providers() returned %d entries, want 3", len(Providers()))
	}
}
