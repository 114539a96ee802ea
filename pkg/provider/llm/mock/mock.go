// Package mock provides a test double for the llm.Provider interface.
//
// Pre-populate Chunks with the deltas a test wants the consumer to receive;
// StreamCompletion replays them on a fresh channel and records every request
// it saw.
package mock

import (
	"context"
	"sync"

	"github.com/candorvoice/candor/pkg/provider/llm"
)

// StreamCall records a single invocation of Provider.StreamCompletion.
type StreamCall struct {
	// Ctx is the context passed to StreamCompletion.
	Ctx context.Context
	// Req is the request passed to StreamCompletion.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Chunks are replayed in order on every StreamCompletion call.
	Chunks []llm.Chunk

	// StreamErr, if non-nil, is returned as the error from StreamCompletion.
	StreamErr error

	// StreamCalls records every call to StreamCompletion.
	StreamCalls []StreamCall
}

// StreamCompletion records the call and replays Chunks on a new channel,
// closing it afterwards.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	chunks := make([]llm.Chunk, len(p.Chunks))
	copy(chunks, p.Chunks)
	err := p.StreamErr
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// CallCount returns the number of StreamCompletion calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StreamCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = nil
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
