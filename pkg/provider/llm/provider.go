// Package llm defines the Provider interface for streaming chat-completion
// backends.
//
// Each vendor (OpenAI, Anthropic, Gemini) speaks its own request shape, auth
// scheme, and wire framing. A Provider hides all of that behind one contract:
// it accepts a provider-agnostic CompletionRequest and returns a uniform
// stream of text deltas.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends
// or when the supplied context is cancelled.
package llm

import "context"

// CompletionRequest carries everything a provider needs to produce a
// streamed answer. Callers should treat a zero-value request as invalid; at
// minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []Message

	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation history. Providers that have no dedicated system slot
	// prepend it as a "system"-role message.
	SystemPrompt string

	// Temperature controls output randomness. Zero means use the provider
	// default.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int
}

// Chunk is a single text fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental text content of this chunk. May be empty on
	// the final chunk.
	Text string

	// FinishReason is set on the final chunk and indicates why generation
	// stopped. Common values are "stop" and "error"; non-final chunks carry "".
	FinishReason string

	// Err is non-nil only when FinishReason is "error" and describes a
	// failure that interrupted an already-open stream.
	Err error
}

// Provider is the abstraction over any chat-completion backend.
//
// Implementations must be safe for concurrent use from multiple goroutines.
type Provider interface {
	// StreamCompletion sends req to the model and returns a read-only channel
	// that emits Chunk values as they arrive. The channel is closed by the
	// implementation when generation finishes or when ctx is cancelled.
	//
	// Callers must drain the channel to avoid goroutine leaks. The initial
	// error return is non-nil only for failures that prevent the stream from
	// starting (invalid credentials, unreachable endpoint, non-2xx response);
	// errors after the stream opens surface as a final Chunk with Err set.
	//
	// The returned channel must never be nil when error is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)
}

// Collect drains a completion stream and concatenates its text deltas.
// It returns the first mid-stream error encountered, with whatever text
// arrived before it.
func Collect(ctx context.Context, ch <-chan Chunk) (string, error) {
	var out []byte
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return string(out), nil
			}
			out = append(out, chunk.Text...)
			if chunk.Err != nil {
				return string(out), chunk.Err
			}
		case <-ctx.Done():
			return string(out), ctx.Err()
		}
	}
}
