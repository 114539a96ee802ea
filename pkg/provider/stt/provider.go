// Package stt defines the Provider interface for streaming
// speech-recognition backends.
//
// A recognizer session accepts 16 kHz mono 16-bit PCM audio frames and emits
// a normalized stream of RecognizerEvent values: a session begin, zero or
// more turns (partial or finalized text), and a final termination with
// duration stats.
//
// Implementors must be safe for concurrent use. The Events channel must be
// closed by the implementation when the session ends or when the supplied
// context is cancelled.
package stt

import "context"

// StreamConfig carries per-session parameters for StartStream.
type StreamConfig struct {
	// SampleRate is the PCM sample rate in Hz. Zero means the provider default.
	SampleRate int
}

// SessionHandle is a live recognition session.
type SessionHandle interface {
	// SendAudio queues a chunk of 16-bit little-endian PCM for delivery to
	// the recognizer. It returns an error once the session is closed.
	SendAudio(chunk []byte) error

	// Events returns the ordered stream of recognizer events. The channel is
	// closed after the Termination event or when the session fails.
	Events() <-chan RecognizerEvent

	// Close ends the session, asking the recognizer to flush pending audio.
	// Safe to call multiple times.
	Close() error
}

// Provider is the abstraction over any streaming speech-recognition backend.
type Provider interface {
	// StartStream opens a recognition session. The returned handle's Events
	// channel emits a Begin event first; context cancellation tears the
	// session down.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
