package stt

import "time"

// EventType discriminates the three kinds of recognizer events.
type EventType string

const (
	// EventBegin opens a session and carries its id and expiry.
	EventBegin EventType = "Begin"

	// EventTurn carries partial or finalized transcript text for the
	// current turn.
	EventTurn EventType = "Turn"

	// EventTermination closes a session and carries duration stats.
	EventTermination EventType = "Termination"
)

// RecognizerEvent is one normalized event from a recognition session.
// Fields beyond Type are populated per kind: Begin fills SessionID and
// ExpiresAt, Turn fills Text and IsFinal, Termination fills the durations.
type RecognizerEvent struct {
	Type EventType

	// SessionID is the recognizer-assigned session identifier.
	SessionID string

	// ExpiresAt is when the recognizer will unilaterally end the session.
	ExpiresAt time.Time

	// Text is the transcript so far for the current turn. Partial text is
	// replaced wholesale by each subsequent Turn event, not appended.
	Text string

	// IsFinal marks the last Turn event of a finished, formatted turn.
	IsFinal bool

	// AudioDuration is the total audio processed, reported on Termination.
	AudioDuration time.Duration

	// SessionDuration is the total wall-clock session length, reported on
	// Termination.
	SessionDuration time.Duration
}
