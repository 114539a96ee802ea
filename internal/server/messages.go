package server

import "encoding/json"

// Message kinds sent by UI clients.
const (
	KindStartTranscription  = "START_TRANSCRIPTION"
	KindStopTranscription   = "STOP_TRANSCRIPTION"
	KindGenerateAIResponse  = "GENERATE_AI_RESPONSE"
	KindRegenerateResponse  = "REGENERATE_RESPONSE"
	KindChangeProvider      = "CHANGE_PROVIDER"
	KindClearContext        = "CLEAR_CONTEXT"
	KindGetState            = "GET_STATE"
)

// Message kinds broadcast by the server.
const (
	KindAIResponseChunk    = "AI_RESPONSE_CHUNK"
	KindTranscriptReceived = "TRANSCRIPT_RECEIVED"
	KindSpeakerDetected    = "SPEAKER_DETECTED"
	KindState              = "STATE"
	KindError              = "ERROR"
)

// Message is the envelope for all text frames on the messaging channel. It is
// a superset of every kind's fields; unused fields are omitted on the wire.
type Message struct {
	Type string `json:"type"`

	// GENERATE_AI_RESPONSE / REGENERATE_RESPONSE
	Text       string `json:"text,omitempty"`
	QuestionID string `json:"questionId,omitempty"`

	// REGENERATE_RESPONSE / CHANGE_PROVIDER
	Provider string `json:"provider,omitempty"`

	// AI_RESPONSE_CHUNK
	Chunk      string `json:"chunk,omitempty"`
	IsComplete bool   `json:"isComplete,omitempty"`

	// TRANSCRIPT_RECEIVED
	Transcript string `json:"transcript,omitempty"`
	Speaker    string `json:"speaker,omitempty"`
	Final      bool   `json:"final,omitempty"`

	// SPEAKER_DETECTED
	Volume         float64 `json:"volume,omitempty"`
	IsUserSpeaking bool    `json:"isUserSpeaking,omitempty"`
	StateChanged   bool    `json:"stateChanged,omitempty"`

	// STATE
	State json.RawMessage `json:"state,omitempty"`

	// ERROR
	Error string `json:"error,omitempty"`
}

// ChunkMessage builds an AI_RESPONSE_CHUNK broadcast.
func ChunkMessage(questionID, chunk string, complete bool) Message {
	return Message{
		Type:       KindAIResponseChunk,
		QuestionID: questionID,
		Chunk:      chunk,
		IsComplete: complete,
	}
}

// TranscriptMessage builds a TRANSCRIPT_RECEIVED broadcast.
func TranscriptMessage(transcript, speaker string, final bool) Message {
	return Message{
		Type:       KindTranscriptReceived,
		Transcript: transcript,
		Speaker:    speaker,
		Final:      final,
	}
}

// SpeakerMessage builds a SPEAKER_DETECTED broadcast.
func SpeakerMessage(speaker string, volume float64, userSpeaking, changed bool) Message {
	return Message{
		Type:           KindSpeakerDetected,
		Speaker:        speaker,
		Volume:         volume,
		IsUserSpeaking: userSpeaking,
		StateChanged:   changed,
	}
}

// ErrorMessage builds an ERROR broadcast. QuestionID is set when the error
// belongs to a specific answer stream.
func ErrorMessage(questionID, msg string) Message {
	return Message{Type: KindError, QuestionID: questionID, Error: msg}
}
