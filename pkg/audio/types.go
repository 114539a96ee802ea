package audio

import "time"

// DefaultSampleRate is the sample rate of the capture pipeline in Hz. The
// recognizer upstream expects 16 kHz mono PCM, so capture surfaces are
// expected to deliver frames at this rate.
const DefaultSampleRate = 16000

// AudioFrame represents a single frame of captured audio flowing through the
// pipeline. Samples are normalized to [-1.0, 1.0]. Frames are immutable once
// produced: they are either forwarded to the recognizer transport or measured
// for level, then discarded.
type AudioFrame struct {
	// Samples is normalized mono PCM.
	Samples []float32

	// SampleRate in Hz (16000 for the recognizer path).
	SampleRate int

	// Timestamp marks when this frame was captured.
	Timestamp time.Time
}

// SpeakerLabel identifies which party a loudness sample is attributed to.
type SpeakerLabel string

const (
	// SpeakerUser means the microphone owner is speaking.
	SpeakerUser SpeakerLabel = "user"

	// SpeakerInterviewer means audio is present but below the mic-active
	// threshold, attributed to the remote party.
	SpeakerInterviewer SpeakerLabel = "interviewer"

	// SpeakerUnknown means no significant audio activity.
	SpeakerUnknown SpeakerLabel = "unknown"
)

// SpeakerEvent is the result of classifying one loudness sample. Events are
// produced on a fixed polling cadence and are ephemeral — consumed by the UI
// collaborator and turn-taking logic, never persisted.
type SpeakerEvent struct {
	// Label is the speaker attribution for this sample.
	Label SpeakerLabel

	// Level is the normalized loudness in [0, 1] that produced the label.
	Level float64

	// UserSpeaking reports the mic-active flag derived from Level.
	UserSpeaking bool

	// Changed is true only when the mic-active flag differs from the
	// previous sample, so listeners are not flooded with redundant events.
	Changed bool

	// Timestamp marks when the sample was taken.
	Timestamp time.Time
}
