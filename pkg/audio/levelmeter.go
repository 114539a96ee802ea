package audio

import "time"

// Default classification thresholds. These were tuned against typical
// browser-side frequency analysis output and are deliberately configurable:
// microphone gain varies enough between environments that tests and
// deployments need to probe boundary behavior without recalibrating hardware.
const (
	// DefaultUserThreshold is the level above which the microphone owner is
	// considered to be speaking.
	DefaultUserThreshold = 0.15

	// DefaultOtherThreshold is the level above which audio is attributed to
	// the remote party when the mic-active threshold is not met.
	DefaultOtherThreshold = 0.08
)

// LevelMeterConfig holds the hysteresis thresholds for a [LevelMeter].
// Zero values fall back to the package defaults.
type LevelMeterConfig struct {
	// UserThreshold: level > UserThreshold classifies as user.
	UserThreshold float64

	// OtherThreshold: OtherThreshold < level ≤ UserThreshold classifies as
	// interviewer. Must be ≤ UserThreshold.
	OtherThreshold float64
}

// LevelMeter classifies instantaneous loudness samples into speaker labels
// using two-threshold hysteresis. It keeps one bit of state — the mic-active
// flag — and reports edges of that flag so listeners only react to real
// speaker changes. There is no smoothing beyond the flag edge detection;
// rapid oscillation at a boundary is accepted behavior.
//
// A LevelMeter is driven from a single sampling goroutine and is not safe
// for concurrent use.
type LevelMeter struct {
	userThreshold  float64
	otherThreshold float64
	micActive      bool
}

// NewLevelMeter creates a LevelMeter with the given thresholds, applying
// defaults for zero values.
func NewLevelMeter(cfg LevelMeterConfig) *LevelMeter {
	if cfg.UserThreshold <= 0 {
		cfg.UserThreshold = DefaultUserThreshold
	}
	if cfg.OtherThreshold <= 0 {
		cfg.OtherThreshold = DefaultOtherThreshold
	}
	return &LevelMeter{
		userThreshold:  cfg.UserThreshold,
		otherThreshold: cfg.OtherThreshold,
	}
}

// Classify maps a normalized loudness sample to a [SpeakerEvent].
//
// level > user threshold ⇒ user (mic-active); else level > other threshold ⇒
// interviewer; else unknown. Boundary ties favor the lower label: a sample
// exactly at a threshold does not cross it.
func (m *LevelMeter) Classify(level float64) SpeakerEvent {
	wasActive := m.micActive
	m.micActive = level > m.userThreshold

	label := SpeakerUnknown
	switch {
	case m.micActive:
		label = SpeakerUser
	case level > m.otherThreshold:
		label = SpeakerInterviewer
	}

	return SpeakerEvent{
		Label:        label,
		Level:        level,
		UserSpeaking: m.micActive,
		Changed:      m.micActive != wasActive,
		Timestamp:    time.Now(),
	}
}

// Reset clears the mic-active flag, so the next active sample reports a
// change edge. Use when a capture session restarts.
func (m *LevelMeter) Reset() {
	m.micActive = false
}
