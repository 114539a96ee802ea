// Package transcript turns the raw recognizer event stream into finalized
// utterance records.
package transcript

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/candorvoice/candor/pkg/audio"
	"github.com/candorvoice/candor/pkg/provider/stt"
)

// DefaultHistoryCap is the number of finalized utterances retained before
// the oldest are evicted.
const DefaultHistoryCap = 50

// Utterance is one finalized or in-progress piece of transcribed speech.
// The assembler mutates an utterance only while it is partial; once IsFinal
// is set the record is immutable.
type Utterance struct {
	ID        string
	Text      string
	Speaker   audio.SpeakerLabel
	IsFinal   bool
	Timestamp time.Time
}

// Assembler consumes partial/final recognizer events keyed by a session id
// and produces finalized utterances, filtering out empty or interim noise.
//
// It is a small two-state machine: idle until a Begin event opens a session,
// active while turns arrive, and back to idle on Termination. A Begin that
// arrives while a session is already active wins: the old session's partial
// text is discarded. Termination likewise discards any un-finalized partial
// rather than emitting a half-turn.
//
// All methods are safe for concurrent use.
type Assembler struct {
	historyCap int

	mu        sync.Mutex
	sessionID string
	active    bool
	partial   *Utterance
	history   []Utterance
}

// NewAssembler creates an Assembler retaining up to historyCap finalized
// utterances. A historyCap of zero or less uses DefaultHistoryCap.
func NewAssembler(historyCap int) *Assembler {
	if historyCap <= 0 {
		historyCap = DefaultHistoryCap
	}
	return &Assembler{historyCap: historyCap}
}

// OnEvent advances the state machine with one recognizer event. It returns
// a finalized Utterance and true exactly when a turn completes; all other
// events return false.
//
// speaker is the label the level meter currently reports; it is stamped onto
// the utterance when the turn begins and kept for its lifetime.
func (a *Assembler) OnEvent(ev stt.RecognizerEvent, speaker audio.SpeakerLabel) (Utterance, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch ev.Type {
	case stt.EventBegin:
		// Last writer wins: any partial from a previous session is dropped.
		a.sessionID = ev.SessionID
		a.active = true
		a.partial = nil

	case stt.EventTurn:
		if !a.active {
			return Utterance{}, false
		}
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			return Utterance{}, false
		}
		if a.partial == nil {
			a.partial = &Utterance{
				ID:        uuid.NewString(),
				Speaker:   speaker,
				Timestamp: time.Now(),
			}
		}
		// Partial text is replaced wholesale, not appended.
		a.partial.Text = text
		if ev.IsFinal {
			out := *a.partial
			out.IsFinal = true
			a.partial = nil
			a.retain(out)
			return out, true
		}

	case stt.EventTermination:
		a.active = false
		a.sessionID = ""
		a.partial = nil
	}

	return Utterance{}, false
}

// Active reports whether a recognizer session is currently open.
func (a *Assembler) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// SessionID returns the id of the current recognizer session, or "" when idle.
func (a *Assembler) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// History returns a copy of the retained finalized utterances, oldest first.
func (a *Assembler) History() []Utterance {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Utterance, len(a.history))
	copy(out, a.history)
	return out
}

// Reset drops the current session and all retained history.
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = false
	a.sessionID = ""
	a.partial = nil
	a.history = nil
}

// retain appends u to the history, evicting the oldest entry past the cap.
// Must be called with a.mu held.
func (a *Assembler) retain(u Utterance) {
	a.history = append(a.history, u)
	if len(a.history) > a.historyCap {
		a.history = a.history[len(a.history)-a.historyCap:]
	}
}
