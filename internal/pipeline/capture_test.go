package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/candorvoice/candor/internal/server"
	"github.com/candorvoice/candor/internal/transcript"
	"github.com/candorvoice/candor/pkg/audio"
	"github.com/candorvoice/candor/pkg/provider/stt"
	sttmock "github.com/candorvoice/candor/pkg/provider/stt/mock"
)

// recorder collects broadcast messages for assertions.
type recorder struct {
	mu   sync.Mutex
	msgs []server.Message
}

func (r *recorder) Broadcast(msg server.Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *recorder) find(kind string) (server.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.msgs {
		if m.Type == kind {
			return m, true
		}
	}
	return server.Message{}, false
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never satisfied")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStart_SecondStartReturnsAlreadyActive(t *testing.T) {
	session := &sttmock.Session{EventsCh: make(chan stt.RecognizerEvent)}
	provider := &sttmock.Provider{Session: session}
	c := New(Config{STT: provider, FlushInterval: time.Hour, LevelInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer c.Stop()

	if err := c.Start(ctx); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("second Start = %v, want ErrAlreadyActive", err)
	}
	if len(provider.StartStreamCalls) != 1 {
		t.Errorf("StartStream calls = %d, want 1", len(provider.StartStreamCalls))
	}
}

func TestStart_ProviderFailureWrapped(t *testing.T) {
	provider := &sttmock.Provider{StartStreamErr: errors.New("dial refused")}
	c := New(Config{STT: provider})

	err := c.Start(context.Background())
	var capErr *CaptureError
	if !errors.As(err, &capErr) {
		t.Fatalf("error = %v, want *CaptureError", err)
	}
	if capErr.Stage != "start" {
		t.Errorf("stage = %q, want start", capErr.Stage)
	}
	if c.Active() {
		t.Error("capture should stay idle after a failed start")
	}
}

func TestStop_IdleIsNoop(t *testing.T) {
	c := New(Config{STT: &sttmock.Provider{}})
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop on idle capture: %v", err)
	}
}

func TestFlushLoop_ForwardsDrainedSamplesAsPCM(t *testing.T) {
	session := &sttmock.Session{EventsCh: make(chan stt.RecognizerEvent)}
	provider := &sttmock.Provider{Session: session}
	c := New(Config{
		STT:           provider,
		FlushInterval: 5 * time.Millisecond,
		LevelInterval: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	samples := []float32{0, 0.5, -0.5, 1}
	c.IngestFrame(audio.AudioFrame{Samples: samples, SampleRate: 16000, Timestamp: time.Now()})

	waitFor(t, func() bool { return session.SendAudioCallCount() > 0 })
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	want := audio.Float32ToPCM16LE(samples)
	got := session.SendAudioCalls[0].Chunk
	if len(got) != len(want) {
		t.Fatalf("chunk length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("chunk[%d] = %#x, want %#x", i, got[i], want[i])
		}
	}
}

func TestLevelLoop_BroadcastsSpeakerEvents(t *testing.T) {
	session := &sttmock.Session{EventsCh: make(chan stt.RecognizerEvent)}
	provider := &sttmock.Provider{Session: session}
	sink := &recorder{}
	c := New(Config{
		STT:           provider,
		Broadcaster:   sink,
		FlushInterval: time.Hour,
		LevelInterval: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	// A full-scale square wave has RMS 1.0, well above the user threshold.
	loud := make([]float32, 160)
	for i := range loud {
		loud[i] = 1
	}
	c.IngestFrame(audio.AudioFrame{Samples: loud, SampleRate: 16000, Timestamp: time.Now()})

	waitFor(t, func() bool {
		msg, ok := sink.find(server.KindSpeakerDetected)
		return ok && msg.Speaker == string(audio.SpeakerUser)
	})

	msg, _ := sink.find(server.KindSpeakerDetected)
	if !msg.IsUserSpeaking {
		t.Error("expected isUserSpeaking for a loud frame")
	}
}

func TestEventLoop_QuestionTriggersCallback(t *testing.T) {
	session := &sttmock.Session{EventsCh: make(chan stt.RecognizerEvent, 8)}
	provider := &sttmock.Provider{Session: session}
	sink := &recorder{}
	questions := make(chan transcript.Utterance, 1)
	c := New(Config{
		STT:           provider,
		Broadcaster:   sink,
		FlushInterval: time.Hour,
		LevelInterval: time.Hour,
		OnQuestion:    func(u transcript.Utterance) { questions <- u },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	session.EventsCh <- stt.RecognizerEvent{Type: stt.EventBegin, SessionID: "s-1"}
	session.EventsCh <- stt.RecognizerEvent{Type: stt.EventTurn, Text: "tell me about yourself", IsFinal: false}
	session.EventsCh <- stt.RecognizerEvent{Type: stt.EventTurn, Text: "Tell me about yourself?", IsFinal: true}

	select {
	case u := <-questions:
		if u.Text != "Tell me about yourself?" {
			t.Errorf("question text = %q", u.Text)
		}
		if !u.IsFinal {
			t.Error("callback utterance should be final")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("OnQuestion never invoked")
	}

	if _, ok := sink.find(server.KindTranscriptReceived); !ok {
		t.Error("expected TRANSCRIPT_RECEIVED broadcasts for turn events")
	}
}

func TestEventLoop_NonQuestionDoesNotTriggerCallback(t *testing.T) {
	session := &sttmock.Session{EventsCh: make(chan stt.RecognizerEvent, 8)}
	provider := &sttmock.Provider{Session: session}
	questions := make(chan transcript.Utterance, 1)
	c := New(Config{
		STT:           provider,
		FlushInterval: time.Hour,
		LevelInterval: time.Hour,
		OnQuestion:    func(u transcript.Utterance) { questions <- u },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	session.EventsCh <- stt.RecognizerEvent{Type: stt.EventBegin, SessionID: "s-2"}
	session.EventsCh <- stt.RecognizerEvent{Type: stt.EventTurn, Text: "I worked at a startup.", IsFinal: true}

	waitFor(t, func() bool { return len(c.History()) == 1 })
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	select {
	case u := <-questions:
		t.Fatalf("unexpected question callback for %q", u.Text)
	default:
	}
	if session.CloseCallCount != 1 {
		t.Errorf("session Close calls = %d, want 1", session.CloseCallCount)
	}
}

func TestIngestFrame_DroppedWhileIdle(t *testing.T) {
	c := New(Config{STT: &sttmock.Provider{}})
	c.IngestFrame(audio.AudioFrame{Samples: []float32{0.1}})
	if n := c.buffer.Len(); n != 0 {
		t.Errorf("buffered frames while idle = %d, want 0", n)
	}
}
