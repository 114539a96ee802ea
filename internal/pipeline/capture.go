// Package pipeline runs the live capture loop: buffered audio frames are
// flushed to the speech recognizer on a fixed cadence, loudness is sampled
// and classified into speaker events, and recognizer events are assembled
// into utterances that feed the question detector.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/candorvoice/candor/internal/classify"
	"github.com/candorvoice/candor/internal/observe"
	"github.com/candorvoice/candor/internal/server"
	"github.com/candorvoice/candor/internal/transcript"
	"github.com/candorvoice/candor/pkg/audio"
	"github.com/candorvoice/candor/pkg/provider/stt"
)

// Cadences of the two pipeline tickers.
const (
	// DefaultFlushInterval is how often buffered samples are drained and
	// forwarded to the recognizer.
	DefaultFlushInterval = 250 * time.Millisecond

	// DefaultLevelInterval is how often loudness is sampled and classified.
	DefaultLevelInterval = 100 * time.Millisecond
)

// ErrAlreadyActive is returned by Start when a capture is already running.
var ErrAlreadyActive = errors.New("capture already active")

// CaptureError wraps a pipeline failure with the stage it occurred in
// ("start", "send", "stream").
type CaptureError struct {
	Stage string
	Err   error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture %s: %v", e.Stage, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// Broadcaster is the outbound messaging sink, satisfied by *server.Hub.
type Broadcaster interface {
	Broadcast(msg server.Message)
}

// Config assembles a [Capture]'s collaborators.
type Config struct {
	STT         stt.Provider
	Broadcaster Broadcaster
	Metrics     *observe.Metrics
	Logger      *slog.Logger

	SampleRate    int
	Meter         audio.LevelMeterConfig
	HistoryCap    int
	FlushInterval time.Duration
	LevelInterval time.Duration

	// OnQuestion is invoked for each finalized utterance the classifier
	// marks as a question. Called from the pipeline's event goroutine.
	OnQuestion func(u transcript.Utterance)
}

// Capture is the exclusive live capture session. At most one recognizer
// stream is active at a time; Start reports [ErrAlreadyActive] otherwise.
type Capture struct {
	cfg       Config
	logger    *slog.Logger
	buffer    *audio.FrameBuffer
	assembler *transcript.Assembler

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	session stt.SessionHandle
	wg      sync.WaitGroup

	speakerMu sync.Mutex
	meter     *audio.LevelMeter
	speaker   audio.SpeakerLabel
}

// New creates an idle Capture.
func New(cfg Config) *Capture {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.LevelInterval <= 0 {
		cfg.LevelInterval = DefaultLevelInterval
	}
	return &Capture{
		cfg:       cfg,
		logger:    cfg.Logger,
		buffer:    audio.NewFrameBuffer(),
		assembler: transcript.NewAssembler(cfg.HistoryCap),
		meter:     audio.NewLevelMeter(cfg.Meter),
		speaker:   audio.SpeakerUnknown,
	}
}

// Active reports whether a capture session is running.
func (c *Capture) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// History returns the finalized utterances of the current capture run.
func (c *Capture) History() []transcript.Utterance {
	return c.assembler.History()
}

// Start opens a recognizer stream and launches the flush, level, and event
// loops. ctx must outlive the capture session; cancelling it stops the
// pipeline.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrAlreadyActive
	}

	session, err := c.cfg.STT.StartStream(ctx, stt.StreamConfig{SampleRate: c.cfg.SampleRate})
	if err != nil {
		return &CaptureError{Stage: "start", Err: err}
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.session = session
	c.cancel = cancel
	c.running = true
	c.buffer.Reset()
	c.assembler.Reset()
	c.resetSpeaker()

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.ActiveCaptures.Add(runCtx, 1)
	}

	c.wg.Add(3)
	go c.flushLoop(runCtx, session)
	go c.levelLoop(runCtx)
	go c.eventLoop(runCtx, session)

	c.logger.Info("capture started", slog.Int("sample_rate", c.cfg.SampleRate))
	return nil
}

// Stop tears down the running capture session. Stopping an idle Capture is
// a no-op.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancel
	session := c.session
	c.running = false
	c.cancel = nil
	c.session = nil
	c.mu.Unlock()

	err := session.Close()
	cancel()
	c.wg.Wait()

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.ActiveCaptures.Add(context.Background(), -1)
	}
	c.logger.Info("capture stopped")
	return err
}

// IngestFrame appends a captured frame to the aggregation buffer. Frames
// arriving while no capture is active are dropped.
func (c *Capture) IngestFrame(frame audio.AudioFrame) {
	if !c.Active() {
		return
	}
	c.buffer.Append(frame)
}

// flushLoop drains the buffer on each tick and forwards the samples as
// 16-bit LE PCM.
func (c *Capture) flushLoop(ctx context.Context, session stt.SessionHandle) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			samples := c.buffer.Drain()
			if len(samples) == 0 {
				continue
			}
			pcm := audio.Float32ToPCM16LE(samples)
			if err := session.SendAudio(pcm); err != nil {
				if ctx.Err() == nil {
					c.logger.Warn("audio send failed", slog.String("error", err.Error()))
				}
				return
			}
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.AudioFrames.Add(ctx, 1)
			}
		}
	}
}

// levelLoop samples loudness on each tick, classifies it, and broadcasts
// the resulting speaker event.
func (c *Capture) levelLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.LevelInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			level := c.buffer.LatestLevel()
			ev := c.classify(level)
			if c.cfg.Broadcaster != nil {
				c.cfg.Broadcaster.Broadcast(server.SpeakerMessage(
					string(ev.Label), ev.Level, ev.UserSpeaking, ev.Changed,
				))
			}
		}
	}
}

// eventLoop consumes recognizer events, assembles utterances, and hands
// detected questions to the OnQuestion callback.
func (c *Capture) eventLoop(ctx context.Context, session stt.SessionHandle) {
	defer c.wg.Done()
	events := session.Events()
	for {
		var ev stt.RecognizerEvent
		var ok bool
		select {
		case <-ctx.Done():
			return
		case ev, ok = <-events:
			if !ok {
				return
			}
		}
		speaker := c.currentSpeaker()

		if ev.Type == stt.EventTurn && ev.Text != "" && c.cfg.Broadcaster != nil {
			c.cfg.Broadcaster.Broadcast(server.TranscriptMessage(ev.Text, string(speaker), ev.IsFinal))
		}

		u, final := c.assembler.OnEvent(ev, speaker)
		if !final {
			continue
		}

		isQuestion := classify.IsQuestion(u.Text)
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.RecordUtterance(ctx, string(u.Speaker), isQuestion)
		}
		c.logger.Debug("utterance finalized",
			slog.String("speaker", string(u.Speaker)),
			slog.Bool("question", isQuestion),
		)
		if isQuestion && c.cfg.OnQuestion != nil {
			c.cfg.OnQuestion(u)
		}
	}
}

func (c *Capture) classify(level float64) audio.SpeakerEvent {
	c.speakerMu.Lock()
	defer c.speakerMu.Unlock()
	ev := c.meter.Classify(level)
	c.speaker = ev.Label
	return ev
}

func (c *Capture) currentSpeaker() audio.SpeakerLabel {
	c.speakerMu.Lock()
	defer c.speakerMu.Unlock()
	return c.speaker
}

func (c *Capture) resetSpeaker() {
	c.speakerMu.Lock()
	defer c.speakerMu.Unlock()
	c.meter.Reset()
	c.speaker = audio.SpeakerUnknown
}
