// Package assemblyai provides an AssemblyAI-backed STT provider using the
// v3 universal streaming WebSocket API. It implements the stt.Provider
// interface.
package assemblyai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/candorvoice/candor/pkg/provider/stt"
)

const (
	streamingEndpoint = "wss://streaming.assemblyai.com/v3/ws"
	defaultSampleRate = 16000
	pcmEncoding       = "pcm_s16le"

	// defaultCloseTimeout bounds the Terminate handshake. A recognizer
	// that never replies with a Termination event gets the connection
	// torn down instead of blocking Close forever.
	defaultCloseTimeout = 3 * time.Second
)

// Option is a functional option for configuring the AssemblyAI Provider.
type Option func(*Provider)

// WithEndpoint overrides the default streaming WebSocket URL.
func WithEndpoint(u string) Option {
	return func(p *Provider) {
		p.endpoint = u
	}
}

// WithSampleRate sets the provider-level default sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithCloseTimeout overrides how long Close waits for the Termination
// reply before force-closing the connection.
func WithCloseTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.closeTimeout = d
	}
}

// Provider implements stt.Provider backed by the AssemblyAI streaming API.
type Provider struct {
	apiKey       string
	endpoint     string
	sampleRate   int
	closeTimeout time.Duration
}

// New creates a new AssemblyAI Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("assemblyai: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		endpoint:     streamingEndpoint,
		sampleRate:   defaultSampleRate,
		closeTimeout: defaultCloseTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming recognition session with AssemblyAI.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("assemblyai: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("assemblyai: dial: %w", err)
	}

	sess := &session{
		conn:         conn,
		events:       make(chan stt.RecognizerEvent, 64),
		audio:        make(chan []byte, 256),
		done:         make(chan struct{}),
		closeTimeout: p.closeTimeout,
	}

	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)

	return sess, nil
}

// buildURL constructs the streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("encoding", pcmEncoding)
	q.Set("format_turns", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// wireMessage is the superset of JSON messages the v3 API sends. The type
// field discriminates Begin, Turn, Termination, and Error.
type wireMessage struct {
	Type string `json:"type"`

	// Begin
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`

	// Turn
	Transcript      string `json:"transcript"`
	TurnIsFormatted bool   `json:"turn_is_formatted"`

	// Termination
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`

	// Error
	Error string `json:"error"`
}

// session is a live AssemblyAI streaming session. It implements
// stt.SessionHandle.
type session struct {
	conn         *websocket.Conn
	events       chan stt.RecognizerEvent
	audio        chan []byte
	closeTimeout time.Duration

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// SendAudio queues a PCM audio chunk for delivery to AssemblyAI.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("assemblyai: session is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("assemblyai: session is closed")
	}
}

// Events returns the channel of normalized recognizer events.
func (s *session) Events() <-chan stt.RecognizerEvent { return s.events }

// Close terminates the session cleanly. The Terminate message asks
// AssemblyAI to flush pending audio and reply with a Termination event;
// the wait for that reply is bounded, so a recognizer that never answers
// cannot block Close.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"Terminate"}`))

		finished := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(finished)
		}()
		select {
		case <-finished:
			s.conn.Close(websocket.StatusNormalClosure, "session closed")
		case <-time.After(s.closeTimeout):
			// Tearing down the connection unblocks the read loop.
			_ = s.conn.CloseNow()
			<-finished
		}
	})
	return nil
}

// writeLoop reads from the audio channel and sends binary frames upstream.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				return
			}
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			// Drain queued audio before exiting.
			for {
				select {
				case chunk, ok := <-s.audio:
					if !ok {
						return
					}
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives JSON messages from AssemblyAI and dispatches normalized
// events. It exits, closing the events channel, after a Termination message
// or on any read failure.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.events)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			return
		}

		ev, ok := parseMessage(msg)
		if !ok {
			continue
		}

		// The Termination reply usually arrives after Close has fired done,
		// so deliver it without consulting done.
		if ev.Type == stt.EventTermination {
			select {
			case s.events <- ev:
			default:
			}
			return
		}

		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

// parseMessage parses a raw WebSocket message into a RecognizerEvent.
// Returns (zero, false) for unknown or malformed messages, which are ignored.
func parseMessage(data []byte) (stt.RecognizerEvent, bool) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return stt.RecognizerEvent{}, false
	}

	switch msg.Type {
	case "Begin":
		return stt.RecognizerEvent{
			Type:      stt.EventBegin,
			SessionID: msg.ID,
			ExpiresAt: time.Unix(msg.ExpiresAt, 0),
		}, true
	case "Turn":
		return stt.RecognizerEvent{
			Type:    stt.EventTurn,
			Text:    msg.Transcript,
			IsFinal: msg.TurnIsFormatted,
		}, true
	case "Termination":
		return stt.RecognizerEvent{
			Type:            stt.EventTermination,
			AudioDuration:   time.Duration(msg.AudioDurationSeconds * float64(time.Second)),
			SessionDuration: time.Duration(msg.SessionDurationSeconds * float64(time.Second)),
		}, true
	default:
		return stt.RecognizerEvent{}, false
	}
}
