// Package server exposes candor's messaging surface: a WebSocket hub that UI
// clients connect to, plus HTTP endpoints for health checks and Prometheus
// metrics. Text frames carry JSON [Message] envelopes; binary frames carry
// 16-bit little-endian PCM audio toward the recognizer relay.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/candorvoice/candor/internal/health"
	"github.com/candorvoice/candor/internal/observe"
)

// shutdownTimeout bounds graceful HTTP shutdown when the run context ends.
const shutdownTimeout = 5 * time.Second

// maxFrameSize caps inbound WS frames. Audio frames at 16 kHz mono 16-bit
// are ~8 KB per 250 ms flush, so 1 MiB leaves headroom.
const maxFrameSize = 1 << 20

// Controller is the application surface the messaging layer drives. All
// methods map one-to-one onto inbound message kinds.
type Controller interface {
	StartTranscription(ctx context.Context) error
	StopTranscription(ctx context.Context) error
	GenerateResponse(ctx context.Context, questionID, text string) error
	RegenerateResponse(ctx context.Context, questionID, provider string) error
	ChangeProvider(ctx context.Context, provider string) error
	ClearContext(ctx context.Context) error
	State(ctx context.Context) (json.RawMessage, error)

	// IngestAudio accepts a binary frame of 16-bit LE PCM samples.
	IngestAudio(pcm []byte) error
}

// Config holds the server's listen settings.
type Config struct {
	Addr     string
	CertFile string
	KeyFile  string
}

// Server owns the HTTP listener, the WebSocket hub, and request dispatch to
// the application [Controller].
type Server struct {
	cfg     Config
	hub     *Hub
	ctrl    Controller
	metrics *observe.Metrics
	checks  *health.Handler
	logger  *slog.Logger
}

// New creates a Server. The hub may be shared with pipeline components that
// broadcast transcripts and answer deltas.
func New(cfg Config, hub *Hub, ctrl Controller, metrics *observe.Metrics, checks *health.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		hub:     hub,
		ctrl:    ctrl,
		metrics: metrics,
		checks:  checks,
		logger:  logger,
	}
}

// Hub returns the broadcast hub.
func (s *Server) Hub() *Hub { return s.hub }

// Handler builds the full HTTP routing tree. The WebSocket endpoint bypasses
// the metrics middleware because the hijacked connection outlives the
// request/response cycle.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.Handle("GET /metrics", promhttp.Handler())
	s.checks.Register(api)

	root := http.NewServeMux()
	root.HandleFunc("GET /ws", s.handleWS)
	root.Handle("/", observe.Middleware(s.metrics, api))
	return root
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("server listening", slog.String("addr", s.cfg.Addr), slog.Bool("tls", s.cfg.CertFile != ""))
		var err error
		if s.cfg.CertFile != "" {
			err = srv.ListenAndServeTLS(s.cfg.CertFile, s.cfg.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// handleWS upgrades the connection and runs its read loop until the client
// disconnects or the request context ends.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", slog.String("error", err.Error()))
		return
	}
	conn.SetReadLimit(maxFrameSize)

	ctx := r.Context()
	cl := newClient(conn)
	s.hub.register(cl)
	s.metrics.ConnectedClients.Add(ctx, 1)
	defer func() {
		s.hub.unregister(cl)
		s.metrics.ConnectedClients.Add(context.Background(), -1)
	}()

	go cl.writeLoop(ctx)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				s.logger.Debug("websocket read ended", slog.String("error", err.Error()))
			}
			return
		}
		switch typ {
		case websocket.MessageBinary:
			if err := s.ctrl.IngestAudio(data); err != nil {
				s.hub.sendTo(cl, ErrorMessage("", err.Error()))
			}
		case websocket.MessageText:
			s.dispatch(ctx, cl, data)
		}
	}
}

// dispatch routes one inbound text frame to the controller.
func (s *Server) dispatch(ctx context.Context, cl *client, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.hub.sendTo(cl, ErrorMessage("", "malformed message"))
		return
	}

	var err error
	switch msg.Type {
	case KindStartTranscription:
		err = s.ctrl.StartTranscription(ctx)
	case KindStopTranscription:
		err = s.ctrl.StopTranscription(ctx)
	case KindGenerateAIResponse:
		err = s.ctrl.GenerateResponse(ctx, msg.QuestionID, msg.Text)
	case KindRegenerateResponse:
		err = s.ctrl.RegenerateResponse(ctx, msg.QuestionID, msg.Provider)
	case KindChangeProvider:
		err = s.ctrl.ChangeProvider(ctx, msg.Provider)
	case KindClearContext:
		err = s.ctrl.ClearContext(ctx)
	case KindGetState:
		var state json.RawMessage
		state, err = s.ctrl.State(ctx)
		if err == nil {
			s.hub.sendTo(cl, Message{Type: KindState, State: state})
		}
	default:
		err = errors.New("unknown message type: " + msg.Type)
	}

	if err != nil {
		s.logger.Warn("message handling failed",
			slog.String("type", msg.Type),
			slog.String("error", err.Error()),
		)
		s.hub.sendTo(cl, ErrorMessage(msg.QuestionID, err.Error()))
	}
}
