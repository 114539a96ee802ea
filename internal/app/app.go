// Package app wires all candor subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the background loops, and Shutdown tears
// everything down in order. App implements server.Controller, so the
// messaging layer drives it directly.
//
// For testing, inject mock implementations via functional options
// (WithStore, WithSTT, etc.). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/candorvoice/candor/internal/config"
	"github.com/candorvoice/candor/internal/gateway"
	"github.com/candorvoice/candor/internal/health"
	"github.com/candorvoice/candor/internal/observe"
	"github.com/candorvoice/candor/internal/pipeline"
	"github.com/candorvoice/candor/internal/server"
	"github.com/candorvoice/candor/internal/session"
	"github.com/candorvoice/candor/internal/store"
	"github.com/candorvoice/candor/pkg/provider/stt"
	"github.com/candorvoice/candor/pkg/provider/stt/assemblyai"
)

// App owns all subsystem lifetimes and orchestrates the interview-assistant
// pipeline: capture → transcript → question detection → answer streaming.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observe.Metrics

	store       store.Store
	gw          *gateway.Gateway
	gwFactories map[string]gateway.Factory
	hub         *server.Hub
	capture     *pipeline.Capture
	convo       *session.Context
	autosaver   *session.Autosaver
	sttProv     stt.Provider

	// runMu guards runCtx, the long-lived context set by Run that capture
	// sessions and answer streams attach to, and sessionID, which Run
	// rewrites when it resumes a persisted session.
	runMu     sync.Mutex
	runCtx    context.Context
	sessionID string

	// questions maps question id → question text so regeneration can replay
	// the original prompt.
	qmu       sync.Mutex
	questions map[string]string

	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a settings store instead of creating one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithSTT injects a speech recognizer instead of building the AssemblyAI
// client from config.
func WithSTT(p stt.Provider) Option {
	return func(a *App) { a.sttProv = p }
}

// WithGateway injects a provider gateway instead of creating one over the
// store.
func WithGateway(g *gateway.Gateway) Option {
	return func(a *App) { a.gw = g }
}

// WithGatewayFactories overrides the per-provider client factories used
// when the App creates its own gateway.
func WithGatewayFactories(factories map[string]gateway.Factory) Option {
	return func(a *App) { a.gwFactories = factories }
}

// WithMetrics injects a metrics set instead of using the global default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger injects a logger instead of slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Initialisation is
// synchronous: store connection, credential seeding, recognizer client
// construction, and pipeline assembly all happen here.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		questions: make(map[string]string),
		sessionID: uuid.NewString(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Settings store ────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Provider gateway + credentials ────────────────────────────────
	if err := a.initGateway(ctx); err != nil {
		return nil, fmt.Errorf("app: init gateway: %w", err)
	}

	// ── 3. Conversation context + autosave ───────────────────────────────
	a.convo = session.NewContext(a.cfg.Context.EffectiveMaxTurns())
	a.autosaver = session.NewAutosaver(session.AutosaverConfig{
		Store:     a.store,
		Context:   a.convo,
		SessionID: a.sessionID,
		Interval:  time.Duration(a.cfg.Context.SaveIntervalSeconds) * time.Second,
		TTL:       time.Duration(a.cfg.Context.SnapshotTTLHours) * time.Hour,
	})

	// ── 4. Recognizer client ─────────────────────────────────────────────
	if err := a.initSTT(); err != nil {
		return nil, fmt.Errorf("app: init stt: %w", err)
	}

	// ── 5. Messaging hub + capture pipeline ──────────────────────────────
	a.hub = server.NewHub(a.logger)
	a.capture = pipeline.New(pipeline.Config{
		STT:           a.sttProv,
		Broadcaster:   a.hub,
		Metrics:       a.metrics,
		Logger:        a.logger,
		SampleRate:    a.cfg.Audio.EffectiveSampleRate(),
		Meter:         a.cfg.Audio.LevelMeterConfig(),
		HistoryCap:    a.cfg.Context.EffectiveUtteranceHistory(),
		FlushInterval: time.Duration(a.cfg.Audio.EffectiveFlushIntervalMs()) * time.Millisecond,
		LevelInterval: time.Duration(a.cfg.Audio.EffectiveLevelIntervalMs()) * time.Millisecond,
		OnQuestion:    a.onQuestion,
	})

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the Postgres-backed store when a DSN is configured,
// otherwise falls back to the in-memory store.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	dsn := a.cfg.Storage.PostgresDSN
	if dsn == "" {
		a.logger.Warn("no postgres dsn configured, settings will not survive restarts")
		a.store = store.NewMemory()
		return nil
	}

	pg, err := store.NewPostgres(ctx, dsn)
	if err != nil {
		return err
	}
	a.store = pg
	a.closers = append(a.closers, pg.Close)
	return nil
}

// initGateway creates the gateway and seeds credentials from config.
// Config-provided keys overwrite stored ones so rotations in the YAML take
// effect on restart.
func (a *App) initGateway(ctx context.Context) error {
	if a.gw == nil {
		if a.gwFactories != nil {
			a.gw = gateway.NewWithFactories(a.store, a.gwFactories)
		} else {
			a.gw = gateway.New(a.store)
		}
	}

	for id, key := range a.cfg.Providers.LLMKeys {
		if key == "" {
			continue
		}
		if err := a.gw.Credentials().SetAPIKey(ctx, id, key); err != nil {
			return fmt.Errorf("seed credential for %q: %w", id, err)
		}
		a.logger.Info("seeded provider credential", slog.String("provider", id))
	}
	return nil
}

// initSTT builds the AssemblyAI client unless a recognizer was injected.
func (a *App) initSTT() error {
	if a.sttProv != nil {
		return nil
	}

	entry := a.cfg.Providers.STT
	var opts []assemblyai.Option
	if entry.BaseURL != "" {
		opts = append(opts, assemblyai.WithEndpoint(entry.BaseURL))
	}
	opts = append(opts, assemblyai.WithSampleRate(a.cfg.Audio.EffectiveSampleRate()))

	prov, err := assemblyai.New(entry.APIKey, opts...)
	if err != nil {
		return err
	}
	a.sttProv = prov
	return nil
}

// ─── Run / Shutdown ──────────────────────────────────────────────────────────

// Hub returns the broadcast hub for the messaging server.
func (a *App) Hub() *server.Hub { return a.hub }

// Run performs startup housekeeping and blocks on the autosave loop until
// ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.runMu.Lock()
	a.runCtx = ctx
	a.runMu.Unlock()

	if err := a.autosaver.Sweep(ctx); err != nil {
		a.logger.Warn("snapshot sweep failed", slog.String("error", err.Error()))
	}

	switch id, err := a.autosaver.LoadLatest(ctx); {
	case err == nil:
		a.setSessionID(id)
		a.logger.Info("resumed persisted session",
			slog.String("session_id", id),
			slog.Int("turns", a.convo.Len()))
	case errors.Is(err, store.ErrNotFound):
		// Nothing to resume; stay on the fresh session id.
	default:
		a.logger.Warn("session restore failed", slog.String("error", err.Error()))
	}

	a.logger.Info("app running",
		slog.String("session_id", a.currentSessionID()),
		slog.String("active_provider", a.mustActiveProvider(ctx)),
	)

	a.autosaver.Run(ctx)

	if err := a.capture.Stop(); err != nil {
		a.logger.Warn("capture stop on shutdown", slog.String("error", err.Error()))
	}
	a.gw.CancelAll()
	return ctx.Err()
}

// Shutdown tears down remaining subsystems in reverse-init order.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", slog.Int("closers", len(a.closers)))
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.logger.Warn("closer error", slog.Int("index", i), slog.String("error", err.Error()))
			}
		}
	})
	return shutdownErr
}

// HealthCheckers returns the readiness checks for /readyz: store
// reachability and a configured credential for the active provider.
func (a *App) HealthCheckers() []health.Checker {
	return []health.Checker{
		{
			Name: "store",
			Check: func(ctx context.Context) error {
				_, err := a.store.Keys(ctx, store.SessionKeyPrefix)
				return err
			},
		},
		{
			Name: "credentials",
			Check: func(ctx context.Context) error {
				id, err := a.activeProvider(ctx)
				if err != nil {
					return err
				}
				key, err := a.gw.Credentials().APIKey(ctx, id)
				if err != nil {
					return err
				}
				if key == "" {
					return fmt.Errorf("no api key configured for provider %q", id)
				}
				return nil
			},
		},
	}
}

// currentSessionID returns the session id, which may have been replaced by
// a restored one after Run started.
func (a *App) currentSessionID() string {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sessionID
}

func (a *App) setSessionID(id string) {
	a.runMu.Lock()
	a.sessionID = id
	a.runMu.Unlock()
}

// runContext returns the long-lived context from Run, falling back to
// context.Background before Run has been called.
func (a *App) runContext() context.Context {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.runCtx != nil {
		return a.runCtx
	}
	return context.Background()
}
