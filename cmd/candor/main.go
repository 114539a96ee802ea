// Command candor is the interview-assistant companion server: it relays
// captured audio to a streaming speech recognizer, detects interviewer
// questions in the transcript, and streams LLM-generated answers back to
// connected UI clients.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/candorvoice/candor/internal/app"
	"github.com/candorvoice/candor/internal/config"
	"github.com/candorvoice/candor/internal/gateway"
	"github.com/candorvoice/candor/internal/health"
	"github.com/candorvoice/candor/internal/observe"
	"github.com/candorvoice/candor/internal/server"
	"github.com/candorvoice/candor/pkg/provider/llm"
	"github.com/candorvoice/candor/pkg/provider/llm/anthropic"
	"github.com/candorvoice/candor/pkg/provider/llm/gemini"
	"github.com/candorvoice/candor/pkg/provider/llm/openai"
	"github.com/candorvoice/candor/pkg/provider/stt"
	"github.com/candorvoice/candor/pkg/provider/stt/assemblyai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "candor: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "candor: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("candor starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "candor"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Application ───────────────────────────────────────────────────────────
	opts := []app.Option{
		app.WithLogger(logger),
		app.WithGatewayFactories(registryFactories(reg)),
	}
	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if err != nil {
			slog.Error("failed to create stt provider", "name", name, "err", err)
			return 1
		}
		opts = append(opts, app.WithSTT(p))
		slog.Info("provider created", "kind", "stt", "name", name)
	}

	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── HTTP + WebSocket server ───────────────────────────────────────────────
	srvCfg := server.Config{Addr: cfg.Server.ListenAddr}
	if cfg.Server.TLS != nil {
		srvCfg.CertFile = cfg.Server.TLS.CertFile
		srvCfg.KeyFile = cfg.Server.TLS.KeyFile
	}
	srv := server.New(
		srvCfg,
		application.Hub(),
		application,
		observe.DefaultMetrics(),
		health.New(application.HealthCheckers()...),
		logger,
	)

	printStartupSummary(cfg)
	slog.Info("server ready — press Ctrl+C to shut down")

	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(runCtx) })
	g.Go(func() error { return application.Run(runCtx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the provider factories that ship with
// candor into reg: the AssemblyAI streaming recognizer and the three chat
// completion vendors of the gateway catalog.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("assemblyai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []assemblyai.Option
		if entry.BaseURL != "" {
			opts = append(opts, assemblyai.WithEndpoint(entry.BaseURL))
		}
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, assemblyai.WithSampleRate(rate))
		}
		return assemblyai.New(entry.APIKey, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM(gateway.ProviderOpenAI, func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithEndpoint(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, openai.WithModel(entry.Model))
		}
		return openai.New(entry.APIKey, opts...)
	})
	reg.RegisterLLM(gateway.ProviderAnthropic, func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anthropic.Option
		if entry.BaseURL != "" {
			opts = append(opts, anthropic.WithEndpoint(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, anthropic.WithModel(entry.Model))
		}
		return anthropic.New(entry.APIKey, opts...)
	})
	reg.RegisterLLM(gateway.ProviderGemini, func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []gemini.Option
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		return gemini.New(entry.APIKey, opts...)
	})
}

// registryFactories bridges the config registry's per-entry factories to
// the gateway's per-request factories. The catalog supplies endpoint and
// model; credentials arrive per request from the settings store.
func registryFactories(reg *config.Registry) map[string]gateway.Factory {
	factories := make(map[string]gateway.Factory)
	for _, p := range gateway.Providers() {
		factories[p.ID] = func(apiKey string, cfg gateway.ProviderConfig) (llm.Provider, error) {
			return reg.CreateLLM(config.ProviderEntry{
				Name:    cfg.ID,
				APIKey:  apiKey,
				BaseURL: cfg.Endpoint,
				Model:   cfg.ModelID,
			})
		}
	}
	return factories
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          candor — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("STT", cfg.Providers.STT.Name)
	printRow("Active LLM", cfg.Providers.EffectiveActiveLLM())
	printRow("LLM keys", fmt.Sprintf("%d configured", len(cfg.Providers.LLMKeys)))
	if cfg.Storage.PostgresDSN != "" {
		printRow("Storage", "postgres")
	} else {
		printRow("Storage", "in-memory")
	}
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optInt extracts an integer from a provider Options map. YAML decodes
// unqualified numbers as int.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
