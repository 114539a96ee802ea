package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/candorvoice/candor/internal/gateway"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"assemblyai"},
	"llm": {gateway.ProviderGemini, gateway.ProviderOpenAI, gateway.ProviderAnthropic},
}

// Load opens the YAML file at path and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Unknown fields are rejected so a typoed key fails loudly instead of
// silently falling back to a default.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg for coherent values, joining every failure into one
// error. Suspicious but workable values only log a warning.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	if cfg.Providers.ActiveLLM != "" {
		if _, ok := gateway.Lookup(cfg.Providers.ActiveLLM); !ok {
			errs = append(errs, fmt.Errorf("providers.active_llm %q has no catalog entry; valid values: gemini, openai, anthropic", cfg.Providers.ActiveLLM))
		}
	}
	for id := range cfg.Providers.LLMKeys {
		if _, ok := gateway.Lookup(id); !ok {
			slog.Warn("llm_keys entry has no catalog entry and will never be used", "provider", id)
		}
	}

	// STT availability
	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is not configured; transcription cannot start")
	} else if cfg.Providers.STT.APIKey == "" {
		slog.Warn("providers.stt.api_key is empty; the recognizer will reject the connection")
	}

	// Audio thresholds
	a := cfg.Audio
	if a.UserThreshold < 0 || a.UserThreshold > 1 {
		errs = append(errs, fmt.Errorf("audio.user_threshold %.3f is out of range [0, 1]", a.UserThreshold))
	}
	if a.OtherThreshold < 0 || a.OtherThreshold > 1 {
		errs = append(errs, fmt.Errorf("audio.other_threshold %.3f is out of range [0, 1]", a.OtherThreshold))
	}
	if a.UserThreshold > 0 && a.OtherThreshold > 0 && a.OtherThreshold >= a.UserThreshold {
		errs = append(errs, fmt.Errorf("audio.other_threshold %.3f must be below audio.user_threshold %.3f", a.OtherThreshold, a.UserThreshold))
	}
	if a.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", a.SampleRate))
	}
	if a.LevelIntervalMs < 0 || a.FlushIntervalMs < 0 {
		errs = append(errs, errors.New("audio tick intervals must not be negative"))
	}

	// Context
	c := cfg.Context
	if c.MaxTurns < 0 || c.UtteranceHistory < 0 || c.SaveIntervalSeconds < 0 || c.SnapshotTTLHours < 0 {
		errs = append(errs, errors.New("context values must not be negative"))
	}
	if c.MaxTurns > 0 && c.MaxTurns < 3 {
		errs = append(errs, fmt.Errorf("context.max_turns %d is too small; pruning keeps the opening exchange plus a recent window", c.MaxTurns))
	}

	// Storage availability
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; settings and snapshots will not survive a restart")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
