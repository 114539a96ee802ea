// Package config provides the configuration schema, loader, and provider
// registry for the candor interview assistant.
package config

import (
	"github.com/candorvoice/candor/internal/gateway"
	"github.com/candorvoice/candor/internal/session"
	"github.com/candorvoice/candor/internal/transcript"
	"github.com/candorvoice/candor/pkg/audio"
)

// LogLevel controls log verbosity for the candor server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for candor.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Audio     AudioConfig     `yaml:"audio"`
	Context   ContextConfig   `yaml:"context"`
	Storage   StorageConfig   `yaml:"storage"`
}

// ServerConfig holds network and logging settings for the candor server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares the speech-to-text backend and seeds LLM
// credentials. API keys set interactively through the settings surface take
// precedence over the seeded values.
type ProvidersConfig struct {
	// STT selects the registered speech-to-text provider.
	STT ProviderEntry `yaml:"stt"`

	// ActiveLLM is the initially selected answer provider. Empty means the
	// catalog default.
	ActiveLLM string `yaml:"active_llm"`

	// LLMKeys seeds the provider id → API key mapping at startup.
	LLMKeys map[string]string `yaml:"llm_keys"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "assemblyai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider where applicable.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}

// AudioConfig tunes the capture pipeline and speaker detection. The
// amplitude thresholds are deliberately configurable: they are a fragile
// heuristic, and tests probe the boundary behaviour directly.
type AudioConfig struct {
	// SampleRate of captured PCM in Hz. Zero means 16000.
	SampleRate int `yaml:"sample_rate"`

	// UserThreshold is the level above which the speaker is the user.
	// Zero means the built-in default.
	UserThreshold float64 `yaml:"user_threshold"`

	// OtherThreshold is the level above which (up to UserThreshold) the
	// speaker is the interviewer. Zero means the built-in default.
	OtherThreshold float64 `yaml:"other_threshold"`

	// LevelIntervalMs is the speaker-classification sampling period in
	// milliseconds. Zero means 100.
	LevelIntervalMs int `yaml:"level_interval_ms"`

	// FlushIntervalMs is the audio-aggregation period in milliseconds:
	// buffered frames are flushed to the recognizer this often. Zero
	// means 250.
	FlushIntervalMs int `yaml:"flush_interval_ms"`
}

// ContextConfig bounds the conversation log and its persistence cadence.
type ContextConfig struct {
	// MaxTurns is the conversation turn ceiling. Zero means 20.
	MaxTurns int `yaml:"max_turns"`

	// UtteranceHistory caps retained finalized utterances. Zero means 50.
	UtteranceHistory int `yaml:"utterance_history"`

	// SaveIntervalSeconds is the snapshot autosave period. Zero means 30.
	SaveIntervalSeconds int `yaml:"save_interval_seconds"`

	// SnapshotTTLHours is the age past which startup sweeps old session
	// snapshots. Zero means 4.
	SnapshotTTLHours int `yaml:"snapshot_ttl_hours"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// PostgresDSN is the PostgreSQL connection string for the settings and
	// snapshot store. Empty means an in-memory store (nothing survives a
	// restart).
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Defaults applied by the accessor methods below.
const (
	defaultLevelIntervalMs = 100
	defaultFlushIntervalMs = 250
)

// LevelMeterConfig returns the audio section as level-meter settings.
func (a AudioConfig) LevelMeterConfig() audio.LevelMeterConfig {
	return audio.LevelMeterConfig{
		UserThreshold:  a.UserThreshold,
		OtherThreshold: a.OtherThreshold,
	}
}

// EffectiveSampleRate returns the configured sample rate or the default.
func (a AudioConfig) EffectiveSampleRate() int {
	if a.SampleRate > 0 {
		return a.SampleRate
	}
	return audio.DefaultSampleRate
}

// EffectiveLevelIntervalMs returns the level sampling period or the default.
func (a AudioConfig) EffectiveLevelIntervalMs() int {
	if a.LevelIntervalMs > 0 {
		return a.LevelIntervalMs
	}
	return defaultLevelIntervalMs
}

// EffectiveFlushIntervalMs returns the flush period or the default.
func (a AudioConfig) EffectiveFlushIntervalMs() int {
	if a.FlushIntervalMs > 0 {
		return a.FlushIntervalMs
	}
	return defaultFlushIntervalMs
}

// EffectiveMaxTurns returns the turn ceiling or the default.
func (c ContextConfig) EffectiveMaxTurns() int {
	if c.MaxTurns > 0 {
		return c.MaxTurns
	}
	return session.DefaultMaxTurns
}

// EffectiveUtteranceHistory returns the utterance cap or the default.
func (c ContextConfig) EffectiveUtteranceHistory() int {
	if c.UtteranceHistory > 0 {
		return c.UtteranceHistory
	}
	return transcript.DefaultHistoryCap
}

// EffectiveActiveLLM returns the configured initial provider or the catalog
// default.
func (p ProvidersConfig) EffectiveActiveLLM() string {
	if p.ActiveLLM != "" {
		return p.ActiveLLM
	}
	return gateway.DefaultProviderID
}
