// Package config provides the configuration schema, loader, engine registry,
// and file watcher for the readaloud speech client.
package config

import "time"

// LogLevel controls log verbosity.
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

// EngineKind names a synthesis backend.
type EngineKind string

const (
	// EngineEdge is the streaming WebSocket engine.
	EngineEdge EngineKind = "edge"

	// EngineRefVoice is the local reference-voice HTTP engine.
	EngineRefVoice EngineKind = "refvoice"

	// EngineDashScope is the cloud JSON HTTP engine.
	EngineDashScope EngineKind = "dashscope"
)

// IsValid reports whether e is a recognised engine kind.
func (e EngineKind) IsValid() bool {
	switch e {
	case EngineEdge, EngineRefVoice, EngineDashScope:
		return true
	}
	return false
}

// Config is the root configuration structure for readaloud.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Engines      EnginesConfig      `yaml:"engines"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	VoiceCache   VoiceCacheConfig   `yaml:"voice_cache"`
	Defaults     DefaultsConfig     `yaml:"defaults"`
}

// ServerConfig holds logging and telemetry settings.
type ServerConfig struct {
	// MetricsAddr is the TCP address the Prometheus /metrics endpoint
	// listens on (e.g., ":9090"). Empty disables the listener.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// EnginesConfig holds the per-backend settings. An engine with no settings
// runs on its built-in defaults; only the kinds mentioned under
// defaults.engine or selected at play time need to be usable.
type EnginesConfig struct {
	Edge      EdgeConfig      `yaml:"edge"`
	RefVoice  RefVoiceConfig  `yaml:"refvoice"`
	DashScope DashScopeConfig `yaml:"dashscope"`
}

// EdgeConfig tunes the streaming engine.
type EdgeConfig struct {
	// BaseURL overrides the service WebSocket URL. Mainly for tests.
	BaseURL string `yaml:"base_url"`

	// MaxChunk is the per-turn text slice length in bytes. 0 uses the
	// engine default.
	MaxChunk int `yaml:"max_chunk"`

	// StartWatermark is the received byte count at which playback starts
	// ahead of synthesis completing. 0 uses the engine default.
	StartWatermark int `yaml:"start_watermark"`
}

// RefVoiceConfig tunes the local reference-voice engine.
type RefVoiceConfig struct {
	// BaseURL is the local server address. Empty uses the engine default.
	BaseURL string `yaml:"base_url"`

	// TextLang is the language code of the input text.
	TextLang string `yaml:"text_lang"`

	// RefAudioPath is the reference audio sample the server clones.
	RefAudioPath string `yaml:"ref_audio_path"`

	// PromptText is the transcript of the reference sample.
	PromptText string `yaml:"prompt_text"`

	// PromptLang is the language code of the transcript.
	PromptLang string `yaml:"prompt_lang"`

	// Timeout bounds one synthesis request. 0 uses the engine default.
	Timeout time.Duration `yaml:"timeout"`
}

// DashScopeConfig tunes the cloud engine. Empty fields fall back to the
// DASHSCOPE_* environment variables, then to built-in defaults.
type DashScopeConfig struct {
	// APIKey is the DashScope API key.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the HTTP API base URL.
	BaseURL string `yaml:"base_url"`

	// Endpoint pins a single synthesis endpoint and disables endpoint
	// fallback.
	Endpoint string `yaml:"endpoint"`

	// Model overrides the synthesis model name.
	Model string `yaml:"model"`

	// LanguageType is the language_type request parameter.
	LanguageType string `yaml:"language_type"`

	// Timeout bounds one synthesis request. 0 uses the engine default.
	Timeout time.Duration `yaml:"timeout"`
}

// OrchestratorConfig tunes attempt supervision. Zero values use the
// orchestrator defaults.
type OrchestratorConfig struct {
	// MaxRetries is how many times a failed attempt is redispatched.
	MaxRetries int `yaml:"max_retries"`

	// RetryDelay is the pause before a redispatch.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// WatchdogTick is the streaming engine's watchdog period.
	WatchdogTick time.Duration `yaml:"watchdog_tick"`

	// HTTPDeadline is the flat deadline for non-streaming engines.
	HTTPDeadline time.Duration `yaml:"http_deadline"`

	// BreakerResetTimeout is how long a tripped engine breaker stays open.
	BreakerResetTimeout time.Duration `yaml:"breaker_reset_timeout"`
}

// VoiceCacheConfig holds settings for the local voice catalogue cache.
type VoiceCacheConfig struct {
	// Path is the SQLite database file. Empty disables the cache and
	// voice listings always hit the network.
	Path string `yaml:"path"`

	// TTL is how long a cached catalogue stays fresh. 0 uses the cache
	// default.
	TTL time.Duration `yaml:"ttl"`
}

// DefaultsConfig supplies per-request values left unset by the caller.
type DefaultsConfig struct {
	// Engine is the backend used when the caller does not pick one.
	Engine EngineKind `yaml:"engine"`

	// Voice is the default voice identifier.
	Voice string `yaml:"voice"`

	// Rate, Volume and Pitch are prosody tokens in the streaming engine's
	// syntax, e.g. "+10%", "-5%", "+2Hz".
	Rate   string `yaml:"rate"`
	Volume string `yaml:"volume"`
	Pitch  string `yaml:"pitch"`
}
