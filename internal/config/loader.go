package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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
// Useful in tests where configs are constructed from string literals.
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

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Defaults
	if cfg.Defaults.Engine != "" && !cfg.Defaults.Engine.IsValid() {
		errs = append(errs, fmt.Errorf("defaults.engine %q is invalid; valid values: edge, refvoice, dashscope", cfg.Defaults.Engine))
	}
	validateProsodyToken("defaults.rate", cfg.Defaults.Rate, "%")
	validateProsodyToken("defaults.volume", cfg.Defaults.Volume, "%")
	validateProsodyToken("defaults.pitch", cfg.Defaults.Pitch, "Hz")

	// Engines
	if cfg.Engines.Edge.MaxChunk < 0 {
		errs = append(errs, fmt.Errorf("engines.edge.max_chunk %d must not be negative", cfg.Engines.Edge.MaxChunk))
	}
	if cfg.Engines.Edge.StartWatermark < 0 {
		errs = append(errs, fmt.Errorf("engines.edge.start_watermark %d must not be negative", cfg.Engines.Edge.StartWatermark))
	}
	if cfg.Engines.RefVoice.RefAudioPath == "" && cfg.Defaults.Engine == EngineRefVoice {
		slog.Warn("defaults.engine is refvoice but engines.refvoice.ref_audio_path is empty; the local server will fall back to its own reference sample")
	}
	if cfg.Engines.DashScope.APIKey == "" && cfg.Defaults.Engine == EngineDashScope {
		slog.Warn("defaults.engine is dashscope and engines.dashscope.api_key is empty; the engine will read DASHSCOPE_API_KEY from the environment")
	}

	// Orchestrator
	if cfg.Orchestrator.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("orchestrator.max_retries %d must not be negative", cfg.Orchestrator.MaxRetries))
	}
	if cfg.Orchestrator.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("orchestrator.retry_delay must not be negative"))
	}
	if cfg.Orchestrator.WatchdogTick < 0 {
		errs = append(errs, fmt.Errorf("orchestrator.watchdog_tick must not be negative"))
	}
	if cfg.Orchestrator.HTTPDeadline < 0 {
		errs = append(errs, fmt.Errorf("orchestrator.http_deadline must not be negative"))
	}
	if cfg.Orchestrator.BreakerResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("orchestrator.breaker_reset_timeout must not be negative"))
	}

	// Voice cache
	if cfg.VoiceCache.TTL < 0 {
		errs = append(errs, fmt.Errorf("voice_cache.ttl must not be negative"))
	}
	if cfg.VoiceCache.TTL > 0 && cfg.VoiceCache.Path == "" {
		slog.Warn("voice_cache.ttl is set but voice_cache.path is empty; voice listings will not be cached")
	}

	return errors.Join(errs...)
}

// validateProsodyToken logs a warning when a prosody value is non-empty and
// does not look like a signed offset with the expected unit suffix, such as
// "+10%" or "-2Hz". Engines pass these tokens through verbatim, so a typo
// here surfaces as a remote synthesis error.
func validateProsodyToken(field, value, unit string) {
	if value == "" {
		return
	}
	ok := (strings.HasPrefix(value, "+") || strings.HasPrefix(value, "-")) &&
		strings.HasSuffix(value, unit) &&
		len(value) > 1+len(unit)
	if !ok {
		slog.Warn("prosody value does not look like a signed offset",
			"field", field,
			"value", value,
			"expected", "+N"+unit+" or -N"+unit,
		)
	}
}
