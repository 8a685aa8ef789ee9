// Package app wires the readaloud subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates the playback devices,
// the synthesis engines, the retry orchestrator, and the voice catalogue
// cache; Play dispatches one speech request; Shutdown tears everything down
// in order.
//
// For testing, inject mock implementations via functional options
// (WithEngine, WithStreamPlayer, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/readaloud/internal/config"
	"github.com/MrWong99/readaloud/internal/health"
	"github.com/MrWong99/readaloud/internal/observe"
	"github.com/MrWong99/readaloud/internal/orchestrator"
	"github.com/MrWong99/readaloud/internal/resilience"
	"github.com/MrWong99/readaloud/internal/voicecache"
	"github.com/MrWong99/readaloud/pkg/audio"
	"github.com/MrWong99/readaloud/pkg/audio/mp3"
	wavplayer "github.com/MrWong99/readaloud/pkg/audio/wav"
	"github.com/MrWong99/readaloud/pkg/synth"
	"github.com/MrWong99/readaloud/pkg/synth/dashscope"
	"github.com/MrWong99/readaloud/pkg/synth/edge"
	"github.com/MrWong99/readaloud/pkg/synth/refvoice"
)

// PlayRequest is one user-facing speech request. Empty fields fall back to
// the configured defaults.
type PlayRequest struct {
	Text     string
	Engine   config.EngineKind
	Voice    string
	Rate     string
	Volume   string
	Pitch    string
	SavePath string
}

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics

	// Playback devices. The streaming backend emits MP3, the HTTP backends
	// emit complete WAV clips.
	streamPlayer audio.Player
	clipPlayer   audio.Player

	engines  map[config.EngineKind]synth.Engine
	orch     *orchestrator.Orchestrator
	fallback *resilience.SynthFallback
	cache    *voicecache.Store

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithEngine injects an engine for kind instead of creating one from config.
func WithEngine(kind config.EngineKind, eng synth.Engine) Option {
	return func(a *App) {
		if a.engines == nil {
			a.engines = make(map[config.EngineKind]synth.Engine)
		}
		a.engines[kind] = eng
	}
}

// WithStreamPlayer injects the playback device handed to the streaming engine.
func WithStreamPlayer(p audio.Player) Option {
	return func(a *App) { a.streamPlayer = p }
}

// WithClipPlayer injects the playback device handed to the HTTP engines.
func WithClipPlayer(p audio.Player) Option {
	return func(a *App) { a.clipPlayer = p }
}

// WithVoiceCache injects a voice catalogue cache instead of opening one from
// config.
func WithVoiceCache(s *voicecache.Store) Option {
	return func(a *App) { a.cache = s }
}

// WithMetrics injects a metrics instance instead of using the process-wide
// default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// DefaultRegistry returns a registry with factories for all built-in engine
// kinds. The player passed to CreateEngine must match the backend's output
// format.
func DefaultRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterEngine(config.EngineEdge, func(cfg *config.Config, player audio.Player) (synth.Engine, error) {
		c := cfg.Engines.Edge
		var opts []edge.Option
		if c.BaseURL != "" {
			opts = append(opts, edge.WithBaseURL(c.BaseURL))
		}
		if c.MaxChunk > 0 {
			opts = append(opts, edge.WithMaxChunk(c.MaxChunk))
		}
		if c.StartWatermark > 0 {
			opts = append(opts, edge.WithStartWatermark(c.StartWatermark))
		}
		return edge.New(player, opts...), nil
	})
	reg.RegisterEngine(config.EngineRefVoice, func(cfg *config.Config, player audio.Player) (synth.Engine, error) {
		c := cfg.Engines.RefVoice
		var opts []refvoice.Option
		if c.BaseURL != "" {
			opts = append(opts, refvoice.WithBaseURL(c.BaseURL))
		}
		if c.TextLang != "" {
			opts = append(opts, refvoice.WithTextLang(c.TextLang))
		}
		if c.RefAudioPath != "" {
			opts = append(opts, refvoice.WithReference(c.RefAudioPath, c.PromptText, c.PromptLang))
		}
		if c.Timeout > 0 {
			opts = append(opts, refvoice.WithTimeout(c.Timeout))
		}
		return refvoice.New(player, opts...), nil
	})
	reg.RegisterEngine(config.EngineDashScope, func(cfg *config.Config, player audio.Player) (synth.Engine, error) {
		c := cfg.Engines.DashScope
		var opts []dashscope.Option
		if c.APIKey != "" {
			opts = append(opts, dashscope.WithAPIKey(c.APIKey))
		}
		if c.BaseURL != "" {
			opts = append(opts, dashscope.WithBaseURL(c.BaseURL))
		}
		if c.Endpoint != "" {
			opts = append(opts, dashscope.WithEndpoint(c.Endpoint))
		}
		if c.Model != "" {
			opts = append(opts, dashscope.WithModel(c.Model))
		}
		if c.LanguageType != "" {
			opts = append(opts, dashscope.WithLanguageType(c.LanguageType))
		}
		if c.Timeout > 0 {
			opts = append(opts, dashscope.WithTimeout(c.Timeout))
		}
		return dashscope.New(player, opts...), nil
	})
	return reg
}

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.streamPlayer == nil {
		a.streamPlayer = mp3.New()
	}
	if a.clipPlayer == nil {
		a.clipPlayer = wavplayer.New()
	}

	if err := a.initEngines(); err != nil {
		return nil, fmt.Errorf("app: init engines: %w", err)
	}
	if err := a.initVoiceCache(ctx); err != nil {
		return nil, fmt.Errorf("app: init voice cache: %w", err)
	}

	engines := make([]synth.Engine, 0, len(a.engines))
	for _, e := range a.engines {
		engines = append(engines, e)
	}
	a.orch = orchestrator.New(orchestrator.Config{
		MaxRetries:          cfg.Orchestrator.MaxRetries,
		RetryDelay:          cfg.Orchestrator.RetryDelay,
		WatchdogTick:        cfg.Orchestrator.WatchdogTick,
		HTTPDeadline:        cfg.Orchestrator.HTTPDeadline,
		StartWatermark:      int64(cfg.Engines.Edge.StartWatermark),
		BreakerResetTimeout: cfg.Orchestrator.BreakerResetTimeout,
	}, a.metrics, engines...)

	a.fallback = a.buildFallback()

	return a, nil
}

// buildFallback composes the cross-backend failover group: the configured
// default engine first, the remaining backends after it. The group's breakers
// persist across plays, so a backend that keeps failing whole plays is
// skipped without being tried first.
func (a *App) buildFallback() *resilience.SynthFallback {
	kind := a.cfg.Defaults.Engine
	if kind == "" {
		kind = config.EngineEdge
	}
	primary, ok := a.engines[kind]
	if !ok {
		return nil
	}
	fb := resilience.NewSynthFallback(a.playFunc(primary.Name()), primary.Name(), resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			ResetTimeout: a.cfg.Orchestrator.BreakerResetTimeout,
		},
	})
	for k, eng := range a.engines {
		if k == kind {
			continue
		}
		fb.AddFallback(eng.Name(), a.playFunc(eng.Name()))
	}
	return fb
}

// initEngines fills the engine map from the default registry, keeping any
// engines injected via options.
func (a *App) initEngines() error {
	if a.engines == nil {
		a.engines = make(map[config.EngineKind]synth.Engine)
	}
	reg := DefaultRegistry()
	for _, kind := range []config.EngineKind{config.EngineEdge, config.EngineRefVoice, config.EngineDashScope} {
		if _, ok := a.engines[kind]; ok {
			continue
		}
		player := a.clipPlayer
		if kind == config.EngineEdge {
			player = a.streamPlayer
		}
		eng, err := reg.CreateEngine(kind, a.cfg, player)
		if err != nil {
			return err
		}
		a.engines[kind] = eng
	}
	return nil
}

// initVoiceCache opens the SQLite catalogue cache when configured.
func (a *App) initVoiceCache(ctx context.Context) error {
	if a.cache != nil || a.cfg.VoiceCache.Path == "" {
		return nil
	}
	store, err := voicecache.Open(ctx, a.cfg.VoiceCache.Path, a.cfg.VoiceCache.TTL, slog.Default())
	if err != nil {
		return err
	}
	a.cache = store
	a.closers = append(a.closers, store.Close)
	return nil
}

// Play dispatches one speech request and blocks until it settles. The engine
// is chosen from the request or the configured default and stays fixed for
// the whole retried play; only when the request does not pin an engine and
// the chosen backend fails outright does dispatch fail over to the remaining
// backends.
func (a *App) Play(ctx context.Context, req PlayRequest) (synth.Outcome, error) {
	kind := req.Engine
	pinned := kind != ""
	if !pinned {
		kind = a.cfg.Defaults.Engine
		if kind == "" {
			kind = config.EngineEdge
		}
	}
	if !kind.IsValid() {
		return synth.Outcome{}, fmt.Errorf("app: unknown engine %q", kind)
	}

	sreq := a.synthRequest(req)
	primary, ok := a.engines[kind]
	if !ok {
		return synth.Outcome{}, fmt.Errorf("app: engine %q not configured", kind)
	}

	if pinned || a.fallback == nil {
		return a.orch.Play(ctx, primary.Name(), sreq)
	}
	return a.fallback.Play(ctx, sreq)
}

// playFunc adapts one orchestrator engine to a fallback-group entry.
func (a *App) playFunc(engineName string) resilience.PlayFunc {
	return func(ctx context.Context, req synth.Request) (synth.Outcome, error) {
		return a.orch.Play(ctx, engineName, req)
	}
}

// synthRequest fills request defaults from config.
func (a *App) synthRequest(req PlayRequest) synth.Request {
	d := a.cfg.Defaults
	sreq := synth.Request{
		Text:     req.Text,
		Voice:    req.Voice,
		Rate:     req.Rate,
		Volume:   req.Volume,
		Pitch:    req.Pitch,
		SavePath: req.SavePath,
	}
	if sreq.Voice == "" {
		sreq.Voice = d.Voice
	}
	if sreq.Rate == "" {
		sreq.Rate = d.Rate
	}
	if sreq.Volume == "" {
		sreq.Volume = d.Volume
	}
	if sreq.Pitch == "" {
		sreq.Pitch = d.Pitch
	}
	return sreq
}

// Stop aborts the in-flight play, if any.
func (a *App) Stop() {
	a.orch.Stop()
}

// ListVoices returns the streaming backend's voice catalogue, served from the
// cache when fresh. A stale cache is refreshed from the network; if the
// network fails, the stale copy is returned as a fallback.
func (a *App) ListVoices(ctx context.Context) ([]edge.Voice, error) {
	client, ok := a.engines[config.EngineEdge].(*edge.Client)
	if !ok {
		return nil, fmt.Errorf("app: streaming engine does not expose a voice catalogue")
	}

	if a.cache == nil {
		return client.ListVoices(ctx)
	}

	cached, fresh, err := a.cache.Get(ctx)
	if err != nil {
		slog.Warn("voice cache read failed", "err", err)
	} else if fresh {
		return cached, nil
	}

	voices, err := client.ListVoices(ctx)
	if err != nil {
		if len(cached) > 0 {
			slog.Warn("voice listing failed, serving stale cache", "err", err)
			return cached, nil
		}
		return nil, err
	}
	if err := a.cache.Put(ctx, voices); err != nil {
		slog.Warn("voice cache write failed", "err", err)
	}
	return voices, nil
}

// HealthCheckers returns the readiness checks for the metrics listener:
// at least one engine must be registered, and the voice cache database, when
// configured, must answer a ping.
func (a *App) HealthCheckers() []health.Checker {
	checkers := []health.Checker{{
		Name: "engines",
		Check: func(context.Context) error {
			if len(a.engines) == 0 {
				return errors.New("no synthesis engines registered")
			}
			return nil
		},
	}}
	if a.cache != nil {
		checkers = append(checkers, health.Checker{
			Name:  "voice_cache",
			Check: a.cache.Ping,
		})
	}
	return checkers
}

// Shutdown stops the active play and tears down subsystems in reverse
// creation order. Safe to call more than once.
func (a *App) Shutdown() error {
	var err error
	a.stopOnce.Do(func() {
		a.orch.Stop()
		for i := len(a.closers) - 1; i >= 0; i-- {
			if cerr := a.closers[i](); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}
