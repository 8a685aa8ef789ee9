// Package orchestrator supervises synthesis attempts across the configured
// engines: it dispatches an attempt to the selected engine, arms a watchdog
// shaped to that engine, and retries with a bounded budget when the attempt
// fails or stalls.
//
// Engine choice is sticky for one play call. Retries always redispatch the
// same engine; switching engines is the caller's decision, typically made for
// the next play. Across play calls each engine is guarded by a circuit
// breaker, so an engine that keeps burning whole retry budgets gets rejected
// fast instead of adding its full retry latency to every call.
//
// Attempt results are de-duplicated by a monotonically increasing serial
// number. A finished signal from a superseded attempt, for example one the
// watchdog already aborted, is ignored rather than misattributed to the
// attempt currently in flight.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/readaloud/internal/observe"
	"github.com/MrWong99/readaloud/internal/resilience"
	"github.com/MrWong99/readaloud/pkg/synth"
	"github.com/MrWong99/readaloud/pkg/synth/edge"
)

// Defaults for the supervision knobs. The watchdog constants are tuned
// empirically against observed service latency, not derived from a protocol
// guarantee, which is why all of them are configurable.
const (
	DefaultMaxRetries     = 5
	DefaultRetryDelay     = 500 * time.Millisecond
	DefaultWatchdogTick   = 3 * time.Second
	DefaultHTTPDeadline   = 20 * time.Second
	DefaultStartWatermark = int64(edge.DefaultStartWatermark)
)

// ErrUnknownEngine is returned by Play for an engine name that was never
// registered.
var ErrUnknownEngine = errors.New("orchestrator: unknown engine")

// errAttemptFailed marks a play sequence that exhausted its retry budget. It
// stays internal: callers read the outcome flags instead.
var errAttemptFailed = errors.New("orchestrator: all attempts failed")

// Config holds the supervision knobs. Zero-value fields are replaced with
// the package defaults.
type Config struct {
	// MaxRetries is how many times a failed attempt is redispatched, so a
	// play call runs at most MaxRetries+1 attempts.
	MaxRetries int

	// RetryDelay is the pause between a failed attempt and its redispatch.
	RetryDelay time.Duration

	// WatchdogTick is the streaming engine's watchdog period.
	WatchdogTick time.Duration

	// HTTPDeadline is the flat single-shot deadline for non-streaming
	// engines.
	HTTPDeadline time.Duration

	// StartWatermark is the byte count at which a streaming attempt is
	// expected to have started playback.
	StartWatermark int64

	// BreakerResetTimeout is how long a tripped engine breaker stays open.
	BreakerResetTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.WatchdogTick <= 0 {
		c.WatchdogTick = DefaultWatchdogTick
	}
	if c.HTTPDeadline <= 0 {
		c.HTTPDeadline = DefaultHTTPDeadline
	}
	if c.StartWatermark <= 0 {
		c.StartWatermark = DefaultStartWatermark
	}
	return c
}

// Orchestrator supervises synthesis attempts. It is safe for concurrent use;
// a new play call supersedes the previous one.
type Orchestrator struct {
	cfg      Config
	metrics  *observe.Metrics
	engines  map[string]synth.Engine
	breakers map[string]*resilience.CircuitBreaker

	serial atomic.Int64

	mu           sync.Mutex
	cancelActive context.CancelFunc
}

// New creates an Orchestrator over the given engines. Engines are addressed
// by their Name in Play calls.
func New(cfg Config, metrics *observe.Metrics, engines ...synth.Engine) *Orchestrator {
	cfg = cfg.withDefaults()
	o := &Orchestrator{
		cfg:      cfg,
		metrics:  metrics,
		engines:  make(map[string]synth.Engine, len(engines)),
		breakers: make(map[string]*resilience.CircuitBreaker, len(engines)),
	}
	for _, e := range engines {
		o.engines[e.Name()] = e
		o.breakers[e.Name()] = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "engine:" + e.Name(),
			ResetTimeout: cfg.BreakerResetTimeout,
		})
	}
	return o
}

// Engines returns the registered engine names.
func (o *Orchestrator) Engines() []string {
	names := make([]string, 0, len(o.engines))
	for name := range o.engines {
		names = append(names, name)
	}
	return names
}

// Stop aborts the active play call, if any. The superseded call settles with
// whatever outcome its current attempt had accumulated.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancelActive != nil {
		o.cancelActive()
		o.cancelActive = nil
	}
}

// result pairs an attempt outcome with the serial it belongs to.
type result struct {
	serial  int64
	outcome synth.Outcome
}

// Play synthesizes req on the named engine, retrying failed attempts on the
// same engine until one succeeds or the budget runs out. It blocks until the
// sequence settles and returns the final attempt's outcome.
//
// A concurrent Play or an explicit Stop supersedes the running call, which
// then returns its partial outcome with a context error.
func (o *Orchestrator) Play(ctx context.Context, engineName string, req synth.Request) (synth.Outcome, error) {
	eng, ok := o.engines[engineName]
	if !ok {
		return synth.Outcome{}, fmt.Errorf("%w: %q", ErrUnknownEngine, engineName)
	}

	pctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.mu.Lock()
	if o.cancelActive != nil {
		o.cancelActive()
	}
	o.cancelActive = cancel
	o.mu.Unlock()

	o.metrics.ActivePlays.Add(ctx, 1)
	defer o.metrics.ActivePlays.Add(ctx, -1)
	playStart := time.Now()
	defer func() {
		o.metrics.RecordPlayDuration(ctx, engineName, time.Since(playStart).Seconds())
	}()

	var out synth.Outcome
	var seqErr error
	err := o.breakers[engineName].Execute(func() error {
		out, seqErr = o.playSequence(pctx, eng, req)
		if errors.Is(seqErr, context.Canceled) {
			// A superseded or stopped play says nothing about the
			// engine's health.
			return nil
		}
		return seqErr
	})
	if errors.Is(seqErr, context.Canceled) {
		return out, seqErr
	}
	if errors.Is(err, errAttemptFailed) {
		// Budget exhausted: the outcome flags carry the failure.
		return out, nil
	}
	return out, err
}

// playSequence runs the retry loop for one play call.
func (o *Orchestrator) playSequence(ctx context.Context, eng synth.Engine, req synth.Request) (synth.Outcome, error) {
	log := observe.Logger(ctx).With("engine", eng.Name())

	// One results channel per play call: late finished signals from aborted
	// attempts land here too and are filtered by serial.
	results := make(chan result, o.cfg.MaxRetries+2)

	var out synth.Outcome
	for attemptNo := 0; ; attemptNo++ {
		var aborted bool
		out, aborted = o.runAttempt(ctx, eng, req, results, log)

		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		if !aborted && out.OK() {
			if attemptNo > 0 {
				log.Info("synthesis recovered after retries", "attempts", attemptNo+1)
			}
			return out, nil
		}

		if attemptNo >= o.cfg.MaxRetries {
			log.Warn("synthesis failed, retry budget exhausted",
				"attempts", attemptNo+1)
			return out, errAttemptFailed
		}

		log.Info("synthesis attempt failed, retrying",
			"attempt", attemptNo+1,
			"aborted", aborted,
			"audio_bytes", out.AudioBytes)

		select {
		case <-time.After(o.cfg.RetryDelay):
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
}

// runAttempt dispatches one attempt and waits for its outcome, a watchdog
// abort, or cancellation. The boolean result reports a watchdog abort.
func (o *Orchestrator) runAttempt(ctx context.Context, eng synth.Engine, req synth.Request, results chan result, log *slog.Logger) (synth.Outcome, bool) {
	serial := o.serial.Add(1)
	start := time.Now()

	att, err := eng.Start(ctx, req)
	if err != nil {
		log.Warn("engine rejected synthesis request", "error", err)
		o.metrics.RecordEngineError(ctx, eng.Name(), "start")
		o.metrics.RecordAttempt(ctx, eng.Name(), "start_error", time.Since(start).Seconds())
		return synth.Outcome{RequestError: true}, false
	}

	wctx, stopWatch := context.WithCancel(ctx)
	abort := o.watch(wctx, eng, req, att)
	defer stopWatch()

	go func() {
		<-att.Done()
		results <- result{serial: serial, outcome: att.Outcome()}
	}()

	for {
		select {
		case r := <-results:
			if r.serial != serial {
				// Stale signal from a superseded attempt.
				continue
			}
			o.recordOutcome(ctx, eng.Name(), r.outcome, start)
			return r.outcome, false

		case reason := <-abort:
			log.Warn("watchdog aborted synthesis attempt",
				"reason", string(reason),
				"audio_bytes", att.BytesReceived())
			o.metrics.RecordWatchdogAbort(ctx, eng.Name(), string(reason))
			o.metrics.RecordAttempt(ctx, eng.Name(), "aborted", time.Since(start).Seconds())
			att.Stop()
			return synth.Outcome{AudioBytes: att.BytesReceived()}, true

		case <-ctx.Done():
			att.Stop()
			return synth.Outcome{
				PlaybackStarted: att.PlaybackStarted(),
				AudioBytes:      att.BytesReceived(),
			}, false
		}
	}
}

// recordOutcome maps a settled outcome onto the metric surface.
func (o *Orchestrator) recordOutcome(ctx context.Context, engine string, out synth.Outcome, start time.Time) {
	status := "ok"
	switch {
	case out.RequestError:
		status = "request_error"
		o.metrics.RecordEngineError(ctx, engine, "request")
	case out.PlaybackError:
		status = "playback_error"
		o.metrics.RecordEngineError(ctx, engine, "playback")
	case !out.OK():
		status = "incomplete"
	}
	o.metrics.RecordAttempt(ctx, engine, status, time.Since(start).Seconds())
	o.metrics.RecordAudioBytes(ctx, engine, out.AudioBytes)
}
