// Package mock provides a controllable in-memory [synth.Engine] for unit
// tests, chiefly the orchestrator's.
//
// Every Start call records a new [Attempt] the test can drive by hand:
// advance the byte counter, flag playback, and finish with an arbitrary
// outcome. Attempts hang until finished or stopped, which makes watchdog and
// stale-suppression behaviour deterministic to exercise.
package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/readaloud/pkg/synth"
)

// Compile-time interface assertions.
var (
	_ synth.Engine  = (*Engine)(nil)
	_ synth.Attempt = (*Attempt)(nil)
)

// Engine is a scripted synthesis engine.
type Engine struct {
	// EngineName is returned from Name. Defaults to "mock".
	EngineName string

	// IsStreaming is returned from Streaming.
	IsStreaming bool

	// StartErr, when set, makes Start fail without creating an attempt.
	StartErr error

	// AutoFinish, when non-nil, is applied to each new attempt: the attempt
	// finishes on its own with outcomes taken from the slice in Start order.
	// Attempts beyond the slice hang as usual.
	AutoFinish []synth.Outcome

	mu       sync.Mutex
	attempts []*Attempt
}

// Name implements [synth.Engine].
func (e *Engine) Name() string {
	if e.EngineName == "" {
		return "mock"
	}
	return e.EngineName
}

// Streaming implements [synth.Engine].
func (e *Engine) Streaming() bool { return e.IsStreaming }

// Start implements [synth.Engine].
func (e *Engine) Start(ctx context.Context, req synth.Request) (synth.Attempt, error) {
	if e.StartErr != nil {
		return nil, e.StartErr
	}

	a := &Attempt{req: req, done: make(chan struct{})}
	context.AfterFunc(ctx, a.stop)

	e.mu.Lock()
	n := len(e.attempts)
	e.attempts = append(e.attempts, a)
	auto := n < len(e.AutoFinish)
	var out synth.Outcome
	if auto {
		out = e.AutoFinish[n]
	}
	e.mu.Unlock()

	if auto {
		a.Finish(out)
	}
	return a, nil
}

// Starts returns how many attempts were dispatched.
func (e *Engine) Starts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.attempts)
}

// Attempt returns the i-th dispatched attempt, waiting briefly for it to
// appear.
func (e *Engine) Attempt(t *testing.T, i int) *Attempt {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		e.mu.Lock()
		if i < len(e.attempts) {
			a := e.attempts[i]
			e.mu.Unlock()
			return a
		}
		e.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatalf("attempt %d was never dispatched", i)
		}
		time.Sleep(time.Millisecond)
	}
}

// Attempt is a hand-driven synthesis attempt.
type Attempt struct {
	req synth.Request

	bytes       atomic.Int64
	playStarted atomic.Bool
	stopped     atomic.Bool

	mu      sync.Mutex
	outcome synth.Outcome
	done    chan struct{}
	closed  bool
}

// Request returns the request this attempt was started with.
func (a *Attempt) Request() synth.Request { return a.req }

// Done implements [synth.Attempt].
func (a *Attempt) Done() <-chan struct{} { return a.done }

// Outcome implements [synth.Attempt].
func (a *Attempt) Outcome() synth.Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.outcome
}

// BytesReceived implements [synth.Attempt].
func (a *Attempt) BytesReceived() int64 { return a.bytes.Load() }

// PlaybackStarted implements [synth.Attempt].
func (a *Attempt) PlaybackStarted() bool { return a.playStarted.Load() }

// Stop implements [synth.Attempt]. A stopped attempt finishes with whatever
// state it had accumulated, mirroring how the real engines settle on cancel.
func (a *Attempt) Stop() { a.stop() }

func (a *Attempt) stop() {
	a.stopped.Store(true)
	a.Finish(synth.Outcome{
		PlaybackStarted: a.playStarted.Load(),
		AudioBytes:      a.bytes.Load(),
	})
}

// Stopped reports whether Stop was called.
func (a *Attempt) Stopped() bool { return a.stopped.Load() }

// SetBytes sets the received byte counter observed by watchdog polls.
func (a *Attempt) SetBytes(n int64) { a.bytes.Store(n) }

// StartPlayback flags playback as started.
func (a *Attempt) StartPlayback() { a.playStarted.Store(true) }

// Finish completes the attempt with out. Later calls are ignored.
func (a *Attempt) Finish(out synth.Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.outcome = out
	a.closed = true
	close(a.done)
}
