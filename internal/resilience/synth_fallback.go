package resilience

import (
	"context"

	"github.com/MrWong99/readaloud/pkg/synth"
)

// PlayFunc runs one complete play (including its internal retries) on a single
// backend and returns the settled outcome.
type PlayFunc func(ctx context.Context, req synth.Request) (synth.Outcome, error)

// SynthFallback dispatches a play with automatic failover across synthesis
// backends. Each backend has its own circuit breaker. Failover happens only
// between whole plays; within one play the backend stays fixed.
type SynthFallback struct {
	group *FallbackGroup[PlayFunc]
}

// NewSynthFallback creates a [SynthFallback] with primary as the preferred
// backend.
func NewSynthFallback(primary PlayFunc, primaryName string, cfg FallbackConfig) *SynthFallback {
	return &SynthFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional backend. Fallbacks are tried in the
// order they are added, after the primary.
func (f *SynthFallback) AddFallback(name string, play PlayFunc) {
	f.group.AddFallback(name, play)
}

// Play runs req on the first healthy backend. A backend whose play returns an
// error or a failed outcome is skipped in favour of the next one; a cancelled
// context stops the walk immediately.
func (f *SynthFallback) Play(ctx context.Context, req synth.Request) (synth.Outcome, error) {
	return ExecuteWithResult(f.group, func(play PlayFunc) (synth.Outcome, error) {
		if err := ctx.Err(); err != nil {
			return synth.Outcome{}, err
		}
		out, err := play(ctx, req)
		if err != nil {
			return out, err
		}
		if !out.OK() {
			return out, errPlayFailed
		}
		return out, nil
	})
}

// errPlayFailed marks a settled but unsuccessful outcome so the group advances
// to the next backend.
var errPlayFailed = &playFailedError{}

type playFailedError struct{}

func (*playFailedError) Error() string { return "synthesis play failed" }
