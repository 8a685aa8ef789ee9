// Package synth defines the contract between the speech-synthesis engines and
// the orchestrator that supervises them.
//
// An Engine wraps one remote synthesis backend (the streaming readaloud
// service, a local reference-voice server, or the DashScope HTTP API) and
// exposes a uniform attempt-based interface. One call to Start launches one
// synthesis attempt; the attempt reports its result through a single finished
// signal (the closed Done channel) carrying observable side flags rather than
// an error value, so callers have one uniform success/failure test regardless
// of which backend ran.
package synth

import "context"

// Request describes one synthesis job. It is immutable once dispatched and is
// owned by the orchestrator for the duration of an attempt.
type Request struct {
	// Text is the raw input text. Engines normalise it themselves.
	Text string

	// Voice is the backend-specific voice identifier
	// (e.g., "zh-CN, XiaoxiaoNeural" for the streaming engine).
	Voice string

	// Rate, Volume and Pitch are prosody tokens in the streaming engine's
	// wire syntax (e.g., "+0%", "+0Hz"). Ignored by backends without
	// prosody control.
	Rate   string
	Volume string
	Pitch  string

	// SavePath, when non-empty, redirects the synthesised audio to a file
	// instead of live playback.
	SavePath string
}

// Outcome is the uniform finished signal of one attempt. Errors are reported
// as flags instead of being raised across the component boundary; the caller's
// success test is PlaybackStarted && !PlaybackError && !RequestError (or
// Saved for file output).
type Outcome struct {
	// PlaybackStarted reports that audio playback began (possibly before
	// synthesis completed, for the streaming engine).
	PlaybackStarted bool

	// PlaybackError reports that the playback collaborator failed after
	// audio was handed to it.
	PlaybackError bool

	// RequestError reports a transport, protocol, authentication, or
	// empty-result failure before playback could begin.
	RequestError bool

	// Saved reports that the audio was persisted to Request.SavePath.
	Saved bool

	// AudioBytes is the number of audio payload bytes received.
	AudioBytes int64
}

// OK reports whether the attempt counts as a success.
func (o Outcome) OK() bool {
	if o.Saved {
		return true
	}
	return o.PlaybackStarted && !o.PlaybackError && !o.RequestError
}

// Engine is the abstraction over one synthesis backend. An Engine instance
// runs at most one attempt at a time; starting a new attempt while a previous
// one is in flight requires stopping the previous one first (the orchestrator
// enforces this).
type Engine interface {
	// Name identifies the engine in logs, metrics, and configuration.
	Name() string

	// Streaming reports whether the engine delivers audio incrementally.
	// The orchestrator arms a re-arming progress watchdog for streaming
	// engines and a flat single-shot deadline for the rest.
	Streaming() bool

	// Start launches one synthesis attempt. A non-nil error means the
	// attempt could not even be dispatched (bad request, engine
	// misconfigured); transport failures after dispatch are reported
	// through the attempt's Outcome instead.
	Start(ctx context.Context, req Request) (Attempt, error)
}

// Attempt is a handle on one in-flight synthesis attempt.
//
// BytesReceived and PlaybackStarted may be called at any time from any
// goroutine; they are the watchdog's progress probes. Outcome must only be
// read after Done is closed.
type Attempt interface {
	// Done is closed exactly once, when the attempt settles with success,
	// failure, or cancellation.
	Done() <-chan struct{}

	// Outcome returns the finished signal. Valid only after Done.
	Outcome() Outcome

	// BytesReceived returns the audio bytes accumulated so far.
	BytesReceived() int64

	// PlaybackStarted reports whether playback has begun.
	PlaybackStarted() bool

	// Stop cancels the attempt cooperatively: it aborts the transport,
	// stops playback, and guarantees Done closes. Safe to call more than
	// once and after Done.
	Stop()
}
