package orchestrator

import (
	"context"
	"time"

	"github.com/MrWong99/readaloud/pkg/synth"
)

// abortReason names why the watchdog gave up on an attempt.
type abortReason string

const (
	// reasonNoData: no bytes at all arrived within the first watchdog
	// window.
	reasonNoData abortReason = "no_data"

	// reasonStalled: two consecutive polls observed the same byte count.
	reasonStalled abortReason = "stalled"

	// reasonPlaybackOverdue: received bytes passed the early-playback
	// watermark yet playback never started, so the session is wedged on
	// the output side.
	reasonPlaybackOverdue abortReason = "playback_overdue"

	// reasonDeadline: a non-streaming attempt outlived its flat deadline.
	reasonDeadline abortReason = "deadline"
)

// watch supervises att until it finishes, ctx is cancelled, or the policy
// decides the attempt is dead, in which case the reason is sent on the
// returned channel.
//
// Streaming engines get a progress-based policy: the watchdog polls the byte
// counter every tick and aborts on no data, a stall, or an overdue playback
// start. It disarms once playback is running since from then on the attempt
// settles through ordinary playback completion. File-save requests never
// start playback, so for them only the no-data and stall arms apply.
// Non-streaming engines get a single flat deadline.
func (o *Orchestrator) watch(ctx context.Context, eng synth.Engine, req synth.Request, att synth.Attempt) <-chan abortReason {
	abort := make(chan abortReason, 1)
	if eng.Streaming() {
		go o.watchStreaming(ctx, req.SavePath != "", att, abort)
	} else {
		go o.watchDeadline(ctx, att, abort)
	}
	return abort
}

func (o *Orchestrator) watchStreaming(ctx context.Context, saving bool, att synth.Attempt, abort chan<- abortReason) {
	ticker := time.NewTicker(o.cfg.WatchdogTick)
	defer ticker.Stop()

	prev := int64(-1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-att.Done():
			return
		case <-ticker.C:
		}

		if att.PlaybackStarted() {
			return
		}
		n := att.BytesReceived()
		switch {
		case n == 0:
			abort <- reasonNoData
			return
		case n == prev:
			abort <- reasonStalled
			return
		case !saving && n >= o.cfg.StartWatermark:
			abort <- reasonPlaybackOverdue
			return
		}
		prev = n
	}
}

func (o *Orchestrator) watchDeadline(ctx context.Context, att synth.Attempt, abort chan<- abortReason) {
	timer := time.NewTimer(o.cfg.HTTPDeadline)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-att.Done():
	case <-timer.C:
		abort <- reasonDeadline
	}
}
