// Package audio defines the playback collaborator contract consumed by the
// synthesis engines.
//
// The core only needs four operations from a playback component: start
// playing, stop, observe end-of-media, and observe a playback error. Those
// map onto a single blocking Play call: it returns nil at end-of-media, a
// non-nil error on playback failure, and ctx.Err() when stopped via context
// cancellation.
package audio

import (
	"context"
	"io"
)

// Player plays an audio byte stream.
//
// Implementations must support src readers that block until more data is
// available; the streaming engine starts playback on a growing buffer before
// synthesis has finished.
type Player interface {
	// Play decodes and plays src until end of media. It blocks; cancel ctx
	// to stop playback early. A nil return means playback ended naturally.
	Play(ctx context.Context, src io.Reader) error
}
