// Package mock provides a scripted in-memory [audio.Player] for unit tests.
//
// The mock records every Play call so that tests can assert on call counts and
// the byte payloads handed to playback. It is safe for concurrent use.
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/readaloud/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Player = (*Player)(nil)

// Player is a fake playback device. It drains the source reader, records the
// bytes, and returns the scripted error (nil by default).
type Player struct {
	// PlayErr is returned from Play after the source is drained.
	PlayErr error

	// BlockUntilCancel makes Play wait for ctx cancellation after draining,
	// simulating long media.
	BlockUntilCancel bool

	mu     sync.Mutex
	plays  int
	played [][]byte
}

// Play drains src and records the payload.
func (p *Player) Play(ctx context.Context, src io.Reader) error {
	data, err := io.ReadAll(src)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.plays++
	p.played = append(p.played, data)
	p.mu.Unlock()

	if p.BlockUntilCancel {
		<-ctx.Done()
		return ctx.Err()
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return p.PlayErr
}

// Plays returns how many Play calls completed.
func (p *Player) Plays() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plays
}

// Played returns the byte payloads handed to Play, in order.
func (p *Player) Played() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.played))
	copy(out, p.played)
	return out
}
