// Package mp3 provides the real [audio.Player] implementation: MP3 decoding
// via hajimehoshi/go-mp3 and PCM output via hajimehoshi/oto.
package mp3

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/hajimehoshi/oto/v2"

	"github.com/MrWong99/readaloud/pkg/audio"
)

// pollInterval is how often playback progress is checked while waiting for
// end of media.
const pollInterval = 15 * time.Millisecond

// Compile-time interface assertion.
var _ audio.Player = (*Player)(nil)

// Player implements [audio.Player] on top of an oto output device. The zero
// value is not usable; use [New].
//
// oto contexts are process-wide and keyed by sample rate, so Player caches one
// context per rate. Play calls are serialised: the synthesis core never runs
// two playbacks at once, and the underlying device does not mix.
type Player struct {
	mu       sync.Mutex
	contexts map[int]*oto.Context
}

// New creates a Player.
func New() *Player {
	return &Player{contexts: make(map[int]*oto.Context)}
}

// Play decodes the MP3 stream from src and plays it until end of media.
// It blocks; cancelling ctx stops playback and returns ctx.Err().
func (p *Player) Play(ctx context.Context, src io.Reader) error {
	dec, err := gomp3.NewDecoder(src)
	if err != nil {
		return fmt.Errorf("mp3: decoder: %w", err)
	}

	otoCtx, err := p.contextFor(dec.SampleRate())
	if err != nil {
		return err
	}

	player := otoCtx.NewPlayer(dec)
	defer player.Close()
	player.Play()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	if err := player.Err(); err != nil {
		return fmt.Errorf("mp3: playback: %w", err)
	}
	return nil
}

// contextFor returns the cached oto context for rate, creating it on first use.
func (p *Player) contextFor(rate int) (*oto.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.contexts[rate]; ok {
		return c, nil
	}
	// go-mp3 always decodes to 16-bit stereo.
	c, ready, err := oto.NewContext(rate, 2, 2)
	if err != nil {
		return nil, fmt.Errorf("mp3: audio device: %w", err)
	}
	<-ready
	p.contexts[rate] = c
	return c, nil
}
