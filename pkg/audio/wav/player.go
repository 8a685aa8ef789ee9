// Package wav provides an [audio.Player] for WAV payloads: PCM extraction via
// go-audio/wav and output via hajimehoshi/oto.
//
// The HTTP synthesis backends deliver complete WAV files, so unlike the MP3
// player this one buffers the whole source before decoding.
package wav

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	goaudiowav "github.com/go-audio/wav"
	"github.com/hajimehoshi/oto/v2"

	"github.com/MrWong99/readaloud/pkg/audio"
)

const pollInterval = 15 * time.Millisecond

// Compile-time interface assertion.
var _ audio.Player = (*Player)(nil)

// Player implements [audio.Player] for WAV sources. The zero value is not
// usable; use [New].
type Player struct {
	mu       sync.Mutex
	contexts map[contextKey]*oto.Context
}

type contextKey struct {
	rate     int
	channels int
}

// New creates a Player.
func New() *Player {
	return &Player{contexts: make(map[contextKey]*oto.Context)}
}

// Play buffers the WAV stream from src, decodes it, and plays it until end of
// media. It blocks; cancelling ctx stops playback and returns ctx.Err().
func (p *Player) Play(ctx context.Context, src io.Reader) error {
	data, err := io.ReadAll(src)
	if err != nil {
		return fmt.Errorf("wav: read source: %w", err)
	}

	dec := goaudiowav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return fmt.Errorf("wav: not a valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return fmt.Errorf("wav: decode pcm: %w", err)
	}

	pcm := toLittleEndian16(buf.Data, int(dec.BitDepth))

	otoCtx, err := p.contextFor(int(dec.SampleRate), int(dec.NumChans))
	if err != nil {
		return err
	}

	player := otoCtx.NewPlayer(bytes.NewReader(pcm))
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
		return fmt.Errorf("wav: playback: %w", err)
	}
	return nil
}

// toLittleEndian16 converts decoded samples to 16-bit little-endian PCM.
// 8-bit input is scaled up, anything above 16 bits is truncated down.
func toLittleEndian16(samples []int, bitDepth int) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		var v int16
		switch {
		case bitDepth <= 8:
			v = int16((s - 128) << 8)
		case bitDepth == 16:
			v = int16(s)
		default:
			v = int16(s >> (bitDepth - 16))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// contextFor returns the cached oto context for the format, creating it on
// first use.
func (p *Player) contextFor(rate, channels int) (*oto.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := contextKey{rate: rate, channels: channels}
	if c, ok := p.contexts[key]; ok {
		return c, nil
	}
	c, ready, err := oto.NewContext(rate, channels, 2)
	if err != nil {
		return nil, fmt.Errorf("wav: audio device: %w", err)
	}
	<-ready
	p.contexts[key] = c
	return c, nil
}
