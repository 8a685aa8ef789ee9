// Package edge implements the streaming synthesis engine: a WebSocket client
// for the readaloud speech service that submits text turn by turn, accumulates
// audio incrementally, and starts playback before synthesis completes.
//
// The wire protocol is a mix of text frames (headers + body, see frame.go)
// and binary frames (length-prefixed header block + raw audio). One turn
// covers a bounded slice of the normalised input text; the service paces the
// client because the next slice is only submitted after the previous turn's
// end marker is observed.
package edge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/readaloud/pkg/audio"
	"github.com/MrWong99/readaloud/pkg/synth"
)

const (
	trustedClientToken  = "6A5AA1D4EAFF4E9FB37E23D68491D6F4"
	defaultBaseURL      = "wss://speech.platform.bing.com/consumer/speech/synthesize/readaloud/edge/v1"
	defaultVoiceListURL = "https://speech.platform.bing.com/consumer/speech/synthesize/readaloud/voices/list"
	chromiumFullVersion = "130.0.2849.68"

	// DefaultMaxChunk is the per-turn text slice length in bytes.
	DefaultMaxChunk = 8192 * 16

	// DefaultStartWatermark is the accumulated byte count at which live
	// playback starts, ahead of synthesis completing. Tuned against the
	// vendor's observed latency, not derived from any protocol guarantee.
	DefaultStartWatermark = 8192 * 4

	// readLimit bounds a single frame. Audio frames are a few KiB in
	// practice; this leaves generous headroom.
	readLimit = 1 << 24
)

// Compile-time interface assertions.
var (
	_ synth.Engine  = (*Client)(nil)
	_ synth.Attempt = (*attempt)(nil)
)

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithBaseURL overrides the service WebSocket URL. Used in tests to point at
// a local server.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithVoiceListURL overrides the voice catalogue URL.
func WithVoiceListURL(u string) Option {
	return func(c *Client) { c.voiceListURL = u }
}

// WithMaxChunk sets the per-turn text slice length in bytes.
func WithMaxChunk(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxChunk = n
		}
	}
}

// WithStartWatermark sets the byte threshold for starting early playback.
func WithStartWatermark(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.watermark = n
		}
	}
}

// WithHTTPClient sets the HTTP client used for the WebSocket handshake and
// the voice catalogue request.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client is the streaming synthesis engine. It is stateless between attempts;
// each Start call owns its own socket session. Run at most one attempt at a
// time per Client.
type Client struct {
	player       audio.Player
	baseURL      string
	voiceListURL string
	maxChunk     int
	watermark    int
	httpClient   *http.Client
	now          func() time.Time
}

// New creates a streaming Client that plays audio through player.
func New(player audio.Player, opts ...Option) *Client {
	c := &Client{
		player:       player,
		baseURL:      defaultBaseURL,
		voiceListURL: defaultVoiceListURL,
		maxChunk:     DefaultMaxChunk,
		watermark:    DefaultStartWatermark,
		httpClient:   &http.Client{},
		now:          time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Name implements [synth.Engine].
func (c *Client) Name() string { return "edge" }

// Streaming implements [synth.Engine].
func (c *Client) Streaming() bool { return true }

// Start launches one synthesis attempt. The request text is normalised here;
// all cursor arithmetic runs over the normalised string.
func (c *Client) Start(ctx context.Context, req synth.Request) (synth.Attempt, error) {
	if req.Text == "" {
		return nil, errors.New("edge: request text must not be empty")
	}

	text := Normalize(req.Text)
	a := &attempt{
		c:        c,
		req:      req,
		text:     text,
		voice:    fmt.Sprintf("Microsoft Server Speech Text to Speech Voice (%s)", req.Voice),
		rate:     orDefault(req.Rate, "+0%"),
		volume:   orDefault(req.Volume, "+0%"),
		pitch:    orDefault(req.Pitch, "+0Hz"),
		acc:      newAccumulator(len(text)),
		done:     make(chan struct{}),
		playDone: make(chan error, 1),
	}
	a.ctx, a.cancel = context.WithCancel(ctx)
	go a.run()
	return a, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// attempt is one socket session. Session state (cursor, turnActive) is only
// touched by the run goroutine; the byte counter and playback flag are
// atomics so the orchestrator's watchdog can poll them.
type attempt struct {
	c      *Client
	req    synth.Request
	text   string
	voice  string
	rate   string
	volume string
	pitch  string

	ctx    context.Context
	cancel context.CancelFunc

	// Session state, owned by run.
	cursor     int
	turnActive bool

	acc         *accumulator
	bytes       atomic.Int64
	playStarted atomic.Bool
	playing     bool
	playDone    chan error

	outcome  synth.Outcome
	done     chan struct{}
	stopOnce sync.Once
}

// Done implements [synth.Attempt].
func (a *attempt) Done() <-chan struct{} { return a.done }

// Outcome implements [synth.Attempt]. Valid only after Done.
func (a *attempt) Outcome() synth.Outcome { return a.outcome }

// BytesReceived implements [synth.Attempt].
func (a *attempt) BytesReceived() int64 { return a.bytes.Load() }

// PlaybackStarted implements [synth.Attempt].
func (a *attempt) PlaybackStarted() bool { return a.playStarted.Load() }

// Stop implements [synth.Attempt]: it aborts the transport and playback and
// lets run settle the finished signal.
func (a *attempt) Stop() {
	a.stopOnce.Do(a.cancel)
}

// run drives the protocol session from connect to the finished signal.
func (a *attempt) run() {
	defer close(a.done)

	err := a.session()

	// The session is over, one way or another. Settle playback before the
	// finished signal: seal the accumulator so a streaming reader drains
	// and sees EOF, then collect the playback result.
	a.acc.seal()
	if a.playing {
		if perr := <-a.playDone; perr != nil && !errors.Is(perr, context.Canceled) {
			a.outcome.PlaybackError = true
		}
	}

	a.outcome.AudioBytes = a.bytes.Load()
	a.outcome.PlaybackStarted = a.playStarted.Load()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.outcome.RequestError = true
	}
}

// session opens the socket, runs the turn loop, and performs the disconnect
// actions (save, or force-play a short buffer).
func (a *attempt) session() error {
	conn, err := a.dial()
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(readLimit)

	if err := a.sendTurn(conn); err != nil {
		return err
	}

	if err := a.readLoop(conn); err != nil {
		return err
	}

	// Disconnected after the final turn.
	if a.req.SavePath != "" {
		return a.save()
	}
	if !a.playStarted.Load() {
		// Total audio stayed below the watermark; play what we have.
		return a.forcePlay()
	}
	return nil
}

// dial opens the transport with the service's required handshake headers.
// These are protocol compatibility requirements: values outside the service's
// allow-list get the handshake rejected upstream.
func (a *attempt) dial() (*websocket.Conn, error) {
	now := a.c.now()
	u := fmt.Sprintf("%s?TrustedClientToken=%s&Sec-MS-GEC=%s&Sec-MS-GEC-Version=%s&ConnectionId=%s",
		a.c.baseURL, trustedClientToken,
		secMSGECToken(now, trustedClientToken),
		secMSGECVersion(chromiumFullVersion),
		connectionID())

	hdr := http.Header{}
	hdr.Set("Pragma", "no-cache")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Origin", "chrome-extension://jdiccldimpdaibmpdkjnbmckianbfold")
	hdr.Set("Accept-Encoding", "gzip, deflate, br")
	hdr.Set("Accept-Language", "en-US,en;q=0.9")
	hdr.Set("User-Agent", fmt.Sprintf("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36 Edg/%s",
		chromiumFullVersion, chromiumFullVersion))

	conn, _, err := websocket.Dial(a.ctx, u, &websocket.DialOptions{
		HTTPClient: a.c.httpClient,
		HTTPHeader: hdr,
	})
	if err != nil {
		return nil, fmt.Errorf("edge: dial: %w", err)
	}
	return conn, nil
}

// sendTurn submits the config frame plus the SSML frame for the current
// cursor slice. The config frame precedes every turn, matching how browser
// sessions behave on reconnect.
func (a *attempt) sendTurn(conn *websocket.Conn) error {
	ts := protocolTimestamp(a.c.now())
	if err := conn.Write(a.ctx, websocket.MessageText, []byte(configFrame(ts))); err != nil {
		return fmt.Errorf("edge: send speech.config: %w", err)
	}

	end := a.cursor + a.c.maxChunk
	if end > len(a.text) {
		end = len(a.text)
	}
	ssml := mkssml(a.text[a.cursor:end], a.voice, a.rate, a.volume, a.pitch)
	frame := ssmlFrame(connectionID(), ts, ssml)
	if err := conn.Write(a.ctx, websocket.MessageText, []byte(frame)); err != nil {
		return fmt.Errorf("edge: send ssml: %w", err)
	}
	return nil
}

// readLoop dispatches frames until the session is complete or fails. A nil
// return means the final turn ended and the socket was (or is about to be)
// closed cleanly.
func (a *attempt) readLoop(conn *websocket.Conn) error {
	for {
		typ, data, err := conn.Read(a.ctx)
		if err != nil {
			if a.ctx.Err() != nil {
				return context.Canceled
			}
			return fmt.Errorf("edge: read: %w", err)
		}

		switch typ {
		case websocket.MessageText:
			done, err := a.handleText(conn, data)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		case websocket.MessageBinary:
			if err := a.handleBinary(data); err != nil {
				return err
			}
		}
	}
}

// handleText dispatches one text frame by its Path header. The boolean
// result reports whether the session is complete.
func (a *attempt) handleText(conn *websocket.Conn, data []byte) (bool, error) {
	frame, err := decodeTextFrame(string(data))
	if err != nil {
		return false, fmt.Errorf("edge: %w", err)
	}

	switch frame.path() {
	case "turn.start":
		a.turnActive = true
		return false, nil
	case "turn.end":
		a.turnActive = false
		a.cursor += a.c.maxChunk
		if a.cursor >= len(a.text) {
			return true, nil
		}
		return false, a.sendTurn(conn)
	case "audio.metadata", "response":
		return false, nil
	default:
		return false, fmt.Errorf("edge: unexpected frame path %q", frame.path())
	}
}

// handleBinary appends one audio payload and starts playback once the
// watermark is crossed. Binary data outside an active turn is a protocol
// violation and fails the session.
func (a *attempt) handleBinary(data []byte) error {
	if !a.turnActive {
		return errors.New("edge: binary frame outside of an active turn")
	}
	payload, err := decodeBinaryFrame(data)
	if err != nil {
		return fmt.Errorf("edge: %w", err)
	}
	a.acc.write(payload)
	a.bytes.Store(int64(a.acc.offset()))

	if a.req.SavePath == "" && !a.playing && a.acc.offset() >= a.c.watermark {
		a.startPlayback(a.acc.reader())
	}
	return nil
}

// save writes the trimmed audio to the request's save path.
func (a *attempt) save() error {
	data := a.acc.trimmed()
	if len(data) == 0 {
		return errors.New("edge: no audio received")
	}
	if err := os.WriteFile(a.req.SavePath, data, 0o644); err != nil {
		return fmt.Errorf("edge: save audio: %w", err)
	}
	a.outcome.Saved = true
	return nil
}

// forcePlay plays a completed buffer that never reached the watermark.
func (a *attempt) forcePlay() error {
	if a.acc.offset() == 0 {
		return errors.New("edge: no audio received")
	}
	a.acc.seal()
	a.startPlayback(a.acc.reader())
	return nil
}

// startPlayback launches the playback goroutine over r. The reader blocks
// for audio that has not arrived yet and drains to EOF once the accumulator
// is sealed.
func (a *attempt) startPlayback(r io.Reader) {
	a.playing = true
	a.playStarted.Store(true)
	go func() {
		a.playDone <- a.c.player.Play(a.ctx, r)
	}()
}
