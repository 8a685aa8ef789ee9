// Package refvoice provides a request/response synthesis engine backed by a
// local reference-voice server. One GET per utterance: the server clones the
// timbre of a reference audio sample and returns a complete audio payload.
//
// The engine performs no internal retries. Transport failures, bad statuses
// and empty payloads all surface as a request error on the attempt outcome;
// retrying is the orchestrator's decision.
package refvoice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/readaloud/pkg/audio"
	"github.com/MrWong99/readaloud/pkg/synth"
)

// Compile-time interface assertions.
var (
	_ synth.Engine  = (*Client)(nil)
	_ synth.Attempt = (*attempt)(nil)
)

const (
	defaultBaseURL = "http://127.0.0.1:9880"
	ttsEndpoint    = "/tts"

	defaultTextLang    = "zh"
	defaultSplitMethod = "cut5"
	defaultTimeout     = 30 * time.Second
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithBaseURL sets the reference-voice server base URL. Defaults to the
// local server on port 9880.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithTextLang sets the language code of the input text.
func WithTextLang(lang string) Option {
	return func(c *Client) { c.textLang = lang }
}

// WithReference sets the reference audio sample path and its transcript.
// promptLang is the transcript's language code.
func WithReference(audioPath, promptText, promptLang string) Option {
	return func(c *Client) {
		c.refAudioPath = audioPath
		c.promptText = promptText
		c.promptLang = promptLang
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client entirely.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client talks to a local reference-voice synthesis server.
type Client struct {
	player       audio.Player
	httpClient   *http.Client
	baseURL      string
	textLang     string
	refAudioPath string
	promptText   string
	promptLang   string
}

// New creates a reference-voice Client that plays audio through player.
func New(player audio.Player, opts ...Option) *Client {
	c := &Client{
		player:     player,
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    defaultBaseURL,
		textLang:   defaultTextLang,
		promptLang: defaultTextLang,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Name implements [synth.Engine].
func (c *Client) Name() string { return "refvoice" }

// Streaming implements [synth.Engine].
func (c *Client) Streaming() bool { return false }

// Start launches one synthesis attempt.
func (c *Client) Start(ctx context.Context, req synth.Request) (synth.Attempt, error) {
	if req.Text == "" {
		return nil, errors.New("refvoice: request text must not be empty")
	}

	a := &attempt{
		c:    c,
		req:  req,
		done: make(chan struct{}),
	}
	a.ctx, a.cancel = context.WithCancel(ctx)
	go a.run()
	return a, nil
}

type attempt struct {
	c   *Client
	req synth.Request

	ctx    context.Context
	cancel context.CancelFunc

	bytes       atomic.Int64
	playStarted atomic.Bool

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

// Stop implements [synth.Attempt].
func (a *attempt) Stop() {
	a.stopOnce.Do(a.cancel)
}

func (a *attempt) run() {
	defer close(a.done)

	payload, err := a.fetch()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			a.outcome.RequestError = true
		}
		return
	}
	a.bytes.Store(int64(len(payload)))
	a.outcome.AudioBytes = int64(len(payload))

	if a.req.SavePath != "" {
		if werr := os.WriteFile(a.req.SavePath, payload, 0o644); werr != nil {
			a.outcome.RequestError = true
			return
		}
		a.outcome.Saved = true
		return
	}

	a.playStarted.Store(true)
	a.outcome.PlaybackStarted = true
	if perr := a.c.player.Play(a.ctx, bytes.NewReader(payload)); perr != nil && !errors.Is(perr, context.Canceled) {
		a.outcome.PlaybackError = true
	}
}

// fetch performs the single synthesis GET and returns the audio payload.
func (a *attempt) fetch() ([]byte, error) {
	q := url.Values{}
	q.Set("text", a.req.Text)
	q.Set("text_lang", a.c.textLang)
	q.Set("ref_audio_path", a.c.refAudioPath)
	q.Set("prompt_lang", a.c.promptLang)
	if a.c.promptText != "" {
		q.Set("prompt_text", a.c.promptText)
	}
	q.Set("text_split_method", defaultSplitMethod)
	q.Set("batch_size", "1")
	q.Set("media_type", "wav")
	q.Set("streaming_mode", "true")

	u := a.c.baseURL + ttsEndpoint + "?" + q.Encode()
	httpReq, err := http.NewRequestWithContext(a.ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("refvoice: build request: %w", err)
	}

	resp, err := a.c.httpClient.Do(httpReq)
	if err != nil {
		if a.ctx.Err() != nil {
			return nil, context.Canceled
		}
		return nil, fmt.Errorf("refvoice: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("refvoice: unexpected status %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		if a.ctx.Err() != nil {
			return nil, context.Canceled
		}
		return nil, fmt.Errorf("refvoice: read audio: %w", err)
	}
	if len(payload) == 0 {
		return nil, errors.New("refvoice: empty audio payload")
	}
	return payload, nil
}
