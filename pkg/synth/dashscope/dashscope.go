// Package dashscope provides a request/response synthesis engine backed by
// the DashScope cloud TTS API.
//
// The API surface has shifted across service revisions, so a synthesis call
// walks an ordered candidate list of endpoints and, per endpoint, an ordered
// list of request payload shapes. Generic failures advance the payload index;
// a wrong-URL condition (HTTP 404, or 400 with the service's "url error"
// code) advances the endpoint index and resets the payload index. A custom
// configured endpoint disables endpoint traversal entirely, and an
// authentication failure (401/403) aborts the whole walk since no payload or
// endpoint change can fix a bad key.
//
// A successful response carries either inline base64 audio or a download URL
// for a second GET.
package dashscope

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
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
	defaultBaseURL      = "https://dashscope.aliyuncs.com/api/v1"
	defaultModel        = "qwen3-tts-flash"
	defaultLanguageType = "Chinese"
	defaultTimeout      = 60 * time.Second
)

// Environment variables consulted when the corresponding option is not set.
const (
	EnvAPIKey      = "DASHSCOPE_API_KEY"
	EnvBaseHTTPURL = "DASHSCOPE_BASE_HTTP_API_URL"
	EnvBaseURL     = "DASHSCOPE_BASE_URL"
	EnvEndpoint    = "DASHSCOPE_TTS_ENDPOINT"
	EnvModel       = "DASHSCOPE_TTS_MODEL"
)

// defaultEndpoints is the candidate walk order when no endpoint override is
// configured. The first entry is the current API revision; the second serves
// deployments still on the older path.
var defaultEndpoints = []string{
	"/services/aigc/multimodal-conversation/generation",
	"/services/aigc/multimodal-generation/generation",
}

// envValue reads name from the environment, trimming whitespace and one pair
// of surrounding quotes. Shell profiles and .env files frequently quote
// values; the API rejects keys with the quotes still attached.
func envValue(name string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			v = strings.TrimSpace(v[1 : len(v)-1])
		}
	}
	return v
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithAPIKey sets the API key, overriding the DASHSCOPE_API_KEY environment
// variable.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithBaseURL sets the HTTP API base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithEndpoint pins a single synthesis endpoint, either a path joined to the
// base URL or a fully qualified URL. Setting it disables endpoint fallback.
func WithEndpoint(e string) Option {
	return func(c *Client) { c.customEndpoint = e }
}

// WithModel overrides the synthesis model name.
func WithModel(m string) Option {
	return func(c *Client) { c.model = m }
}

// WithLanguageType sets the language_type request parameter.
func WithLanguageType(lt string) Option {
	return func(c *Client) { c.languageType = lt }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 60 s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client entirely.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client talks to the DashScope synthesis API.
type Client struct {
	player         audio.Player
	httpClient     *http.Client
	apiKey         string
	baseURL        string
	customEndpoint string
	model          string
	languageType   string
}

// New creates a DashScope Client that plays audio through player. Settings
// not supplied via options fall back to the environment, then to hardcoded
// defaults.
func New(player audio.Player, opts ...Option) *Client {
	c := &Client{
		player:       player,
		httpClient:   &http.Client{Timeout: defaultTimeout},
		languageType: defaultLanguageType,
	}
	for _, o := range opts {
		o(c)
	}
	if c.apiKey == "" {
		c.apiKey = envValue(EnvAPIKey)
	}
	if c.baseURL == "" {
		c.baseURL = envValue(EnvBaseHTTPURL)
		if c.baseURL == "" {
			c.baseURL = envValue(EnvBaseURL)
		}
		if c.baseURL == "" {
			c.baseURL = defaultBaseURL
		}
	}
	if c.customEndpoint == "" {
		c.customEndpoint = envValue(EnvEndpoint)
	}
	if c.model == "" {
		c.model = envValue(EnvModel)
		if c.model == "" {
			c.model = defaultModel
		}
	}
	return c
}

// Name implements [synth.Engine].
func (c *Client) Name() string { return "dashscope" }

// Streaming implements [synth.Engine].
func (c *Client) Streaming() bool { return false }

// endpoints returns the candidate walk order for one synthesis call.
func (c *Client) endpoints() (candidates []string, custom bool) {
	if c.customEndpoint != "" {
		return []string{c.customEndpoint}, true
	}
	return defaultEndpoints, false
}

// endpointURL resolves one candidate against the base URL. Fully qualified
// candidates pass through untouched.
func (c *Client) endpointURL(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	base := strings.TrimSuffix(strings.TrimSpace(c.baseURL), "/")
	if endpoint == "" {
		endpoint = defaultEndpoints[0]
	} else if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return base + endpoint
}

// payloads builds the ordered request body variants for one call.
func (c *Client) payloads(text, voice string) [][]byte {
	parameters := map[string]any{
		"voice":         voice,
		"language_type": c.languageType,
	}

	// Variant 1: conversation-style messages plus parameters.
	v1, _ := json.Marshal(map[string]any{
		"model": c.model,
		"input": map[string]any{
			"messages": []any{
				map[string]any{
					"role":    "user",
					"content": []any{map[string]any{"text": text}},
				},
			},
		},
		"parameters": parameters,
	})

	// Variant 2: plain input.text plus parameters.
	v2, _ := json.Marshal(map[string]any{
		"model":      c.model,
		"input":      map[string]any{"text": text},
		"parameters": parameters,
	})

	// Variant 3: everything inline in input.
	v3, _ := json.Marshal(map[string]any{
		"model": c.model,
		"input": map[string]any{
			"text":          text,
			"voice":         voice,
			"language_type": c.languageType,
		},
	})

	return [][]byte{v1, v2, v3}
}

// Start launches one synthesis attempt.
func (c *Client) Start(ctx context.Context, req synth.Request) (synth.Attempt, error) {
	if req.Text == "" {
		return nil, errors.New("dashscope: request text must not be empty")
	}
	if c.apiKey == "" {
		return nil, fmt.Errorf("dashscope: API key missing (set %s)", EnvAPIKey)
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

	payload, err := a.synthesize()
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

// errAuth marks an authentication failure that must abort the walk.
var errAuth = errors.New("dashscope: authentication rejected")

// synthesize walks the endpoint and payload candidates and returns the audio
// payload of the first successful combination.
func (a *attempt) synthesize() ([]byte, error) {
	endpoints, custom := a.c.endpoints()
	payloads := a.c.payloads(a.req.Text, a.req.Voice)

	ei, pi := 0, 0
	for {
		audioBytes, err := a.trySynthesis(a.c.endpointURL(endpoints[ei]), payloads[pi])
		if err == nil {
			return audioBytes, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, errAuth) {
			return nil, err
		}

		var ue *urlError
		if errors.As(err, &ue) && !custom && ei+1 < len(endpoints) {
			// Wrong endpoint: restart the payload walk on the next
			// candidate. Running out of payloads ends the whole walk,
			// it never advances the endpoint on its own.
			ei++
			pi = 0
			continue
		}
		pi++
		if pi >= len(payloads) {
			return nil, err
		}
	}
}

// urlError marks a response that indicates the endpoint itself is wrong.
type urlError struct{ err error }

func (e *urlError) Error() string { return e.err.Error() }
func (e *urlError) Unwrap() error { return e.err }

// apiResponse is the subset of the synthesis response the client consumes.
type apiResponse struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Output     struct {
		Audio struct {
			URL  string `json:"url"`
			Data string `json:"data"`
		} `json:"audio"`
	} `json:"output"`
}

// looksLikeURLError reports whether body carries the service's wrong-URL
// error shape: code InvalidParameter with a message mentioning the URL.
func looksLikeURLError(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	var resp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return false
	}
	if resp.Code != "InvalidParameter" || resp.Message == "" {
		return false
	}
	msg := strings.ToLower(resp.Message)
	return strings.Contains(msg, "url error") || strings.Contains(msg, "check url")
}

// trySynthesis performs one POST with one payload against one endpoint URL
// and, when the response points at a separate audio URL, the follow-up GET.
func (a *attempt) trySynthesis(endpointURL string, payload []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(a.ctx, http.MethodPost, endpointURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("dashscope: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.c.apiKey)

	resp, err := a.c.httpClient.Do(httpReq)
	if err != nil {
		if a.ctx.Err() != nil {
			return nil, context.Canceled
		}
		return nil, fmt.Errorf("dashscope: request: %w", err)
	}
	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		if a.ctx.Err() != nil {
			return nil, context.Canceled
		}
		return nil, fmt.Errorf("dashscope: read response: %w", readErr)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: HTTP %d", errAuth, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusNotFound ||
		(resp.StatusCode == http.StatusBadRequest && looksLikeURLError(body)) {
		return nil, &urlError{fmt.Errorf("dashscope: HTTP %d at %s", resp.StatusCode, endpointURL)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dashscope: HTTP %d: %s", resp.StatusCode, truncate(body, 256))
	}

	var api apiResponse
	if err := json.Unmarshal(body, &api); err != nil {
		return nil, fmt.Errorf("dashscope: decode response: %w", err)
	}
	// The service may report failure inside a 200 reply. The wrong-URL
	// heuristic applies to these body-level failures too.
	if api.StatusCode != 0 && api.StatusCode != http.StatusOK {
		if looksLikeURLError(body) {
			return nil, &urlError{fmt.Errorf("dashscope: body status %d at %s", api.StatusCode, endpointURL)}
		}
		return nil, fmt.Errorf("dashscope: API status %d %s: %s", api.StatusCode, api.Code, api.Message)
	}
	if api.Code != "" && api.Code != "SUCCESS" {
		if looksLikeURLError(body) {
			return nil, &urlError{fmt.Errorf("dashscope: API error %s at %s", api.Code, endpointURL)}
		}
		return nil, fmt.Errorf("dashscope: API error %s: %s", api.Code, api.Message)
	}

	if api.Output.Audio.Data != "" {
		audioBytes, err := base64.StdEncoding.DecodeString(api.Output.Audio.Data)
		if err != nil {
			return nil, fmt.Errorf("dashscope: decode inline audio: %w", err)
		}
		if len(audioBytes) == 0 {
			return nil, errors.New("dashscope: empty inline audio")
		}
		return audioBytes, nil
	}
	if api.Output.Audio.URL == "" {
		return nil, errors.New("dashscope: response missing audio url and data")
	}
	return a.download(api.Output.Audio.URL)
}

// download fetches the audio payload from the secondary URL.
func (a *attempt) download(u string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(a.ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dashscope: build audio download: %w", err)
	}

	resp, err := a.c.httpClient.Do(httpReq)
	if err != nil {
		if a.ctx.Err() != nil {
			return nil, context.Canceled
		}
		return nil, fmt.Errorf("dashscope: audio download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dashscope: audio download: HTTP %d", resp.StatusCode)
	}
	audioBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("dashscope: audio download: %w", err)
	}
	if len(audioBytes) == 0 {
		return nil, errors.New("dashscope: empty downloaded audio")
	}
	return audioBytes, nil
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "...(truncated)"
	}
	return s
}
