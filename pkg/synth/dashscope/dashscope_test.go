package dashscope

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/readaloud/pkg/audio/mock"
	"github.com/MrWong99/readaloud/pkg/synth"
)

const (
	primaryEndpoint  = "/services/aigc/multimodal-conversation/generation"
	fallbackEndpoint = "/services/aigc/multimodal-generation/generation"
)

func inlineAudioResponse(audio []byte) []byte {
	body, _ := json.Marshal(map[string]any{
		"status_code": 200,
		"output": map[string]any{
			"audio": map[string]any{
				"data": base64.StdEncoding.EncodeToString(audio),
			},
		},
	})
	return body
}

func waitDone(t *testing.T, att synth.Attempt) synth.Outcome {
	t.Helper()
	select {
	case <-att.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("attempt did not finish")
	}
	return att.Outcome()
}

func TestClientPlaysInlineAudio(t *testing.T) {
	audio := []byte("inline-audio-bytes")
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q", got)
		}
		var payload struct {
			Model string `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload.Model != "qwen3-tts-flash" {
			t.Errorf("model = %q", payload.Model)
		}
		w.Write(inlineAudioResponse(audio))
	}))
	defer srv.Close()

	player := &mock.Player{}
	c := New(player, WithAPIKey("test-key"), WithBaseURL(srv.URL))
	att, err := c.Start(context.Background(), synth.Request{Text: "hello", Voice: "Cherry"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	out := waitDone(t, att)
	if !out.OK() {
		t.Fatalf("outcome not OK: %+v", out)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if player.Plays() != 1 {
		t.Fatalf("plays = %d, want 1", player.Plays())
	}
	if !bytes.Equal(player.Played()[0], audio) {
		t.Error("played payload differs from inline audio")
	}
}

func TestClientDownloadsSecondaryURL(t *testing.T) {
	audio := []byte("downloaded-audio")
	var synthesisCalls, downloadCalls atomic.Int32
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/audio.wav" {
			downloadCalls.Add(1)
			w.Write(audio)
			return
		}
		synthesisCalls.Add(1)
		body, _ := json.Marshal(map[string]any{
			"status_code": 200,
			"output": map[string]any{
				"audio": map[string]any{"url": srvURL + "/audio.wav"},
			},
		})
		w.Write(body)
	}))
	defer srv.Close()
	srvURL = srv.URL

	player := &mock.Player{}
	c := New(player, WithAPIKey("test-key"), WithBaseURL(srv.URL))
	att, err := c.Start(context.Background(), synth.Request{Text: "hello", Voice: "Cherry"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	out := waitDone(t, att)
	if !out.OK() {
		t.Fatalf("outcome not OK: %+v", out)
	}
	if synthesisCalls.Load() != 1 || downloadCalls.Load() != 1 {
		t.Errorf("calls = %d synthesis + %d download, want 1 + 1",
			synthesisCalls.Load(), downloadCalls.Load())
	}
	if !bytes.Equal(player.Played()[0], audio) {
		t.Error("played payload differs from downloaded audio")
	}
}

func TestClientEndpointFallbackOn404(t *testing.T) {
	audio := []byte("fallback-audio")
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.Path)
		switch r.URL.Path {
		case primaryEndpoint:
			w.WriteHeader(http.StatusNotFound)
		case fallbackEndpoint:
			w.Write(inlineAudioResponse(audio))
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	}))
	defer srv.Close()

	player := &mock.Player{}
	c := New(player, WithAPIKey("test-key"), WithBaseURL(srv.URL))
	att, err := c.Start(context.Background(), synth.Request{Text: "hello", Voice: "Cherry"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	out := waitDone(t, att)
	if !out.OK() {
		t.Fatalf("outcome not OK: %+v", out)
	}
	want := []string{primaryEndpoint, fallbackEndpoint}
	if len(calls) != 2 || calls[0] != want[0] || calls[1] != want[1] {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestClientEndpointFallbackOnURLErrorBody(t *testing.T) {
	audio := []byte("fallback-audio")
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path == primaryEndpoint {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"code":"InvalidParameter","message":"Payload check url error"}`)
			return
		}
		w.Write(inlineAudioResponse(audio))
	}))
	defer srv.Close()

	c := New(&mock.Player{}, WithAPIKey("test-key"), WithBaseURL(srv.URL))
	att, err := c.Start(context.Background(), synth.Request{Text: "hello", Voice: "Cherry"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	out := waitDone(t, att)
	if !out.OK() {
		t.Fatalf("outcome not OK: %+v", out)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestClientEndpointFallbackOnBodyLevelURLError(t *testing.T) {
	audio := []byte("fallback-audio")
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.Path)
		if r.URL.Path == primaryEndpoint {
			// HTTP 200 carrying the failure inside the body.
			fmt.Fprint(w, `{"status_code":400,"code":"InvalidParameter","message":"Payload check url error"}`)
			return
		}
		w.Write(inlineAudioResponse(audio))
	}))
	defer srv.Close()

	c := New(&mock.Player{}, WithAPIKey("test-key"), WithBaseURL(srv.URL))
	att, err := c.Start(context.Background(), synth.Request{Text: "hello", Voice: "Cherry"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	out := waitDone(t, att)
	if !out.OK() {
		t.Fatalf("outcome not OK: %+v", out)
	}
	want := []string{primaryEndpoint, fallbackEndpoint}
	if len(calls) != 2 || calls[0] != want[0] || calls[1] != want[1] {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestClientAuthFailureAbortsImmediately(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(&mock.Player{}, WithAPIKey("bad-key"), WithBaseURL(srv.URL))
	att, err := c.Start(context.Background(), synth.Request{Text: "hello", Voice: "Cherry"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	out := waitDone(t, att)
	if !out.RequestError {
		t.Errorf("want RequestError, got %+v", out)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestClientEscalatesPayloadVariants(t *testing.T) {
	audio := []byte("third-time-lucky")
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.Write([]byte(`{"status_code":200,"code":"InvalidParameter","message":"bad payload shape"}`))
			return
		}
		w.Write(inlineAudioResponse(audio))
	}))
	defer srv.Close()

	player := &mock.Player{}
	c := New(player, WithAPIKey("test-key"), WithBaseURL(srv.URL))
	att, err := c.Start(context.Background(), synth.Request{Text: "hello", Voice: "Cherry"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	out := waitDone(t, att)
	if !out.OK() {
		t.Fatalf("outcome not OK: %+v", out)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if !bytes.Equal(player.Played()[0], audio) {
		t.Error("played payload differs")
	}
}

func TestClientCustomEndpointDisablesFallback(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(&mock.Player{},
		WithAPIKey("test-key"),
		WithBaseURL(srv.URL),
		WithEndpoint("/custom/tts"),
	)
	att, err := c.Start(context.Background(), synth.Request{Text: "hello", Voice: "Cherry"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	out := waitDone(t, att)
	if !out.RequestError {
		t.Errorf("want RequestError, got %+v", out)
	}
	// All payload variants go to the pinned endpoint; no other path is hit.
	if len(calls) != 3 {
		t.Errorf("calls = %d, want 3", len(calls))
	}
	for _, p := range calls {
		if p != "/custom/tts" {
			t.Errorf("call hit %q, want /custom/tts", p)
		}
	}
}

func TestClientSavesToFile(t *testing.T) {
	audio := []byte("cloud-audio-to-save")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(inlineAudioResponse(audio))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "out.wav")
	player := &mock.Player{}
	c := New(player, WithAPIKey("test-key"), WithBaseURL(srv.URL))
	att, err := c.Start(context.Background(), synth.Request{Text: "hello", Voice: "Cherry", SavePath: path})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	out := waitDone(t, att)
	if !out.Saved {
		t.Fatalf("outcome not saved: %+v", out)
	}
	if player.Plays() != 0 {
		t.Errorf("plays = %d, want 0", player.Plays())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read saved file: %v", err)
	}
	if !bytes.Equal(data, audio) {
		t.Error("saved file differs from inline audio")
	}
}

func TestClientRejectsMissingAPIKey(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	c := New(&mock.Player{})
	if _, err := c.Start(context.Background(), synth.Request{Text: "hello"}); err == nil {
		t.Fatal("want error for missing API key")
	}
}

func TestClientEmptyInlineAudioIsRequestError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(inlineAudioResponse(nil))
	}))
	defer srv.Close()

	c := New(&mock.Player{}, WithAPIKey("test-key"), WithBaseURL(srv.URL))
	att, err := c.Start(context.Background(), synth.Request{Text: "hello", Voice: "Cherry"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	out := waitDone(t, att)
	if !out.RequestError {
		t.Errorf("want RequestError, got %+v", out)
	}
}

func TestEnvValueStripsQuotes(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`sk-plain`, "sk-plain"},
		{`"sk-double"`, "sk-double"},
		{`'sk-single'`, "sk-single"},
		{`  "sk-padded"  `, "sk-padded"},
		{``, ""},
	}
	for _, tt := range tests {
		t.Setenv("READALOUD_TEST_ENV", tt.in)
		if got := envValue("READALOUD_TEST_ENV"); got != tt.want {
			t.Errorf("envValue(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
