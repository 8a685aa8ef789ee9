package voicecache

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/readaloud/pkg/synth/edge"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func sampleVoices() []edge.Voice {
	return []edge.Voice{
		{
			Name:         "Microsoft Server Speech Text to Speech Voice (zh-CN, XiaoxiaoNeural)",
			ShortName:    "zh-CN-XiaoxiaoNeural",
			Gender:       "Female",
			Locale:       "zh-CN",
			FriendlyName: "Microsoft Xiaoxiao Online (Natural) - Chinese (Mainland)",
			Status:       "GA",
		},
		{
			Name:      "Microsoft Server Speech Text to Speech Voice (en-US, AriaNeural)",
			ShortName: "en-US-AriaNeural",
			Gender:    "Female",
			Locale:    "en-US",
			Status:    "GA",
		},
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "voices.db"), 0, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEmptyCacheIsNotFresh(t *testing.T) {
	s := openTestStore(t)

	voices, fresh, err := s.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fresh {
		t.Error("empty cache should not be fresh")
	}
	if voices != nil {
		t.Errorf("expected nil voices, got %d", len(voices))
	}
}

func TestPutAndGet(t *testing.T) {
	s := openTestStore(t)

	if err := s.Put(context.Background(), sampleVoices()); err != nil {
		t.Fatalf("put: %v", err)
	}

	voices, fresh, err := s.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !fresh {
		t.Error("just-written catalogue should be fresh")
	}
	if len(voices) != 2 {
		t.Fatalf("expected 2 voices, got %d", len(voices))
	}
	// Rows come back ordered by short name.
	if voices[0].ShortName != "en-US-AriaNeural" {
		t.Errorf("voices[0]: got %q", voices[0].ShortName)
	}
	if voices[1].Locale != "zh-CN" {
		t.Errorf("voices[1].Locale: got %q", voices[1].Locale)
	}
}

func TestPutReplacesCatalogue(t *testing.T) {
	s := openTestStore(t)

	if err := s.Put(context.Background(), sampleVoices()); err != nil {
		t.Fatalf("first put: %v", err)
	}
	replacement := []edge.Voice{{ShortName: "de-DE-KatjaNeural", Locale: "de-DE"}}
	if err := s.Put(context.Background(), replacement); err != nil {
		t.Fatalf("second put: %v", err)
	}

	voices, _, err := s.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(voices) != 1 || voices[0].ShortName != "de-DE-KatjaNeural" {
		t.Fatalf("expected replaced catalogue, got %+v", voices)
	}
}

func TestTTLExpiry(t *testing.T) {
	s := openTestStore(t)

	if err := s.Put(context.Background(), sampleVoices()); err != nil {
		t.Fatalf("put: %v", err)
	}

	// Advance the clock past the TTL.
	s.clock = func() time.Time { return time.Now().Add(DefaultTTL + time.Minute) }

	voices, fresh, err := s.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fresh {
		t.Error("catalogue past its TTL should be stale")
	}
	if len(voices) != 2 {
		t.Errorf("stale catalogue should still return voices, got %d", len(voices))
	}
}

func TestByLocale(t *testing.T) {
	s := openTestStore(t)

	if err := s.Put(context.Background(), sampleVoices()); err != nil {
		t.Fatalf("put: %v", err)
	}

	voices, err := s.ByLocale(context.Background(), "zh-CN")
	if err != nil {
		t.Fatalf("by locale: %v", err)
	}
	if len(voices) != 1 || voices[0].ShortName != "zh-CN-XiaoxiaoNeural" {
		t.Fatalf("expected the zh-CN voice, got %+v", voices)
	}
}
