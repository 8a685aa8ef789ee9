package edge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/readaloud/pkg/audio/mock"
)

func TestListVoices(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"Name":"Microsoft Server Speech Text to Speech Voice (zh-CN, XiaoxiaoNeural)",
			 "ShortName":"zh-CN-XiaoxiaoNeural","Gender":"Female","Locale":"zh-CN",
			 "FriendlyName":"Xiaoxiao","Status":"GA"},
			{"Name":"Microsoft Server Speech Text to Speech Voice (en-US, AriaNeural)",
			 "ShortName":"en-US-AriaNeural","Gender":"Female","Locale":"en-US",
			 "FriendlyName":"Aria","Status":"GA"}
		]`))
	}))
	defer srv.Close()

	c := New(&mock.Player{}, WithVoiceListURL(srv.URL))
	voices, err := c.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("got %d voices, want 2", len(voices))
	}
	if voices[0].ShortName != "zh-CN-XiaoxiaoNeural" || voices[0].Locale != "zh-CN" {
		t.Errorf("unexpected first voice: %+v", voices[0])
	}
	for _, param := range []string{"trustedclienttoken=", "Sec-MS-GEC=", "Sec-MS-GEC-Version="} {
		if !strings.Contains(query, param) {
			t.Errorf("query %q missing %s", query, param)
		}
	}
}

func TestListVoicesBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(&mock.Player{}, WithVoiceListURL(srv.URL))
	if _, err := c.ListVoices(context.Background()); err == nil {
		t.Fatal("expected error for non-200 status")
	}
}
