package subtitle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/afero"

	"sora/internal/media"
)

func TestFilter(t *testing.T) {
	subs := []media.Subtitle{
		{Language: "English", Label: "English"},
		{Language: "English", Label: "English - SDH"},
		{Language: "Spanish", Label: "Spanish"},
		{Language: "French", Label: "French"},
	}

	tests := []struct {
		lang     string
		expected int
	}{
		{"english", 2},
		{"spanish", 1},
		{"french", 1},
		{"german", 0},
		{"", 4},
	}

	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			got := Filter(subs, tt.lang)
			if len(got) != tt.expected {
				t.Errorf("Filter(%q) returned %d subs, want %d", tt.lang, len(got), tt.expected)
			}
		})
	}
}

func TestBestMatch(t *testing.T) {
	subs := []media.Subtitle{
		{Language: "English", Label: "English - SDH", URL: "https://example.com/sdh.vtt"},
		{Language: "English", Label: "English", URL: "https://example.com/en.vtt"},
		{Language: "Spanish", Label: "Spanish", URL: "https://example.com/es.vtt"},
	}

	// Should prefer non-SDH English
	best := BestMatch(subs, "english")
	if best == nil {
		t.Fatal("BestMatch returned nil for english")
	}
	if best.Label != "English" {
		t.Errorf("BestMatch preferred %q, want 'English' (non-SDH)", best.Label)
	}

	// Spanish
	best = BestMatch(subs, "spanish")
	if best == nil {
		t.Fatal("BestMatch returned nil for spanish")
	}
	if best.Language != "Spanish" {
		t.Errorf("got language %q, want Spanish", best.Language)
	}

	// No match
	best = BestMatch(subs, "japanese")
	if best != nil {
		t.Error("BestMatch should return nil for unmatched language")
	}
}

func TestBestMatchUnlabelled(t *testing.T) {
	subs := []media.Subtitle{{URL: "https://example.com/a.vtt"}, {URL: "https://example.com/b.vtt"}}
	best := BestMatch(subs, "english")
	if best == nil || best.URL != "https://example.com/a.vtt" {
		t.Errorf("BestMatch(unlabelled) = %v, want first track", best)
	}
	if BestMatch(nil, "english") != nil {
		t.Error("BestMatch(nil) should be nil")
	}
}

func TestExtension(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://example.com/subs/en.srt", ".srt"},
		{"https://example.com/subs/en.VTT?token=1", ".vtt"},
		{"https://example.com/subs/en.ass", ".ass"},
		{"https://example.com/subs/track", ".vtt"},
		{"https://example.com/subs/en.txt", ".vtt"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := Extension(tt.url); got != tt.want {
				t.Errorf("Extension(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestSaveSidecar(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Referer") != "https://site.example/" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte("WEBVTT\n\n00:00.000 --> 00:01.000\nhello\n"))
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	sub := media.Subtitle{URL: srv.URL + "/en.vtt"}
	headers := map[string]string{"Referer": "https://site.example/"}

	path, err := SaveSidecar(context.Background(), fs, srv.Client(), sub, headers, "/downloads/Show S01E02.mp4")
	if err != nil {
		t.Fatalf("SaveSidecar() error: %v", err)
	}
	if path != "/downloads/Show S01E02.vtt" {
		t.Errorf("path = %q", path)
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("reading sidecar: %v", err)
	}
	if len(data) == 0 {
		t.Error("sidecar is empty")
	}

	if _, err := SaveSidecar(context.Background(), fs, srv.Client(), sub, nil, "/downloads/x.mp4"); err == nil {
		t.Error("SaveSidecar() should fail when the host rejects the request")
	}
	if _, err := SaveSidecar(context.Background(), fs, srv.Client(), media.Subtitle{URL: "file:///etc/passwd"}, nil, "/downloads/x.mp4"); err == nil {
		t.Error("SaveSidecar() should reject non-http URLs")
	}
}
