package download

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseMediaPlaylist(t *testing.T) {
	body := `#EXTM3U
#EXT-X-VERSION:7
#EXT-X-MAP:URI="init.mp4"
#EXT-X-KEY:METHOD=NONE
#EXTINF:6.0,
seg-1.m4s
#EXTINF:6.0,

https://other.example/seg-2.m4s
#EXT-X-ENDLIST
`
	got, err := parseMediaPlaylist(body, "https://cdn.example/v/index.m3u8")
	if err != nil {
		t.Fatalf("parseMediaPlaylist() error: %v", err)
	}
	want := []string{
		"https://cdn.example/v/init.mp4",
		"https://cdn.example/v/seg-1.m4s",
		"https://other.example/seg-2.m4s",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("segments mismatch (-want +got):\n%s", diff)
	}
}

func TestTagAttribute(t *testing.T) {
	line := `#EXT-X-KEY:METHOD=AES-128,URI="https://k.example/key?a=1,b=2",IV=0x1234`
	tests := map[string]string{
		"METHOD": "AES-128",
		"URI":    "https://k.example/key?a=1,b=2",
		"IV":     "0x1234",
		"NONE":   "",
	}
	for key, want := range tests {
		if got := tagAttribute(line, key); got != want {
			t.Errorf("tagAttribute(%s) = %q, want %q", key, got, want)
		}
	}
}

func TestRemuxArgs(t *testing.T) {
	got := remuxArgs("/dl/a.ts", "/dl/a.vtt", "Title", "/dl/a.mkv")
	want := []string{
		"-y", "-i", "/dl/a.ts", "-i", "/dl/a.vtt",
		"-c:v", "copy", "-c:a", "copy",
		"-c:s", "srt", "-map", "0:v", "-map", "0:a", "-map", "1:s",
		"-metadata", "title=Title", "/dl/a.mkv",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("remuxArgs mismatch (-want +got):\n%s", diff)
	}

	plain := remuxArgs("/dl/a.ts", "", "", "/dl/a.mkv")
	if diff := cmp.Diff([]string{"-y", "-i", "/dl/a.ts", "-c:v", "copy", "-c:a", "copy", "/dl/a.mkv"}, plain); diff != "" {
		t.Errorf("remuxArgs without subtitle mismatch (-want +got):\n%s", diff)
	}
}

func TestFirstStreamURI(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bandwidth only", "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=800000\nv/index.m3u8\n#EXT-X-STREAM-INF:BANDWIDTH=400000\nlow.m3u8\n", "https://cdn.example/live/v/index.m3u8"},
		{"absolute", "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1\n\nhttps://other.example/a.m3u8\n", "https://other.example/a.m3u8"},
		{"uri before tag ignored", "#EXTM3U\nstray.m3u8\n#EXT-X-STREAM-INF:BANDWIDTH=1\n#EXT-X-MEDIA:TYPE=AUDIO\nreal.m3u8\n", "https://cdn.example/live/real.m3u8"},
		{"no streams", "#EXTM3U\n#EXTINF:10,\nseg.ts\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := firstStreamURI(tt.body, "https://cdn.example/live/master.m3u8")
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("firstStreamURI mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
