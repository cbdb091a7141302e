package sandbox

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"sora/internal/media"
)

func TestDecodeSearchDegradesToEmpty(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"malformed", `[{"title": "x"`},
		{"object", `{"title":"x","href":"/x"}`},
		{"string", `"nope"`},
		{"array of scalars", `[1, 2, 3]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeSearch(tt.raw)
			if got == nil || len(got) != 0 {
				t.Errorf("DecodeSearch(%q) = %#v, want empty slice", tt.raw, got)
			}
		})
	}
}

func TestDecodeEpisodes(t *testing.T) {
	raw := `[{"number": 1, "href": "/e1"}, {"number": "2", "href": "/e2"}, {"number": 3}, {"number": 4.0, "href": "/e4", "title": "Four"}]`
	want := []media.EpisodeLink{
		{Number: 1, Href: "/e1"},
		{Number: 2, Href: "/e2"},
		{Number: 4, Title: "Four", Href: "/e4"},
	}
	if diff := cmp.Diff(want, DecodeEpisodes(raw)); diff != "" {
		t.Errorf("DecodeEpisodes mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeDetails(t *testing.T) {
	raw := `[{"description": "A show", "aliases": "Alt", "airdate": "2020", "extra": 1}]`
	want := []media.MediaDetails{{Description: "A show", Aliases: "Alt", AirDate: "2020"}}
	if diff := cmp.Diff(want, DecodeDetails(raw)); diff != "" {
		t.Errorf("DecodeDetails mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeStream(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want media.StreamResult
	}{
		{
			name: "bare url",
			raw:  "https://cdn.example/master.m3u8",
			want: media.StreamResult{Streams: []media.Stream{{URL: "https://cdn.example/master.m3u8"}}},
		},
		{
			name: "json string",
			raw:  `"https://cdn.example/v.mp4"`,
			want: media.StreamResult{Streams: []media.Stream{{URL: "https://cdn.example/v.mp4"}}},
		},
		{
			name: "stream field",
			raw:  `{"stream": "https://cdn.example/a.m3u8", "subtitles": "https://cdn.example/en.vtt"}`,
			want: media.StreamResult{
				Streams:   []media.Stream{{URL: "https://cdn.example/a.m3u8"}},
				Subtitles: []media.Subtitle{{URL: "https://cdn.example/en.vtt"}},
			},
		},
		{
			name: "title url pairs",
			raw:  `{"streams": ["Server 1", "https://a.example/1.m3u8", "Server 2", "https://a.example/2.m3u8"]}`,
			want: media.StreamResult{Streams: []media.Stream{
				{Title: "Server 1", URL: "https://a.example/1.m3u8"},
				{Title: "Server 2", URL: "https://a.example/2.m3u8"},
			}},
		},
		{
			name: "stream objects",
			raw: `{"streams": [{"title": "HD", "streamUrl": "https://a.example/hd.m3u8", "headers": {"Referer": "https://a.example/"}}, {"url": "ftp://bad"}],
			       "subtitles": [{"url": "https://a.example/en.vtt", "label": "English", "language": "en"}]}`,
			want: media.StreamResult{
				Streams:   []media.Stream{{Title: "HD", URL: "https://a.example/hd.m3u8", Headers: map[string]string{"Referer": "https://a.example/"}}},
				Subtitles: []media.Subtitle{{URL: "https://a.example/en.vtt", Label: "English", Language: "en"}},
			},
		},
		{
			name: "garbage",
			raw:  "not a url",
			want: media.StreamResult{Streams: []media.Stream{}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, DecodeStream(tt.raw)); diff != "" {
				t.Errorf("DecodeStream mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
