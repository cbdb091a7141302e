package player

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type call struct {
	url             string
	position, total float64
}

type fakeRecorder struct {
	calls []call
}

func (f *fakeRecorder) UpdateProgress(url string, position, total float64) error {
	f.calls = append(f.calls, call{url, position, total})
	return nil
}

func TestMPVArgs(t *testing.T) {
	req := Request{
		URL:      "https://cdn.example/ep1.m3u8",
		Title:    "Show - Episode 1",
		StartPos: 93.6,
		Subtitle: "/tmp/ep1.vtt",
		Headers: map[string]string{
			"Referer":    "https://site.example/",
			"User-Agent": "Mozilla/5.0 (a, b)",
		},
	}

	got := mpvArgs(req, "/tmp/sock")
	require.Equal(t, []string{
		"https://cdn.example/ep1.m3u8",
		"--input-ipc-server=/tmp/sock",
		"--really-quiet",
		"--force-media-title=Show - Episode 1",
		"--start=+94",
		"--sub-file=/tmp/ep1.vtt",
		`--http-header-fields=Referer: https://site.example/,User-Agent: Mozilla/5.0 (a\, b)`,
	}, got)
}

func TestMPVArgsMinimal(t *testing.T) {
	got := mpvArgs(Request{URL: "https://cdn.example/movie.mp4"}, "/tmp/sock")
	require.Equal(t, []string{
		"https://cdn.example/movie.mp4",
		"--input-ipc-server=/tmp/sock",
		"--really-quiet",
	}, got)
}

const ipcLog = `{"event":"property-change","id":1,"name":"duration","data":100}
{"event":"property-change","id":2,"name":"time-pos","data":1}
not json
{"request_id":0,"error":"success"}
{"event":"property-change","id":2,"name":"time-pos","data":2}
{"event":"property-change","id":2,"name":"time-pos","data":null}
{"event":"property-change","id":2,"name":"time-pos","data":3}
`

func TestTrackRecordsEveryTick(t *testing.T) {
	rec := &fakeRecorder{}
	m := &MPV{recorder: rec}

	clock := time.Unix(0, 0)
	now := func() time.Time {
		clock = clock.Add(2 * time.Second)
		return clock
	}

	res := m.track(strings.NewReader(ipcLog), "https://site.example/ep1", now)
	require.Equal(t, Result{Position: 3, Duration: 100}, res)
	require.Equal(t, []call{
		{"https://site.example/ep1", 1, 100},
		{"https://site.example/ep1", 2, 100},
		{"https://site.example/ep1", 3, 100},
	}, rec.calls)
}

func TestTrackThrottlesAndFlushes(t *testing.T) {
	rec := &fakeRecorder{}
	m := &MPV{recorder: rec}

	fixed := time.Unix(1000, 0)
	res := m.track(strings.NewReader(ipcLog), "key", func() time.Time { return fixed })
	require.Equal(t, 3.0, res.Position)
	require.Equal(t, []call{
		{"key", 1, 100},
		{"key", 3, 100},
	}, rec.calls)
}

func TestTrackWithoutRecorder(t *testing.T) {
	m := &MPV{}
	res := m.track(strings.NewReader(ipcLog), "", time.Now)
	require.InDelta(t, 0.03, res.Fraction(), 1e-9)
}

func TestNew(t *testing.T) {
	p, err := New("mpv", nil, nil)
	require.NoError(t, err)
	require.Equal(t, "mpv", p.Name())

	_, err = New("vlc", nil, nil)
	require.Error(t, err)
}

func TestFraction(t *testing.T) {
	require.Equal(t, 0.0, Result{Position: 10}.Fraction())
	require.Equal(t, 0.5, Result{Position: 10, Duration: 20}.Fraction())
	require.Equal(t, 1.0, Result{Position: 30, Duration: 20}.Fraction())
}

func TestFormatDuration(t *testing.T) {
	tests := map[float64]string{
		0:    "0:00",
		59:   "0:59",
		61:   "1:01",
		3600: "1:00:00",
		3725: "1:02:05",
	}
	for in, want := range tests {
		require.Equal(t, want, FormatDuration(in))
	}
}
