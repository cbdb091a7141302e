// Package player launches an external media player for a resolved stream.
// Players are started with exec.Command and an explicit argument slice so
// stream URLs and headers never pass through a shell.
package player

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"sora/internal/logging"
)

// TimeRecorder receives the player's position and duration for a URL.
// The continue-watching ledger implements it.
type TimeRecorder interface {
	UpdateProgress(url string, position, total float64) error
}

// Request describes one playback.
type Request struct {
	// URL is the stream to play.
	URL     string
	Headers map[string]string
	Title   string
	// StartPos is the resume position in seconds.
	StartPos float64
	// Subtitle is a subtitle file path or URL.
	Subtitle string
	// ProgressKey is the URL progress is recorded under, normally the
	// episode page URL rather than the stream URL.
	ProgressKey string
}

// Result is the final playback state.
type Result struct {
	Position float64
	Duration float64
}

// Fraction is Position over Duration, or zero when the duration is unknown.
func (r Result) Fraction() float64 {
	if r.Duration <= 0 {
		return 0
	}
	f := r.Position / r.Duration
	if f > 1 {
		return 1
	}
	return f
}

// Player is the interface for media player implementations.
type Player interface {
	// Play blocks until playback ends.
	Play(ctx context.Context, req Request) (Result, error)

	// Name returns the player name.
	Name() string

	// Available checks if the player binary exists in PATH.
	Available() bool
}

// New creates a player by name. recorder may be nil.
func New(name string, recorder TimeRecorder, logger *zap.Logger) (Player, error) {
	switch name {
	case "", "mpv":
		return &MPV{recorder: recorder, logger: logging.OrNop(logger)}, nil
	default:
		return nil, fmt.Errorf("unsupported player %q", name)
	}
}

// FormatDuration formats seconds as H:MM:SS or M:SS.
func FormatDuration(seconds float64) string {
	s := int(seconds)
	h := s / 3600
	m := (s % 3600) / 60
	sec := s % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}
