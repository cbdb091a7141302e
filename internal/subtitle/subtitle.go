// Package subtitle picks subtitle tracks for playback and fetches sidecar
// files next to downloaded assets.
package subtitle

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"sora/internal/httputil"
	"sora/internal/media"
)

// Filter returns subtitles matching the preferred language (case-insensitive).
func Filter(subtitles []media.Subtitle, language string) []media.Subtitle {
	if language == "" {
		return subtitles
	}

	lang := strings.ToLower(language)
	var matched []media.Subtitle

	for _, sub := range subtitles {
		if strings.Contains(strings.ToLower(sub.Language), lang) ||
			strings.Contains(strings.ToLower(sub.Label), lang) {
			matched = append(matched, sub)
		}
	}

	return matched
}

// BestMatch returns the best subtitle for language: a non-SDH match, then
// any match. Tracks that carry no language information at all are
// unlabelled script output, so the first one is used.
func BestMatch(subtitles []media.Subtitle, language string) *media.Subtitle {
	if len(subtitles) == 0 {
		return nil
	}

	unlabelled := true
	for _, sub := range subtitles {
		if sub.Language != "" || sub.Label != "" {
			unlabelled = false
			break
		}
	}
	if unlabelled {
		return &subtitles[0]
	}

	filtered := Filter(subtitles, language)
	if len(filtered) == 0 {
		return nil
	}

	lang := strings.ToLower(language)
	for _, sub := range filtered {
		label := strings.ToLower(sub.Label)
		if strings.Contains(label, lang) && !strings.Contains(label, "sdh") {
			return &sub
		}
	}
	return &filtered[0]
}

// Extension returns the track's file extension, defaulting to .vtt.
func Extension(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ".vtt"
	}
	switch ext := strings.ToLower(path.Ext(u.Path)); ext {
	case ".vtt", ".srt", ".ass", ".ssa":
		return ext
	}
	return ".vtt"
}

// Fetch downloads a subtitle track. Bodies over httputil.MaxBodySize are
// rejected.
func Fetch(ctx context.Context, client *http.Client, sub media.Subtitle, headers map[string]string) ([]byte, error) {
	if err := httputil.ValidateURL(sub.URL); err != nil {
		return nil, fmt.Errorf("invalid subtitle URL: %w", err)
	}
	data, err := httputil.GetBody(ctx, client, sub.URL, headers)
	if err != nil {
		return nil, fmt.Errorf("downloading subtitle: %w", err)
	}
	return data, nil
}

// SaveSidecar fetches sub and writes it next to assetPath, sharing its
// base name. It returns the written path.
func SaveSidecar(ctx context.Context, fs afero.Fs, client *http.Client, sub media.Subtitle, headers map[string]string, assetPath string) (string, error) {
	data, err := Fetch(ctx, client, sub, headers)
	if err != nil {
		return "", err
	}

	base := strings.TrimSuffix(assetPath, filepath.Ext(assetPath))
	target := base + Extension(sub.URL)
	if err := afero.WriteFile(fs, target, data, 0o644); err != nil {
		return "", fmt.Errorf("writing subtitle file: %w", err)
	}
	return target, nil
}
