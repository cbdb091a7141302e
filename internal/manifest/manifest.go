// Package manifest parses HLS master playlists and picks a variant for a
// quality preference.
package manifest

import (
	"bufio"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"sora/internal/httputil"
	"sora/internal/media"
)

// AutoLabel names the synthetic entry that points at the manifest itself.
const AutoLabel = "Auto"

const streamInfTag = "#EXT-X-STREAM-INF"

// Variant is one quality option of a manifest.
type Variant struct {
	Label  string `json:"label"`
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// IsAuto reports whether v is the synthetic manifest entry.
func (v Variant) IsAuto() bool {
	return v.Label == AutoLabel
}

// Label returns the display name for a variant height.
func Label(height int) string {
	switch {
	case height >= 1080:
		return fmt.Sprintf("%dp (FHD)", height)
	case height >= 720:
		return fmt.Sprintf("%dp (HD)", height)
	case height >= 480:
		return fmt.Sprintf("%dp (SD)", height)
	default:
		return fmt.Sprintf("%dp", height)
	}
}

// Parse extracts the variants of a master playlist. Relative URIs are
// resolved against base. Entries without a RESOLUTION attribute are
// skipped. Variants are deduplicated by label (first occurrence wins) and
// returned sorted by height, highest first.
func Parse(body, base string) []Variant {
	var variants []Variant
	seen := make(map[string]bool)

	var pending *Variant
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 64*1024), httputil.MaxBodySize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, streamInfTag) {
			pending = nil
			w, h, ok := resolution(line)
			if ok {
				pending = &Variant{Width: w, Height: h, Label: Label(h)}
			}
			continue
		}
		if strings.HasPrefix(line, "#") || pending == nil {
			continue
		}

		v := *pending
		pending = nil
		v.URL = line
		if resolved, err := httputil.Resolve(base, line); err == nil {
			v.URL = resolved
		}
		if seen[v.Label] {
			continue
		}
		seen[v.Label] = true
		variants = append(variants, v)
	}

	sort.SliceStable(variants, func(i, j int) bool {
		return variants[i].Height > variants[j].Height
	})
	return variants
}

// resolution reads the RESOLUTION=WxH attribute of a stream-inf line.
func resolution(line string) (width, height int, ok bool) {
	attrs := line
	if idx := strings.Index(line, ":"); idx != -1 {
		attrs = line[idx+1:]
	}
	for _, attr := range splitAttributes(attrs) {
		key, value, found := strings.Cut(attr, "=")
		if !found || !strings.EqualFold(strings.TrimSpace(key), "RESOLUTION") {
			continue
		}
		ws, hs, found := strings.Cut(strings.Trim(strings.TrimSpace(value), `"`), "x")
		if !found {
			return 0, 0, false
		}
		w, errW := strconv.Atoi(ws)
		h, errH := strconv.Atoi(hs)
		if errW != nil || errH != nil || h <= 0 {
			return 0, 0, false
		}
		return w, h, true
	}
	return 0, 0, false
}

// splitAttributes splits an attribute list on commas outside quotes.
func splitAttributes(s string) []string {
	var out []string
	var b strings.Builder
	quoted := false
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
			b.WriteRune(r)
		case r == ',' && !quoted:
			out = append(out, b.String())
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}

// WithAuto returns variants prefixed with the synthetic Auto entry.
func WithAuto(variants []Variant, manifestURL string) []Variant {
	out := make([]Variant, 0, len(variants)+1)
	out = append(out, Variant{Label: AutoLabel, URL: manifestURL})
	return append(out, variants...)
}

// Select picks a variant for q. Variants must be sorted by height, highest
// first (as Parse returns them); an Auto entry may be present anywhere.
//
// High skips the top variant when at least two are 720p or
// better, and Medium falls back to the middle entry when nothing sits in
// the 480..719 band.
func Select(variants []Variant, q media.Quality) (Variant, bool) {
	var real []Variant
	var auto *Variant
	for i := range variants {
		if variants[i].IsAuto() {
			if auto == nil {
				auto = &variants[i]
			}
			continue
		}
		real = append(real, variants[i])
	}

	switch q {
	case media.QualityBest:
		if len(real) > 0 {
			return real[0], true
		}
	case media.QualityHigh:
		var hd []Variant
		for _, v := range real {
			if v.Height >= 720 {
				hd = append(hd, v)
			}
		}
		switch {
		case len(hd) >= 2:
			return hd[1], true
		case len(hd) == 1:
			return hd[0], true
		case len(real) > 0:
			return real[0], true
		}
	case media.QualityMedium:
		for _, v := range real {
			if v.Height >= 480 && v.Height < 720 {
				return v, true
			}
		}
		if len(real) > 0 {
			return real[len(real)/2], true
		}
	case media.QualityLow:
		if len(real) > 0 {
			return real[len(real)-1], true
		}
	default:
		if auto != nil {
			return *auto, true
		}
		if len(variants) > 0 {
			return variants[0], true
		}
	}

	if len(variants) > 0 {
		return variants[0], true
	}
	return Variant{}, false
}

func usableURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}
