package download

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"sora/internal/httputil"
)

// ErrEncrypted is returned for media playlists with encrypted segments.
var ErrEncrypted = errors.New("encrypted HLS segments are not supported")

// parseMediaPlaylist returns the absolute segment URLs of an HLS media
// playlist, the EXT-X-MAP initialization segment first when present.
func parseMediaPlaylist(body, base string) ([]string, error) {
	var segments []string
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "#EXT-X-KEY:"):
			method := tagAttribute(line, "METHOD")
			if method != "" && !strings.EqualFold(method, "NONE") {
				return nil, fmt.Errorf("%w: METHOD=%s", ErrEncrypted, method)
			}
		case strings.HasPrefix(line, "#EXT-X-MAP:"):
			uri := tagAttribute(line, "URI")
			if uri == "" {
				continue
			}
			abs, err := httputil.Resolve(base, uri)
			if err != nil {
				return nil, fmt.Errorf("resolving init segment: %w", err)
			}
			segments = append(segments, abs)
		case strings.HasPrefix(line, "#"):
			continue
		default:
			abs, err := httputil.Resolve(base, line)
			if err != nil {
				return nil, fmt.Errorf("resolving segment %q: %w", line, err)
			}
			segments = append(segments, abs)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading playlist: %w", err)
	}
	return segments, nil
}

// firstStreamURI returns the absolute URI following the first
// EXT-X-STREAM-INF tag of a master playlist, whatever its attributes.
func firstStreamURI(body, base string) string {
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	inf := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF"):
			inf = true
		case strings.HasPrefix(line, "#"):
			continue
		case inf:
			abs, err := httputil.Resolve(base, line)
			if err != nil {
				return ""
			}
			return abs
		}
	}
	return ""
}

// tagAttribute returns the value of key in a tag's attribute list,
// unquoted.
func tagAttribute(line, key string) string {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return ""
	}
	rest := line[idx+1:]
	for rest != "" {
		eq := strings.IndexByte(rest, '=')
		if eq < 0 {
			return ""
		}
		name := strings.TrimSpace(rest[:eq])
		rest = rest[eq+1:]

		var value string
		if strings.HasPrefix(rest, `"`) {
			end := strings.IndexByte(rest[1:], '"')
			if end < 0 {
				return ""
			}
			value = rest[1 : end+1]
			rest = rest[end+2:]
		} else {
			end := strings.IndexByte(rest, ',')
			if end < 0 {
				end = len(rest)
			}
			value = rest[:end]
			rest = rest[end:]
		}
		rest = strings.TrimPrefix(rest, ",")

		if strings.EqualFold(name, key) {
			return value
		}
	}
	return ""
}
