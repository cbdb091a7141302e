// Package media defines shared types for the sora core.
package media

import "strings"

// StreamType is the transport a module declares for its streams.
type StreamType string

const (
	StreamHLS StreamType = "hls"
	StreamMP4 StreamType = "mp4"
)

// IsHLS reports whether the declared type names an adaptive manifest.
func (s StreamType) IsHLS() bool {
	switch strings.ToLower(string(s)) {
	case "hls", "m3u8":
		return true
	}
	return false
}

// Author identifies who published a module.
type Author struct {
	Name string `json:"name"`
	Icon string `json:"icon"`
}

// ModuleMetadata is the decoded module metadata document.
type ModuleMetadata struct {
	SourceName    string     `json:"sourceName"`
	Author        Author     `json:"author"`
	IconURL       string     `json:"iconUrl"`
	Version       string     `json:"version"`
	Language      string     `json:"language"`
	BaseURL       string     `json:"baseUrl"`
	SearchBaseURL string     `json:"searchBaseUrl"`
	ScriptURL     string     `json:"scriptUrl"`
	StreamType    StreamType `json:"streamType"`
	Quality       string     `json:"quality"`
	Extractor     string     `json:"extractor"`
	AsyncJS       bool       `json:"asyncJS"`
	Type          string     `json:"type"`
}

// Module is an installed source definition: metadata plus script text.
type Module struct {
	ID          string         `json:"id"`
	Metadata    ModuleMetadata `json:"metadata"`
	MetadataURL string         `json:"metadataUrl"`
	Script      string         `json:"-"`
}

// SearchItem is one search result produced by a module script.
type SearchItem struct {
	Title string `json:"title"`
	Image string `json:"image"`
	Href  string `json:"href"`
}

// MediaDetails is the detail-extraction output for one title.
type MediaDetails struct {
	Description string `json:"description"`
	Aliases     string `json:"aliases"`
	AirDate     string `json:"airdate"`
}

// EpisodeLink is one episode (or chapter) reference.
type EpisodeLink struct {
	Number int    `json:"number"`
	Title  string `json:"title,omitempty"`
	Href   string `json:"href"`
}

// Stream is one candidate stream returned by a module.
type Stream struct {
	Title   string            `json:"title,omitempty"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Subtitle represents a subtitle track.
type Subtitle struct {
	Language string `json:"language,omitempty"`
	Label    string `json:"label,omitempty"`
	URL      string `json:"url"`
}

// StreamResult is the stream-extraction output for one episode.
type StreamResult struct {
	Streams   []Stream   `json:"streams"`
	Subtitles []Subtitle `json:"subtitles,omitempty"`
}

// First returns the first stream, if any.
func (r StreamResult) First() (Stream, bool) {
	if len(r.Streams) == 0 {
		return Stream{}, false
	}
	return r.Streams[0], true
}

// Quality is a variant-selection preference token.
type Quality string

const (
	QualityAuto   Quality = "Auto"
	QualityBest   Quality = "Best"
	QualityHigh   Quality = "High"
	QualityMedium Quality = "Medium"
	QualityLow    Quality = "Low"
)

// ParseQuality maps a case-insensitive token to a Quality.
// Unrecognized tokens map to QualityAuto.
func ParseQuality(s string) Quality {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "best":
		return QualityBest
	case "high":
		return QualityHigh
	case "medium":
		return QualityMedium
	case "low":
		return QualityLow
	default:
		return QualityAuto
	}
}

// Valid reports whether q is one of the known tokens.
func (q Quality) Valid() bool {
	switch q {
	case QualityAuto, QualityBest, QualityHigh, QualityMedium, QualityLow:
		return true
	}
	return false
}
