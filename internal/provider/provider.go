// Package provider defines the interface for media content providers
// and the module-script implementation behind it.
package provider

import (
	"context"

	"sora/internal/media"
)

// Provider is the interface that content providers must implement.
type Provider interface {
	// Search returns matching results for a keyword.
	Search(ctx context.Context, keyword string) ([]media.SearchItem, error)

	// Details returns detail entries for a title page.
	Details(ctx context.Context, url string) ([]media.MediaDetails, error)

	// Episodes returns the episode (or chapter) list for a title page.
	Episodes(ctx context.Context, url string) ([]media.EpisodeLink, error)

	// Stream resolves the playable streams for an episode page.
	Stream(ctx context.Context, url string) (media.StreamResult, error)
}
