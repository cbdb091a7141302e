package manifest

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"sora/internal/httputil"
	"sora/internal/logging"
	"sora/internal/media"
)

// ErrNoFallback is returned when neither a variant nor the manifest URL
// itself can be played.
var ErrNoFallback = errors.New("no playable stream in manifest")

// Resolution is the outcome of resolving a manifest.
type Resolution struct {
	URL      string
	Label    string
	Variants []Variant
	// Fallback is set when URL is the manifest itself because it could not
	// be fetched or listed no usable variants.
	Fallback bool
}

// Resolver fetches manifests and selects variants. It holds no mutable
// state and is safe for concurrent use.
type Resolver struct {
	client *http.Client
	logger *zap.Logger
}

// NewResolver creates a Resolver. A nil client gets the hardened default.
func NewResolver(client *http.Client, logger *zap.Logger) *Resolver {
	if client == nil {
		client = httputil.NewClient()
	}
	return &Resolver{client: client, logger: logging.OrNop(logger)}
}

// Resolve fetches manifestURL with headers and returns the stream URL to
// use for quality q.
func (r *Resolver) Resolve(ctx context.Context, manifestURL string, headers map[string]string, q media.Quality) (Resolution, error) {
	if !usableURL(manifestURL) {
		return Resolution{}, fmt.Errorf("manifest URL %q: %w", manifestURL, ErrNoFallback)
	}
	logger := r.logger.With(zap.String("manifest", manifestURL), zap.String("quality", string(q)))

	body, err := httputil.GetBody(ctx, r.client, manifestURL, headers)
	if err != nil {
		var statusErr *httputil.StatusError
		if errors.As(err, &statusErr) && statusErr.IsPermission() {
			logger.Debug("manifest fetch rejected, using manifest directly", zap.Int("status", statusErr.Code))
			return Resolution{URL: manifestURL, Label: AutoLabel, Fallback: true}, nil
		}
		return Resolution{}, fmt.Errorf("fetching manifest: %w", err)
	}

	variants := Parse(string(body), manifestURL)
	if len(variants) == 0 {
		logger.Debug("manifest lists no variants, using manifest directly")
		return Resolution{URL: manifestURL, Label: AutoLabel, Fallback: true}, nil
	}

	list := WithAuto(variants, manifestURL)
	chosen, _ := Select(list, q)
	res := Resolution{URL: chosen.URL, Label: chosen.Label, Variants: variants}

	if !usableURL(res.URL) {
		logger.Debug("selected variant URL unusable, trying first variant", zap.String("label", chosen.Label))
		first := variants[0]
		res.URL, res.Label = first.URL, first.Label
		if !usableURL(res.URL) {
			res.URL, res.Label, res.Fallback = manifestURL, AutoLabel, true
		}
	}

	logger.Debug("manifest resolved", zap.String("label", res.Label), zap.String("url", res.URL))
	return res, nil
}
