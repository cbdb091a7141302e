package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"sora/internal/httputil"
	"sora/internal/logging"
	"sora/internal/media"
	"sora/internal/sandbox"
)

// Script entry points.
const (
	fnSearch   = "searchResults"
	fnDetails  = "extractDetails"
	fnEpisodes = "extractEpisodes"
	fnStream   = "extractStreamUrl"
)

var _ Provider = (*Script)(nil)

// Script is a Provider backed by a module's extraction script.
//
// Async modules receive the keyword or URL and do their own fetching
// through the bridge. Sync modules receive the page HTML, fetched here.
type Script struct {
	sandbox *sandbox.Sandbox
	module  media.Module
	client  *http.Client
	logger  *zap.Logger
}

// NewScript creates a provider for module over sb.
func NewScript(sb *sandbox.Sandbox, module media.Module, client *http.Client, logger *zap.Logger) *Script {
	if client == nil {
		client = httputil.NewClient()
	}
	return &Script{
		sandbox: sb,
		module:  module,
		client:  client,
		logger:  logging.OrNop(logger).With(zap.String("module", module.Metadata.SourceName)),
	}
}

// Module returns the module this provider runs.
func (p *Script) Module() media.Module {
	return p.module
}

// Search returns matching results for a keyword. Extraction failures
// degrade to an empty list.
func (p *Script) Search(ctx context.Context, keyword string) ([]media.SearchItem, error) {
	arg := keyword
	if !p.module.Metadata.AsyncJS {
		html, err := p.fetchPage(ctx, httputil.FillTemplate(p.module.Metadata.SearchBaseURL, keyword))
		if err != nil {
			return nil, fmt.Errorf("searching for %q: %w", keyword, err)
		}
		arg = html
	}

	out, err := p.call(ctx, fnSearch, arg)
	if err != nil {
		return nil, err
	}
	items := sandbox.DecodeSearch(out)
	for i := range items {
		items[i].Href = p.absolute(items[i].Href)
	}
	return items, nil
}

// Details returns the detail entries for a title page.
func (p *Script) Details(ctx context.Context, url string) ([]media.MediaDetails, error) {
	out, err := p.callWithPage(ctx, fnDetails, url)
	if err != nil {
		return nil, err
	}
	return sandbox.DecodeDetails(out), nil
}

// Episodes returns the episode list for a title page.
func (p *Script) Episodes(ctx context.Context, url string) ([]media.EpisodeLink, error) {
	out, err := p.callWithPage(ctx, fnEpisodes, url)
	if err != nil {
		return nil, err
	}
	episodes := sandbox.DecodeEpisodes(out)
	for i := range episodes {
		episodes[i].Href = p.absolute(episodes[i].Href)
	}
	return episodes, nil
}

// Stream resolves the playable streams for an episode page.
func (p *Script) Stream(ctx context.Context, url string) (media.StreamResult, error) {
	out, err := p.callWithPage(ctx, fnStream, url)
	if err != nil {
		return media.StreamResult{}, err
	}
	return sandbox.DecodeStream(out), nil
}

func (p *Script) callWithPage(ctx context.Context, fn, url string) (string, error) {
	arg := url
	if !p.module.Metadata.AsyncJS {
		html, err := p.fetchPage(ctx, url)
		if err != nil {
			return "", fmt.Errorf("fetching %s: %w", url, err)
		}
		arg = html
	}
	return p.call(ctx, fn, arg)
}

// call runs fn against this module's script, loading it first if another
// module holds the context. Results from a context that was replaced while
// the call ran are discarded.
func (p *Script) call(ctx context.Context, fn, arg string) (string, error) {
	if err := p.ensureLoaded(); err != nil {
		p.logger.Warn("script failed to load", zap.Error(err))
		return "", nil
	}
	// Modules may leave out entry points they have no data for.
	if !p.sandbox.HasFunction(ctx, fn) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !p.sandbox.Holds(p.module.ID, p.module.Script) {
			return "", sandbox.ErrContextReplaced
		}
		p.logger.Debug("module does not define function", zap.String("function", fn))
		return "", nil
	}

	var out string
	var err error
	if p.module.Metadata.AsyncJS {
		out, err = p.sandbox.CallAsync(ctx, fn, arg)
	} else {
		out, err = p.sandbox.CallSync(ctx, fn, arg)
	}

	switch {
	case errors.Is(err, sandbox.ErrContextReplaced), ctx.Err() != nil:
		if err == nil {
			err = ctx.Err()
		}
		return "", err
	case err != nil:
		p.logger.Warn("extraction failed", zap.String("function", fn), zap.Error(err))
		return "", nil
	}

	if !p.sandbox.Holds(p.module.ID, p.module.Script) {
		return "", sandbox.ErrContextReplaced
	}
	return out, nil
}

func (p *Script) ensureLoaded() error {
	if p.sandbox.Holds(p.module.ID, p.module.Script) {
		return nil
	}
	return p.sandbox.LoadScript(p.module.ID, p.module.Script)
}

func (p *Script) fetchPage(ctx context.Context, url string) (string, error) {
	var headers map[string]string
	if ref := p.module.Metadata.BaseURL; ref != "" {
		headers = map[string]string{"Referer": ref}
	}
	body, err := httputil.GetBody(ctx, p.client, url, headers)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// absolute resolves a script-relative href against the module's base URL.
func (p *Script) absolute(href string) string {
	if href == "" || p.module.Metadata.BaseURL == "" {
		return href
	}
	resolved, err := httputil.Resolve(p.module.Metadata.BaseURL, href)
	if err != nil {
		return href
	}
	return resolved
}
