package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"sora/internal/httputil"
	"sora/internal/logging"
	"sora/internal/manifest"
	"sora/internal/media"
	"sora/internal/subtitle"
)

// SessionOptions configures an HTTPSession.
type SessionOptions struct {
	Fs     afero.Fs
	Dir    string
	Client *http.Client
	Logger *zap.Logger
	// Remux converts finished HLS downloads to .mkv with ffmpeg. It only
	// applies to the OS filesystem.
	Remux bool
}

// HTTPSession downloads assets over HTTP into a directory on an afero
// filesystem. Direct files are streamed; HLS media playlists are fetched
// segment by segment into a single .ts file.
type HTTPSession struct {
	mu     sync.Mutex
	fs     afero.Fs
	dir    string
	client *http.Client
	logger *zap.Logger
	remux  bool
}

// NewHTTPSession creates the session, making sure the directory exists.
func NewHTTPSession(opts SessionOptions) (*HTTPSession, error) {
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if opts.Dir == "" {
		return nil, errors.New("download directory is required")
	}
	if err := fs.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating download directory: %w", err)
	}
	client := opts.Client
	if client == nil {
		client = httputil.NewClient()
		client.Timeout = 0
	}
	_, osFs := fs.(*afero.OsFs)
	return &HTTPSession{
		fs:     fs,
		dir:    opts.Dir,
		client: client,
		logger: logging.OrNop(opts.Logger),
		remux:  opts.Remux && osFs,
	}, nil
}

// NewTask reserves a destination file for a and returns a task for it.
func (s *HTTPSession) NewTask(a Asset) (Task, error) {
	if err := httputil.ValidateURL(a.URL); err != nil {
		return nil, err
	}

	s.mu.Lock()
	dest, err := s.reserve(assetFileName(a))
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &httpTask{
		session:   s,
		asset:     a,
		path:      dest,
		ctx:       ctx,
		cancel:    cancel,
		observers: make(map[int]func(Update)),
		logger:    s.logger.With(zap.String("file", dest)),
	}, nil
}

// reserve creates an empty file for name in the download directory,
// suffixing " (n)" when the name is taken. Callers hold s.mu.
func (s *HTTPSession) reserve(name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 1; n < 1000; n++ {
		candidate := name
		if n > 1 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, n, ext)
		}
		dest, err := httputil.SafeDownloadPath(s.dir, candidate)
		if err != nil {
			return "", fmt.Errorf("invalid output path: %w", err)
		}
		exists, err := afero.Exists(s.fs, dest)
		if err != nil {
			return "", fmt.Errorf("checking %s: %w", dest, err)
		}
		if exists {
			continue
		}
		f, err := s.fs.Create(dest)
		if err != nil {
			return "", fmt.Errorf("creating %s: %w", dest, err)
		}
		return dest, f.Close()
	}
	return "", fmt.Errorf("no free file name for %q", name)
}

// assetFileName derives the file name: "Show S01E02", the movie title, or
// the URL's base name.
func assetFileName(a Asset) string {
	ext := ".mp4"
	if a.Transport == TransportHLS {
		ext = ".ts"
	} else if u, err := url.Parse(a.URL); err == nil {
		switch e := strings.ToLower(path.Ext(u.Path)); e {
		case ".mp4", ".mkv", ".webm", ".mov", ".m4v", ".avi":
			ext = e
		}
	}

	var name string
	if md := a.Metadata; md != nil {
		switch {
		case md.ShowTitle != "" && md.Episode > 0:
			season := md.Season
			if season <= 0 {
				season = 1
			}
			name = fmt.Sprintf("%s S%02dE%02d", md.ShowTitle, season, md.Episode)
		default:
			name = md.Title
		}
	}
	if strings.TrimSpace(name) == "" {
		if u, err := url.Parse(a.URL); err == nil {
			base := path.Base(u.Path)
			name = strings.TrimSuffix(base, path.Ext(base))
		}
	}
	if name == "" || name == "/" || name == "." {
		name = "download"
	}
	return httputil.SanitizeFilename(strings.TrimSpace(name) + ext)
}

type httpTask struct {
	session *HTTPSession
	asset   Asset
	path    string
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	observers map[int]func(Update)
	nextObs   int
	started   bool
	paused    bool
	resumed   chan struct{}
}

type observation struct {
	task *httpTask
	id   int
	once sync.Once
}

func (o *observation) Release() {
	o.once.Do(func() {
		o.task.mu.Lock()
		delete(o.task.observers, o.id)
		o.task.mu.Unlock()
	})
}

func (t *httpTask) Observe(fn func(Update)) Observation {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextObs
	t.nextObs++
	t.observers[id] = fn
	return &observation{task: t, id: id}
}

func (t *httpTask) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return
	}
	t.started = true
	go t.run()
}

func (t *httpTask) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.paused {
		return nil
	}
	t.paused = true
	t.resumed = make(chan struct{})
	return nil
}

func (t *httpTask) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.paused {
		return nil
	}
	t.paused = false
	close(t.resumed)
	return nil
}

func (t *httpTask) Cancel() error {
	t.cancel()
	return nil
}

// wait blocks while the task is paused.
func (t *httpTask) wait() error {
	for {
		t.mu.Lock()
		if !t.paused {
			t.mu.Unlock()
			return t.ctx.Err()
		}
		ch := t.resumed
		t.mu.Unlock()

		select {
		case <-ch:
		case <-t.ctx.Done():
			return t.ctx.Err()
		}
	}
}

func (t *httpTask) emit(u Update) {
	t.mu.Lock()
	fns := make([]func(Update), 0, len(t.observers))
	for _, fn := range t.observers {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(u)
	}
}

func (t *httpTask) run() {
	defer t.cancel()

	var err error
	if t.asset.Transport == TransportHLS {
		err = t.downloadHLS()
	} else {
		err = t.downloadFile()
	}

	if err == nil {
		err = t.finishAsset()
	}
	if err != nil {
		if t.ctx.Err() != nil {
			err = t.ctx.Err()
		}
		if rmErr := t.session.fs.Remove(t.path); rmErr != nil && !os.IsNotExist(rmErr) {
			t.logger.Debug("removing partial download", zap.Error(rmErr))
		}
		t.emit(Update{Err: err})
		return
	}
	t.emit(Update{Fraction: 1, Done: true, Path: t.path})
}

// finishAsset fetches the subtitle sidecar and remuxes HLS output.
func (t *httpTask) finishAsset() error {
	var subPath string
	if t.asset.SubtitleURL != "" {
		p, err := subtitle.SaveSidecar(t.ctx, t.session.fs, t.session.client,
			media.Subtitle{URL: t.asset.SubtitleURL}, t.asset.Headers, t.path)
		if err != nil {
			t.logger.Warn("subtitle sidecar failed", zap.Error(err))
		} else {
			subPath = p
		}
	}

	if t.asset.Transport != TransportHLS || !t.session.remux {
		return nil
	}
	title := ""
	if t.asset.Metadata != nil {
		title = t.asset.Metadata.Title
	}
	out, err := remux(t.ctx, t.path, subPath, title)
	if err != nil {
		t.logger.Warn("remux failed, keeping transport stream", zap.Error(err))
		return nil
	}
	t.path = out
	return nil
}

// get issues a GET with the asset's header overlay.
func (t *httpTask) get(rawURL string) (*http.Response, error) {
	resp, err := httputil.Get(t.ctx, t.session.client, rawURL, t.asset.Headers)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &httputil.StatusError{Code: resp.StatusCode, URL: rawURL}
	}
	return resp, nil
}

func (t *httpTask) openOutput() (afero.File, error) {
	f, err := t.session.fs.OpenFile(t.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", t.path, err)
	}
	return f, nil
}

func (t *httpTask) downloadFile() error {
	resp, err := t.get(t.asset.URL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	f, err := t.openOutput()
	if err != nil {
		return err
	}
	defer f.Close()

	total := resp.ContentLength
	var written int64
	lastPct := -1
	buf := make([]byte, 32*1024)
	for {
		if err := t.wait(); err != nil {
			return err
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return fmt.Errorf("writing %s: %w", t.path, err)
			}
			written += int64(n)
			if total > 0 {
				if pct := int(written * 100 / total); pct != lastPct {
					lastPct = pct
					t.emit(Update{Fraction: float64(written) / float64(total)})
				}
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("reading body: %w", rerr)
		}
	}
}

func (t *httpTask) downloadHLS() error {
	playlistURL := t.asset.URL
	body, err := t.fetchPlaylist(playlistURL)
	if err != nil {
		return err
	}

	if strings.Contains(body, "#EXT-X-STREAM-INF") {
		next := ""
		if variants := manifest.Parse(body, playlistURL); len(variants) > 0 {
			next = variants[0].URL
		} else {
			// Variants without RESOLUTION: take the first listed stream.
			next = firstStreamURI(body, playlistURL)
		}
		if next == "" {
			return fmt.Errorf("master playlist %s lists no variants", playlistURL)
		}
		playlistURL = next
		if body, err = t.fetchPlaylist(playlistURL); err != nil {
			return err
		}
	}

	segments, err := parseMediaPlaylist(body, playlistURL)
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return fmt.Errorf("playlist %s has no segments", playlistURL)
	}

	f, err := t.openOutput()
	if err != nil {
		return err
	}
	defer f.Close()

	for i, seg := range segments {
		if err := t.wait(); err != nil {
			return err
		}
		if err := t.copySegment(f, seg); err != nil {
			return fmt.Errorf("segment %d/%d: %w", i+1, len(segments), err)
		}
		t.emit(Update{Fraction: float64(i+1) / float64(len(segments))})
	}
	return nil
}

func (t *httpTask) fetchPlaylist(rawURL string) (string, error) {
	resp, err := t.get(rawURL)
	if err != nil {
		return "", fmt.Errorf("fetching playlist: %w", err)
	}
	defer resp.Body.Close()
	body, err := httputil.ReadLimited(resp.Body, httputil.MaxBodySize)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (t *httpTask) copySegment(w io.Writer, rawURL string) error {
	resp, err := t.get(rawURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("copying segment: %w", err)
	}
	return nil
}
