// Package download orchestrates asset downloads: it picks a transport per
// URL, resolves HLS variants against the download quality, creates session
// tasks and tracks their progress in a registry keyed by generated ids.
package download

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"sora/internal/events"
	"sora/internal/logging"
	"sora/internal/manifest"
	"sora/internal/media"
)

var (
	ErrInvalidScheme      = errors.New("download URL must use http or https")
	ErrSessionUnavailable = errors.New("download session unavailable")
	ErrTaskCreation       = errors.New("creating download task failed")
	ErrNotFound           = errors.New("download not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
)

// Request describes one download.
type Request struct {
	URL           string
	Headers       map[string]string
	Title         string
	PosterURL     string
	IsEpisode     bool
	ShowTitle     string
	Season        int
	Episode       int
	SubtitleURL   string
	ShowPosterURL string
}

// AssetMetadata is attached to the platform asset when a title is known.
type AssetMetadata struct {
	Title         string
	PosterURL     string
	ShowTitle     string
	Season        int
	Episode       int
	ShowPosterURL string
}

// Asset is what a Session turns into a Task. Headers are an overlay the
// session applies to every underlying fetch of the asset.
type Asset struct {
	URL         string
	Transport   Transport
	Headers     map[string]string
	Metadata    *AssetMetadata
	SubtitleURL string
}

// Update is one progress report from a Task. Done and Err are terminal.
type Update struct {
	Fraction float64
	Done     bool
	Err      error
	Path     string
}

// Observation is a progress subscription on a Task.
type Observation interface {
	Release()
}

// Task is one platform download. Observers are invoked from the task's own
// goroutine, never from inside a Task method.
type Task interface {
	Observe(func(Update)) Observation
	Start()
	Pause() error
	Resume() error
	Cancel() error
}

// Session creates Tasks.
type Session interface {
	NewTask(Asset) (Task, error)
}

// ManifestResolver selects HLS variants.
type ManifestResolver interface {
	Resolve(ctx context.Context, manifestURL string, headers map[string]string, q media.Quality) (manifest.Resolution, error)
}

// ActiveDownload is one registry record.
type ActiveDownload struct {
	ID          string
	OriginalURL string
	URL         string
	Progress    float64
	Status      Status
	ContentType ContentType
	Transport   Transport
	Variant     string
	Metadata    *AssetMetadata
	Headers     map[string]string
	Path        string
	Err         string
	StartedAt   time.Time

	task Task
}

// Options configures a Manager.
type Options struct {
	Session  Session
	Resolver ManifestResolver
	Bus      events.Publisher
	Logger   *zap.Logger
	// Quality is the download preference, separate from playback quality.
	Quality media.Quality
}

// Manager owns the registry of downloads.
type Manager struct {
	mu           sync.Mutex
	downloads    map[string]*ActiveDownload
	observations map[string]Observation

	session  Session
	resolver ManifestResolver
	bus      events.Publisher
	logger   *zap.Logger
	quality  media.Quality
}

// New creates a Manager. A nil Resolver disables variant selection and HLS
// URLs are downloaded as given.
func New(opts Options) *Manager {
	bus := opts.Bus
	if bus == nil {
		bus = events.Nop{}
	}
	q := opts.Quality
	if !q.Valid() {
		q = media.QualityBest
	}
	return &Manager{
		downloads:    make(map[string]*ActiveDownload),
		observations: make(map[string]Observation),
		session:      opts.Session,
		resolver:     opts.Resolver,
		bus:          bus,
		logger:       logging.OrNop(opts.Logger),
		quality:      q,
	}
}

// classify picks the transport for rawURL.
func classify(rawURL string, declared media.StreamType) Transport {
	lower := strings.ToLower(rawURL)
	switch {
	case declared.IsHLS(), strings.Contains(lower, ".m3u8"):
		return TransportHLS
	case strings.Contains(lower, "mp4"):
		return TransportFile
	default:
		return TransportGeneric
	}
}

func validScheme(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// Start initiates a download and returns its id. Success means the task was
// created and started, not that the download finished.
func (m *Manager) Start(ctx context.Context, req Request, module media.Module) (string, error) {
	if m.session == nil {
		return "", ErrSessionUnavailable
	}

	target := req.URL
	transport := classify(req.URL, module.Metadata.StreamType)
	variant := ""
	logger := m.logger.With(zap.String("url", req.URL), zap.String("transport", string(transport)))

	if transport == TransportHLS && m.resolver != nil && validScheme(req.URL) {
		res, err := m.resolver.Resolve(ctx, req.URL, req.Headers, m.quality)
		switch {
		case err != nil:
			logger.Warn("manifest resolution failed, downloading manifest as given", zap.Error(err))
		case res.Fallback:
			logger.Debug("manifest has no usable variants, downloading manifest as given")
		default:
			target = res.URL
			variant = res.Label
		}
	}

	if !validScheme(target) {
		return "", fmt.Errorf("%w: %q", ErrInvalidScheme, target)
	}

	asset := Asset{
		URL:         target,
		Transport:   transport,
		Headers:     copyHeaders(req.Headers),
		SubtitleURL: req.SubtitleURL,
	}
	if req.Title != "" {
		asset.Metadata = &AssetMetadata{
			Title:         req.Title,
			PosterURL:     req.PosterURL,
			ShowTitle:     req.ShowTitle,
			Season:        req.Season,
			Episode:       req.Episode,
			ShowPosterURL: req.ShowPosterURL,
		}
	}

	task, err := m.session.NewTask(asset)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTaskCreation, err)
	}

	contentType := ContentMovie
	if req.IsEpisode {
		contentType = ContentEpisode
	}
	d := &ActiveDownload{
		ID:          uuid.NewString(),
		OriginalURL: req.URL,
		URL:         target,
		Status:      StatusRequested,
		ContentType: contentType,
		Transport:   transport,
		Variant:     variant,
		Metadata:    asset.Metadata,
		Headers:     asset.Headers,
		StartedAt:   time.Now(),
		task:        task,
	}
	id := d.ID

	m.mu.Lock()
	m.downloads[id] = d
	m.observations[id] = task.Observe(func(u Update) { m.handle(id, u) })
	d.Status = StatusDownloading
	m.mu.Unlock()

	task.Start()
	logger.Info("download started", zap.String("id", id), zap.String("variant", variant))
	m.bus.Publish(events.Event{Topic: events.DownloadListChanged})
	return id, nil
}

// handle applies a task update to the record with id.
func (m *Manager) handle(id string, u Update) {
	var out []events.Event

	m.mu.Lock()
	d, ok := m.downloads[id]
	if !ok || d.Status.IsTerminal() {
		m.mu.Unlock()
		return
	}
	switch {
	case u.Err != nil && errors.Is(u.Err, context.Canceled):
		out = m.finish(d, StatusCancelled, "")
	case u.Err != nil:
		out = m.finish(d, StatusFailed, u.Err.Error())
	case u.Done:
		d.Progress = 1
		d.Path = u.Path
		out = m.finish(d, StatusCompleted, "")
	default:
		d.Progress = clamp(u.Fraction)
		out = append(out, events.Event{
			Topic:   events.DownloadProgressChanged,
			Payload: events.DownloadProgress{ID: id, Progress: d.Progress},
		})
	}
	m.mu.Unlock()

	m.publish(out)
}

// finish moves d to a terminal status, releases its observation and drops
// it from the active set. Callers hold m.mu.
func (m *Manager) finish(d *ActiveDownload, status Status, msg string) []events.Event {
	d.Status = status
	d.Err = msg
	if obs, ok := m.observations[d.ID]; ok {
		delete(m.observations, d.ID)
		obs.Release()
	}
	delete(m.downloads, d.ID)

	title := d.URL
	if d.Metadata != nil {
		title = d.Metadata.Title
	}
	message := fmt.Sprintf("%s: %s", title, status)
	if msg != "" {
		message += ": " + msg
	}
	m.logger.Info("download finished", zap.String("id", d.ID), zap.Stringer("status", status), zap.String("error", msg))

	return []events.Event{
		{Topic: events.DownloadListChanged},
		{Topic: events.DownloadStatusChanged, Payload: events.DownloadStatus{ID: d.ID, Status: status.String(), Message: message, Path: d.Path}},
	}
}

func (m *Manager) publish(evs []events.Event) {
	for _, e := range evs {
		m.bus.Publish(e)
	}
}

// Pause pauses a running download.
func (m *Manager) Pause(id string) error {
	return m.transition(id, StatusPaused, Task.Pause)
}

// Resume resumes a paused download.
func (m *Manager) Resume(id string) error {
	return m.transition(id, StatusDownloading, Task.Resume)
}

func (m *Manager) transition(id string, next Status, op func(Task) error) error {
	m.mu.Lock()
	d, ok := m.downloads[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !d.Status.CanTransition(next) {
		cur := d.Status
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, next)
	}
	if err := op(d.task); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("%s download %s: %w", next, id, err)
	}
	d.Status = next
	m.mu.Unlock()

	m.bus.Publish(events.Event{Topic: events.DownloadStatusChanged, Payload: events.DownloadStatus{ID: id, Status: next.String()}})
	return nil
}

// Cancel cancels a download. The record leaves the active set at once.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	d, ok := m.downloads[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	task := d.task
	out := m.finish(d, StatusCancelled, "")
	m.mu.Unlock()

	err := task.Cancel()
	m.publish(out)
	if err != nil {
		return fmt.Errorf("cancelling download %s: %w", id, err)
	}
	return nil
}

// Remove drops a download, cancelling it if it is still running.
func (m *Manager) Remove(id string) error {
	return m.Cancel(id)
}

// Get returns a snapshot of the active download with id.
func (m *Manager) Get(id string) (ActiveDownload, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.downloads[id]
	if !ok {
		return ActiveDownload{}, false
	}
	return d.snapshot(), true
}

// Active returns snapshots of all active downloads, oldest first.
func (m *Manager) Active() []ActiveDownload {
	m.mu.Lock()
	out := make([]ActiveDownload, 0, len(m.downloads))
	for _, d := range m.downloads {
		out = append(out, d.snapshot())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Close cancels every active download.
func (m *Manager) Close() error {
	var err error
	for _, d := range m.Active() {
		if cerr := m.Cancel(d.ID); cerr != nil && !errors.Is(cerr, ErrNotFound) {
			err = multierr.Append(err, cerr)
		}
	}
	return err
}

func (d *ActiveDownload) snapshot() ActiveDownload {
	cp := *d
	cp.Headers = copyHeaders(d.Headers)
	if d.Metadata != nil {
		md := *d.Metadata
		cp.Metadata = &md
	}
	cp.task = nil
	return cp
}

func copyHeaders(h map[string]string) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
