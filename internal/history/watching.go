package history

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sora/internal/events"
	"sora/internal/media"
	"sora/internal/store"
)

// DefaultRemainingPercentage is used when the setting is absent or invalid.
const DefaultRemainingPercentage = 90

// CleanupInterval is the minimum time between periodic cleanups.
const CleanupInterval = 24 * time.Hour

// WatchingItem is one continue-watching record.
type WatchingItem struct {
	ID            string            `json:"id"`
	ImageURL      string            `json:"imageUrl"`
	EpisodeNumber int               `json:"episodeNumber"`
	MediaTitle    string            `json:"mediaTitle"`
	Progress      float64           `json:"progress"`
	StreamURL     string            `json:"streamUrl"`
	FullURL       string            `json:"fullUrl"`
	SubtitleURL   string            `json:"subtitles,omitempty"`
	TrackerID     int               `json:"aniListID,omitempty"`
	Module        media.Module      `json:"module"`
	Headers       map[string]string `json:"headers,omitempty"`
	TotalEpisodes int               `json:"totalEpisodes"`
	EpisodeTitle  string            `json:"episodeTitle,omitempty"`
	SeasonNumber  int               `json:"seasonNumber,omitempty"`
	LastUpdated   time.Time         `json:"lastUpdated"`
}

type watchKey struct {
	url     string
	source  string
	episode int
}

func (it WatchingItem) key() watchKey {
	return watchKey{url: it.FullURL, source: it.Module.Metadata.SourceName, episode: it.EpisodeNumber}
}

var episodeSuffix = regexp.MustCompile(`(?i)[\s\-:|,]*\bepisode\s*\d+.*$`)

// NormalizeTitle strips a trailing "Episode N..." suffix from a show title.
func NormalizeTitle(title string) string {
	stripped := strings.TrimSpace(episodeSuffix.ReplaceAllString(title, ""))
	if stripped == "" {
		return strings.TrimSpace(title)
	}
	return stripped
}

func showKey(title string) string {
	return strings.ToLower(NormalizeTitle(title))
}

// Watching is the continue-watching ledger. It also records the player's
// last-played and total times per URL.
type Watching struct {
	mu sync.Mutex
	ledger
}

// NewWatching creates the continue-watching ledger.
func NewWatching(opts Options) *Watching {
	return &Watching{ledger: newLedger(opts)}
}

// Threshold is the completion threshold (100 - remainingTimePercentage) / 100.
func (w *Watching) Threshold() float64 {
	pct, found, err := store.GetFloat(w.store, KeyRemainingTimePercentage)
	if err != nil {
		w.logger.Debug("reading remaining time percentage", zap.Error(err))
	}
	if !found || err != nil || pct < 0 || pct > 100 {
		pct = DefaultRemainingPercentage
	}
	return (100 - pct) / 100
}

// UpdateProgress records the player's position and duration for url.
func (w *Watching) UpdateProgress(url string, position, total float64) error {
	if url == "" {
		return fmt.Errorf("empty url")
	}
	if err := store.SetFloat(w.store, lastPlayedPrefix+url, position); err != nil {
		return fmt.Errorf("saving last played time: %w", err)
	}
	if total > 0 {
		if err := store.SetFloat(w.store, totalTimePrefix+url, total); err != nil {
			return fmt.Errorf("saving total time: %w", err)
		}
	}
	return nil
}

// LastPlayed returns the recorded position and duration for url.
func (w *Watching) LastPlayed(url string) (position, total float64, ok bool) {
	position, foundPos, err := store.GetFloat(w.store, lastPlayedPrefix+url)
	if err != nil || !foundPos {
		return 0, 0, false
	}
	total, foundTotal, err := store.GetFloat(w.store, totalTimePrefix+url)
	if err != nil || !foundTotal || total <= 0 {
		return position, 0, false
	}
	return position, total, true
}

// Save records item. Progress is recomputed from the player's recorded
// times when they exist. Items at or past the threshold are removed rather
// than stored.
func (w *Watching) Save(item WatchingItem) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	items, err := w.load()
	if err != nil {
		return err
	}

	if pos, total, ok := w.LastPlayed(item.FullURL); ok {
		item.Progress = clamp01(pos / total)
	} else {
		item.Progress = clamp01(item.Progress)
	}
	threshold := w.Threshold()
	key := item.key()

	kept := items[:0]
	if item.Progress >= threshold {
		for _, it := range items {
			if it.key() != key {
				kept = append(kept, it)
			}
		}
		w.logger.Debug("finished item removed from continue watching",
			zap.String("title", item.MediaTitle), zap.Int("episode", item.EpisodeNumber))
		return w.persist(kept)
	}

	show := showKey(item.MediaTitle)
	for _, it := range items {
		if it.key() == key {
			continue
		}
		if showKey(it.MediaTitle) == show && it.EpisodeNumber < item.EpisodeNumber && it.Progress >= threshold {
			continue
		}
		kept = append(kept, it)
	}

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.LastUpdated = w.now()
	return w.persist(append(kept, item))
}

// Items returns the deduplicated records, most recently saved first.
func (w *Watching) Items() ([]WatchingItem, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	items, err := w.load()
	if err != nil {
		return nil, err
	}
	return dedupWatching(items), nil
}

// dedupWatching keeps the last-appended record per key, scanning in
// reverse append order.
func dedupWatching(items []WatchingItem) []WatchingItem {
	seen := make(map[watchKey]bool, len(items))
	out := make([]WatchingItem, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		k := items[i].key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, items[i])
	}
	return out
}

// Remove deletes the record with id.
func (w *Watching) Remove(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	items, err := w.load()
	if err != nil {
		return err
	}
	kept := items[:0]
	for _, it := range items {
		if it.ID != id {
			kept = append(kept, it)
		}
	}
	return w.persist(kept)
}

// Clear deletes every record.
func (w *Watching) Clear() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.store.Remove(KeyWatching); err != nil {
		return fmt.Errorf("clearing continue watching: %w", err)
	}
	w.bus.Publish(events.Event{Topic: events.ContinueWatchingChanged})
	return nil
}

// CleanupIfDue runs Cleanup when the last run is older than
// CleanupInterval. It reports whether a cleanup ran.
func (w *Watching) CleanupIfDue() (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	last, found, err := store.GetFloat(w.store, KeyLastCleanup)
	if err != nil {
		w.logger.Debug("reading last cleanup time", zap.Error(err))
	}
	if found && err == nil && now.Sub(time.Unix(int64(last), 0)) < CleanupInterval {
		return false, nil
	}

	if err := w.cleanup(); err != nil {
		return false, err
	}
	if err := store.SetFloat(w.store, KeyLastCleanup, float64(now.Unix())); err != nil {
		return true, fmt.Errorf("saving cleanup time: %w", err)
	}
	return true, nil
}

// Cleanup removes, per show, every episode at or past the threshold that a
// later episode has superseded.
func (w *Watching) Cleanup() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cleanup()
}

func (w *Watching) cleanup() error {
	items, err := w.load()
	if err != nil {
		return err
	}
	threshold := w.Threshold()

	groups := make(map[string][]int)
	for i, it := range items {
		k := showKey(it.MediaTitle)
		groups[k] = append(groups[k], i)
	}

	drop := make(map[int]bool)
	for _, idx := range groups {
		sort.SliceStable(idx, func(a, b int) bool {
			return items[idx[a]].EpisodeNumber < items[idx[b]].EpisodeNumber
		})
		for j := 0; j+1 < len(idx); j++ {
			earlier, later := items[idx[j]], items[idx[j+1]]
			if earlier.Progress >= threshold && later.EpisodeNumber > earlier.EpisodeNumber {
				drop[idx[j]] = true
			}
		}
	}
	if len(drop) == 0 {
		return nil
	}

	kept := make([]WatchingItem, 0, len(items)-len(drop))
	for i, it := range items {
		if !drop[i] {
			kept = append(kept, it)
		}
	}
	w.logger.Info("continue watching cleanup", zap.Int("removed", len(drop)))
	return w.persist(kept)
}

func (w *Watching) load() ([]WatchingItem, error) {
	var items []WatchingItem
	if _, err := store.GetJSON(w.store, KeyWatching, &items); err != nil {
		return nil, fmt.Errorf("reading continue watching: %w", err)
	}
	return items, nil
}

func (w *Watching) persist(items []WatchingItem) error {
	if items == nil {
		items = []WatchingItem{}
	}
	if err := store.SetJSON(w.store, KeyWatching, items); err != nil {
		return fmt.Errorf("saving continue watching: %w", err)
	}
	w.bus.Publish(events.Event{Topic: events.ContinueWatchingChanged})
	return nil
}
