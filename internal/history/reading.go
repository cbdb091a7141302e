package history

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"sora/internal/events"
	"sora/internal/store"
)

const (
	// MaxReadingItems caps the continue-reading list.
	MaxReadingItems = 20
	// ReadingComplete is the progress at which a chapter counts as read.
	ReadingComplete = 0.98
	// PlaceholderImage replaces missing or unusable cover URLs.
	PlaceholderImage = "https://placehold.co/300x450?text=No+Cover"

	minSnapshotChars = 50
)

// ErrMissingHref is returned for reading items without an href.
var ErrMissingHref = errors.New("reading item has no href")

// ReadingItem is one continue-reading record.
type ReadingItem struct {
	ID            string    `json:"id"`
	MediaTitle    string    `json:"mediaTitle"`
	ChapterTitle  string    `json:"chapterTitle"`
	ChapterNumber int       `json:"chapterNumber"`
	ImageURL      string    `json:"imageUrl"`
	Href          string    `json:"href"`
	ModuleID      string    `json:"moduleId"`
	Progress      float64   `json:"progress"`
	TotalChapters int       `json:"totalChapters"`
	LastReadDate  time.Time `json:"lastReadDate"`
	CachedHTML    string    `json:"cachedHtml,omitempty"`
}

// Reading is the continue-reading ledger with its completed-chapter cache.
type Reading struct {
	mu sync.Mutex
	ledger
}

// NewReading creates the continue-reading ledger.
func NewReading(opts Options) *Reading {
	return &Reading{ledger: newLedger(opts)}
}

// Save records item. At ReadingComplete or beyond the item leaves the list
// and a non-trivial HTML snapshot moves to the completed-chapter cache.
func (r *Reading) Save(item ReadingItem) error {
	if strings.TrimSpace(item.Href) == "" {
		return ErrMissingHref
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	items, err := r.load()
	if err != nil {
		return err
	}

	item.Progress = clamp01(item.Progress)
	item.MediaTitle = cleanTitle(item.MediaTitle, item.Href)
	item.ImageURL = cleanImageURL(item.ImageURL)

	kept := make([]ReadingItem, 0, len(items)+1)
	for _, it := range items {
		if it.Href != item.Href {
			kept = append(kept, it)
		}
	}

	if item.Progress >= ReadingComplete {
		if NonTrivialHTML(item.CachedHTML) {
			if err := r.cacheCompleted(item.Href, item.CachedHTML); err != nil {
				return err
			}
		}
		r.logger.Debug("chapter completed", zap.String("href", item.Href))
		return r.persist(kept)
	}

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.LastReadDate = r.now()
	kept = append(kept, item)

	// Stored oldest first so eviction drops from the front.
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].LastReadDate.Before(kept[j].LastReadDate)
	})
	if len(kept) > MaxReadingItems {
		kept = kept[len(kept)-MaxReadingItems:]
	}
	return r.persist(kept)
}

// Items returns the deduplicated records, most recently read first.
func (r *Reading) Items() ([]ReadingItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	items, err := r.load()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(items))
	out := make([]ReadingItem, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		if seen[items[i].Href] {
			continue
		}
		seen[items[i].Href] = true
		out = append(out, items[i])
	}
	sortByLastRead(out)
	return out, nil
}

// Remove deletes the record for href.
func (r *Reading) Remove(href string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	items, err := r.load()
	if err != nil {
		return err
	}
	kept := items[:0]
	for _, it := range items {
		if it.Href != href {
			kept = append(kept, it)
		}
	}
	return r.persist(kept)
}

// Clear deletes every record. The completed-chapter cache is kept.
func (r *Reading) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Remove(KeyReading); err != nil {
		return fmt.Errorf("clearing continue reading: %w", err)
	}
	r.bus.Publish(events.Event{Topic: events.ContinueReadingChanged})
	return nil
}

// CompletedHTML returns the cached snapshot of a finished chapter.
func (r *Reading) CompletedHTML(href string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cache, err := r.completed()
	if err != nil {
		return "", false, err
	}
	html, ok := cache[href]
	return html, ok, nil
}

// Progress returns the reading progress for href: the active record's
// value, or 1 for a chapter in the completed cache.
func (r *Reading) Progress(href string) (float64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	items, err := r.load()
	if err != nil {
		return 0, false, err
	}
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Href == href {
			return items[i].Progress, true, nil
		}
	}
	cache, err := r.completed()
	if err != nil {
		return 0, false, err
	}
	if _, ok := cache[href]; ok {
		return 1, true, nil
	}
	return 0, false, nil
}

func (r *Reading) cacheCompleted(href, html string) error {
	cache, err := r.completed()
	if err != nil {
		return err
	}
	cache[href] = html
	if err := store.SetJSON(r.store, KeyCompletedChapters, cache); err != nil {
		return fmt.Errorf("saving completed chapter cache: %w", err)
	}
	return nil
}

func (r *Reading) completed() (map[string]string, error) {
	cache := map[string]string{}
	if _, err := store.GetJSON(r.store, KeyCompletedChapters, &cache); err != nil {
		return nil, fmt.Errorf("reading completed chapter cache: %w", err)
	}
	if cache == nil {
		cache = map[string]string{}
	}
	return cache, nil
}

func (r *Reading) load() ([]ReadingItem, error) {
	var items []ReadingItem
	if _, err := store.GetJSON(r.store, KeyReading, &items); err != nil {
		return nil, fmt.Errorf("reading continue reading: %w", err)
	}
	return items, nil
}

func (r *Reading) persist(items []ReadingItem) error {
	if items == nil {
		items = []ReadingItem{}
	}
	if err := store.SetJSON(r.store, KeyReading, items); err != nil {
		return fmt.Errorf("saving continue reading: %w", err)
	}
	r.bus.Publish(events.Event{Topic: events.ContinueReadingChanged})
	return nil
}

func sortByLastRead(items []ReadingItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].LastReadDate.After(items[j].LastReadDate)
	})
}

// NonTrivialHTML reports whether html holds more than a few characters of
// real content.
func NonTrivialHTML(html string) bool {
	n := 0
	for _, r := range html {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	if n <= minSnapshotChars {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	return strings.TrimSpace(doc.Text()) != ""
}

// cleanTitle re-derives suspicious titles from the chapter URL.
func cleanTitle(title, href string) string {
	suspicious := (utf8.RuneCountInString(title) > 30 && strings.Contains(title, "-")) || strings.Contains(title, "Unknown")
	if !suspicious {
		return title
	}
	if derived := titleFromURL(href); derived != "" {
		return derived
	}
	return title
}

var titleCaser = cases.Title(language.English)

// titleFromURL finds a /book/<slug> or /novel/<slug> segment and turns the
// slug into a title.
func titleFromURL(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+1 < len(segments); i++ {
		if seg := strings.ToLower(segments[i]); seg != "book" && seg != "novel" {
			continue
		}
		slug, err := url.PathUnescape(segments[i+1])
		if err != nil {
			slug = segments[i+1]
		}
		words := strings.Fields(strings.NewReplacer("-", " ", "_", " ", "+", " ").Replace(slug))
		if len(words) == 0 {
			return ""
		}
		return titleCaser.String(strings.Join(words, " "))
	}
	return ""
}

// cleanImageURL returns raw when usable, a percent-encoded form when that
// is usable, and PlaceholderImage otherwise.
func cleanImageURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return PlaceholderImage
	}
	if usableImageURL(raw) {
		return raw
	}
	if encoded := percentEncode(raw); usableImageURL(encoded) {
		return encoded
	}
	return PlaceholderImage
}

func usableImageURL(raw string) bool {
	if strings.ContainsAny(raw, " \t\r\n\"<>\\^`{|}") {
		return false
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] >= 0x80 {
			return false
		}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// percentEncode escapes every byte outside the URL character set, leaving
// existing escapes and reserved delimiters intact.
func percentEncode(raw string) string {
	const allowed = "-._~:/?#[]@!$&'()*+,;=%"
	var b strings.Builder
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c < 0x80 && (c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || strings.IndexByte(allowed, c) >= 0) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}
