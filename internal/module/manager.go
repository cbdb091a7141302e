// Package module manages installed source modules: metadata plus the
// extraction script, persisted in the key-value store.
package module

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sora/internal/events"
	"sora/internal/httputil"
	"sora/internal/logging"
	"sora/internal/media"
	"sora/internal/store"
)

// Store keys.
const (
	keyModules        = "modules"
	keyScriptPrefix   = "moduleScript_"
	KeySelectedModule = "selectedModuleId"
)

var (
	ErrInvalidMetadata = errors.New("invalid module metadata")
	ErrDuplicate       = errors.New("module already installed")
	ErrNotFound        = errors.New("module not found")
)

// Manager adds, lists and removes modules.
type Manager struct {
	mu     sync.Mutex
	store  store.Store
	client *http.Client
	bus    events.Publisher
	logger *zap.Logger
}

// NewManager creates a Manager over s.
func NewManager(s store.Store, client *http.Client, bus events.Publisher, logger *zap.Logger) *Manager {
	if client == nil {
		client = httputil.NewClient()
	}
	if bus == nil {
		bus = events.Nop{}
	}
	return &Manager{store: s, client: client, bus: bus, logger: logging.OrNop(logger)}
}

// Add fetches and validates the metadata document at metadataURL, fetches
// its script and installs the module.
func (m *Manager) Add(ctx context.Context, metadataURL string) (media.Module, error) {
	metadataURL = strings.TrimSpace(metadataURL)
	if err := httputil.ValidateURL(metadataURL); err != nil {
		return media.Module{}, fmt.Errorf("invalid metadata URL: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	modules, err := m.load()
	if err != nil {
		return media.Module{}, err
	}
	for _, mod := range modules {
		if mod.MetadataURL == metadataURL {
			return media.Module{}, fmt.Errorf("%w: %s", ErrDuplicate, mod.Metadata.SourceName)
		}
	}

	md, script, err := m.fetch(ctx, metadataURL)
	if err != nil {
		return media.Module{}, err
	}

	mod := media.Module{
		ID:          uuid.NewString(),
		Metadata:    md,
		MetadataURL: metadataURL,
		Script:      script,
	}
	if err := m.store.Set(keyScriptPrefix+mod.ID, []byte(script)); err != nil {
		return media.Module{}, fmt.Errorf("saving script: %w", err)
	}
	if err := m.save(append(modules, mod)); err != nil {
		return media.Module{}, err
	}

	m.logger.Info("module added", zap.String("id", mod.ID), zap.String("source", md.SourceName), zap.String("version", md.Version))
	m.bus.Publish(events.Event{Topic: events.ModulesChanged})
	return mod, nil
}

// List returns installed modules without their scripts.
func (m *Manager) List() ([]media.Module, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load()
}

// Get returns the module with id, script included.
func (m *Manager) Get(id string) (media.Module, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(id)
}

func (m *Manager) get(id string) (media.Module, error) {
	modules, err := m.load()
	if err != nil {
		return media.Module{}, err
	}
	for _, mod := range modules {
		if mod.ID != id {
			continue
		}
		script, found, err := m.store.Get(keyScriptPrefix + id)
		if err != nil {
			return media.Module{}, fmt.Errorf("reading script: %w", err)
		}
		if !found {
			return media.Module{}, fmt.Errorf("%w: script for %s is missing", ErrNotFound, id)
		}
		mod.Script = string(script)
		return mod, nil
	}
	return media.Module{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Remove deletes the module with id and its stored script.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	modules, err := m.load()
	if err != nil {
		return err
	}
	kept := modules[:0]
	found := false
	for _, mod := range modules {
		if mod.ID == id {
			found = true
			continue
		}
		kept = append(kept, mod)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := m.save(kept); err != nil {
		return err
	}
	if err := m.store.Remove(keyScriptPrefix + id); err != nil {
		return fmt.Errorf("removing script: %w", err)
	}

	m.logger.Info("module removed", zap.String("id", id))
	m.bus.Publish(events.Event{Topic: events.ModulesChanged})
	return nil
}

// Refresh refetches the module's metadata and, when the version changed,
// its script. It reports whether anything was updated.
func (m *Manager) Refresh(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	modules, err := m.load()
	if err != nil {
		return false, err
	}
	idx := -1
	for i, mod := range modules {
		if mod.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	data, err := httputil.GetBody(ctx, m.client, modules[idx].MetadataURL, nil)
	if err != nil {
		return false, fmt.Errorf("fetching metadata: %w", err)
	}
	md, err := ParseMetadata(data)
	if err != nil {
		return false, err
	}
	if md.Version == modules[idx].Metadata.Version {
		return false, nil
	}

	script, err := m.fetchScript(ctx, md.ScriptURL)
	if err != nil {
		return false, err
	}
	if err := m.store.Set(keyScriptPrefix+id, []byte(script)); err != nil {
		return false, fmt.Errorf("saving script: %w", err)
	}
	modules[idx].Metadata = md
	if err := m.save(modules); err != nil {
		return false, err
	}

	m.logger.Info("module updated", zap.String("id", id), zap.String("version", md.Version))
	m.bus.Publish(events.Event{Topic: events.ModulesChanged})
	return true, nil
}

// Active returns the module named by the externally managed selection key.
func (m *Manager) Active() (media.Module, bool, error) {
	id, found, err := store.GetString(m.store, KeySelectedModule)
	if err != nil || !found || id == "" {
		return media.Module{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mod, err := m.get(id)
	if errors.Is(err, ErrNotFound) {
		return media.Module{}, false, nil
	}
	if err != nil {
		return media.Module{}, false, err
	}
	return mod, true, nil
}

func (m *Manager) fetch(ctx context.Context, metadataURL string) (media.ModuleMetadata, string, error) {
	data, err := httputil.GetBody(ctx, m.client, metadataURL, nil)
	if err != nil {
		return media.ModuleMetadata{}, "", fmt.Errorf("fetching metadata: %w", err)
	}
	md, err := ParseMetadata(data)
	if err != nil {
		return media.ModuleMetadata{}, "", err
	}
	script, err := m.fetchScript(ctx, md.ScriptURL)
	if err != nil {
		return media.ModuleMetadata{}, "", err
	}
	return md, script, nil
}

func (m *Manager) fetchScript(ctx context.Context, scriptURL string) (string, error) {
	body, err := httputil.GetBody(ctx, m.client, scriptURL, nil)
	if err != nil {
		return "", fmt.Errorf("fetching script: %w", err)
	}
	script := string(body)
	if strings.TrimSpace(script) == "" {
		return "", fmt.Errorf("%w: script at %s is empty", ErrInvalidMetadata, scriptURL)
	}
	return script, nil
}

func (m *Manager) load() ([]media.Module, error) {
	var modules []media.Module
	if _, err := store.GetJSON(m.store, keyModules, &modules); err != nil {
		return nil, fmt.Errorf("reading modules: %w", err)
	}
	return modules, nil
}

func (m *Manager) save(modules []media.Module) error {
	if modules == nil {
		modules = []media.Module{}
	}
	if err := store.SetJSON(m.store, keyModules, modules); err != nil {
		return fmt.Errorf("saving modules: %w", err)
	}
	return nil
}
