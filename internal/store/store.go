// Package store provides the key-value persistence capability used by the
// ledgers, the module manager and the player time recorder.
package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Store is a simple key-value store. Values are opaque bytes; callers use
// the JSON and float helpers for structured values.
type Store interface {
	// Get returns the value for key. The boolean reports whether it exists.
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Remove(key string) error
	Close() error
}

// Open opens the named backend rooted at dir.
func Open(backend, dir string, logger *zap.Logger) (Store, error) {
	switch strings.ToLower(backend) {
	case "memory":
		return NewMemory(), nil
	case "badger":
		return OpenBadger(filepath.Join(dir, "badger"), logger)
	case "sqlite":
		return OpenSQLite(filepath.Join(dir, "sora.db"))
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// GetJSON decodes the JSON document stored under key into v.
func GetJSON(s Store, key string, v interface{}) (bool, error) {
	data, found, err := s.Get(key)
	if err != nil || !found {
		return found, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("decoding %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores v as a JSON document under key.
func SetJSON(s Store, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return s.Set(key, data)
}

// GetFloat reads a scalar stored under key.
func GetFloat(s Store, key string) (float64, bool, error) {
	data, found, err := s.Get(key)
	if err != nil || !found {
		return 0, found, err
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return 0, true, fmt.Errorf("parsing %s: %w", key, err)
	}
	return f, true, nil
}

// SetFloat stores a scalar under key.
func SetFloat(s Store, key string, f float64) error {
	return s.Set(key, []byte(strconv.FormatFloat(f, 'f', -1, 64)))
}

// GetString reads a string stored under key.
func GetString(s Store, key string) (string, bool, error) {
	data, found, err := s.Get(key)
	return string(data), found, err
}
