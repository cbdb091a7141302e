package store

import (
	gocache "github.com/patrickmn/go-cache"
)

var _ Store = (*Memory)(nil)

// Memory is an in-memory Store backed by go-cache. Nothing expires and
// nothing is persisted.
type Memory struct {
	cache *gocache.Cache
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{cache: gocache.New(gocache.NoExpiration, 0)}
}

// Get implements the Store interface.
func (m *Memory) Get(key string) ([]byte, bool, error) {
	v, found := m.cache.Get(key)
	if !found {
		return nil, false, nil
	}
	data := v.([]byte)
	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

// Set implements the Store interface.
func (m *Memory) Set(key string, value []byte) error {
	data := make([]byte, len(value))
	copy(data, value)
	m.cache.Set(key, data, gocache.NoExpiration)
	return nil
}

// Remove implements the Store interface.
func (m *Memory) Remove(key string) error {
	m.cache.Delete(key)
	return nil
}

// Close implements the Store interface.
func (m *Memory) Close() error {
	m.cache.Flush()
	return nil
}
