package client

import (
	"context"
	"encoding/json"
	"regexp"
	"sync"
	"time"
)

// Entry is a cached GET response keyed by endpoint.
type Entry struct {
	Key      string          `json:"key"`
	Payload  json.RawMessage `json:"payload"`
	StoredAt time.Time       `json:"storedAt"`
}

// Cache stores GET payloads for the request client.
// Implementations live here (memory) and in infra/cache/ (Redis).
type Cache interface {
	// Get returns the entry for key, or nil, nil on a miss.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set stores or replaces an entry.
	Set(ctx context.Context, entry *Entry) error

	// Clear removes every entry whose key matches pattern; a nil pattern clears all.
	Clear(ctx context.Context, pattern *regexp.Regexp) error
}

var _ Cache = (*MemoryCache)(nil)

// MemoryCache is the default in-process cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*Entry)}
}

// Get retrieves an entry by key.
func (m *MemoryCache) Get(_ context.Context, key string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	cp := *entry
	return &cp, nil
}

// Set stores an entry.
func (m *MemoryCache) Set(_ context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.entries[entry.Key] = &cp
	return nil
}

// Clear removes matching entries.
func (m *MemoryCache) Clear(_ context.Context, pattern *regexp.Regexp) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pattern == nil {
		m.entries = make(map[string]*Entry)
		return nil
	}
	for key := range m.entries {
		if pattern.MatchString(key) {
			delete(m.entries, key)
		}
	}
	return nil
}

// Len returns the number of cached entries.
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
