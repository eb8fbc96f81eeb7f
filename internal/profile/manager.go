// Package profile maintains what the assistant has learned about each
// shopper: a flat key-value map per session, persisted in SQLite and
// grown by extraction from the conversation.
package profile

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store defines the storage operations the Manager needs.
// Implemented by storage.Store.
type Store interface {
	SetProfileKey(sessionID, key, value string) error
	GetProfileKey(sessionID, key string) (string, error)
	GetAllProfileKeys(sessionID string) (map[string]string, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type cacheEntry struct {
	values   map[string]string
	cachedAt time.Time
}

// Manager provides cached access to per-session profiles.
type Manager struct {
	store Store
	clock Clock
	ttl   time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store Store) *Manager {
	return NewManagerWithClock(store, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store Store, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store: store,
		clock: clock,
		ttl:   ttl,
		cache: make(map[string]cacheEntry),
	}
}

// Get returns everything collected about one session. Results are
// cached briefly; callers always receive their own copy.
func (m *Manager) Get(sessionID string) (map[string]string, error) {
	// Fast path: read lock for cache hit.
	m.mu.RLock()
	if e, ok := m.cache[sessionID]; ok && m.clock.Now().Before(e.cachedAt.Add(m.ttl)) {
		values := copyValues(e.values)
		m.mu.RUnlock()
		return values, nil
	}
	m.mu.RUnlock()

	// Slow path: write lock for cache miss.
	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock.
	if e, ok := m.cache[sessionID]; ok && m.clock.Now().Before(e.cachedAt.Add(m.ttl)) {
		return copyValues(e.values), nil
	}

	values, err := m.store.GetAllProfileKeys(sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading profile keys: %w", err)
	}
	if values == nil {
		values = map[string]string{}
	}
	m.cache[sessionID] = cacheEntry{values: values, cachedAt: m.clock.Now()}
	return copyValues(values), nil
}

// Set persists one profile field and invalidates the session's cache.
// Non-string values are stored as JSON.
func (m *Manager) Set(sessionID, key string, value any) error {
	str, err := coerceValue(value)
	if err != nil {
		return fmt.Errorf("marshalling value for key %q: %w", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.SetProfileKey(sessionID, key, str); err != nil {
		return fmt.Errorf("setting profile key %q: %w", key, err)
	}

	delete(m.cache, sessionID)
	return nil
}

// Merge persists every field in updates, invalidating the session's
// cache once. Keys are written in sorted order for determinism.
func (m *Manager) Merge(sessionID string, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}

	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		str, err := coerceValue(updates[key])
		if err != nil {
			return fmt.Errorf("marshalling value for key %q: %w", key, err)
		}
		if err := m.store.SetProfileKey(sessionID, key, str); err != nil {
			return fmt.Errorf("setting profile key %q: %w", key, err)
		}
	}

	delete(m.cache, sessionID)
	return nil
}

// Forget drops the cached entry for a session. Callers use it after a
// session reset or delete so stale values never resurface.
func (m *Manager) Forget(sessionID string) {
	m.mu.Lock()
	delete(m.cache, sessionID)
	m.mu.Unlock()
}

func coerceValue(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

func copyValues(values map[string]string) map[string]string {
	cp := make(map[string]string, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return cp
}
