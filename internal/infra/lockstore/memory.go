package lockstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-process Store. It backs tests and
// single-node deployments where no Redis is configured. Expired entries
// are dropped lazily on access.
type MemoryStore struct {
	mu    sync.Mutex
	kv    map[string]memEntry
	locks map[string]map[string]time.Time

	// Now is the clock; tests may replace it to drive TTL expiry.
	Now func() time.Time
}

type memEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		kv:    make(map[string]memEntry),
		locks: make(map[string]map[string]time.Time),
		Now:   time.Now,
	}
}

func (m *MemoryStore) now() time.Time { return m.Now() }

// Get returns the value at key if present and unexpired.
func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.kv[key]
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.After(m.now()) {
		delete(m.kv, key)
		return "", false, nil
	}
	return e.value, true, nil
}

// Set writes key=value with the given TTL.
func (m *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = memEntry{value: value, expiresAt: m.now().Add(ttl)}
	return nil
}

// SetNX writes key=value only if key is absent or expired.
func (m *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.kv[key]; ok && e.expiresAt.After(m.now()) {
		return false, nil
	}
	m.kv[key] = memEntry{value: value, expiresAt: m.now().Add(ttl)}
	return true, nil
}

// Expire refreshes the TTL of an existing key.
func (m *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.kv[key]
	if !ok || !e.expiresAt.After(m.now()) {
		delete(m.kv, key)
		return false, nil
	}
	e.expiresAt = m.now().Add(ttl)
	m.kv[key] = e
	return true, nil
}

// Del removes a key.
func (m *MemoryStore) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, key)
	return nil
}

// AcquireLock atomically claims key for holder. The whole check-and-set
// runs under one mutex hold, so concurrent acquirers serialize here.
func (m *MemoryStore) AcquireLock(_ context.Context, key, holder string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	holders := m.locks[key]
	for h, exp := range holders {
		if !exp.After(now) {
			delete(holders, h)
		}
	}

	for h := range holders {
		if h != holder {
			return false, nil
		}
	}

	if holders == nil {
		holders = make(map[string]time.Time)
		m.locks[key] = holders
	}
	holders[holder] = now.Add(ttl)
	return true, nil
}

// ReleaseLock drops holder's claim on key.
func (m *MemoryStore) ReleaseLock(_ context.Context, key, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if holders, ok := m.locks[key]; ok {
		delete(holders, holder)
		if len(holders) == 0 {
			delete(m.locks, key)
		}
	}
	return nil
}

// LockHolders enumerates unexpired claims on key.
func (m *MemoryStore) LockHolders(_ context.Context, key string) (map[string]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	out := make(map[string]time.Time)
	for h, exp := range m.locks[key] {
		if exp.After(now) {
			out[h] = exp
		} else {
			delete(m.locks[key], h)
		}
	}
	return out, nil
}
