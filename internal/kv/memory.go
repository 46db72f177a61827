package kv

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultMemoryCapacity bounds the in-process audit store.
const DefaultMemoryCapacity = 10000

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process Store used when redis is not configured. A bounded
// Memory evicts the least recently used keys once capacity is reached.
type Memory struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, memoryEntry]
	now   func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory creates a store holding at most capacity keys. A capacity of zero
// or less never evicts; keys leave only by TTL or Delete.
func NewMemory(capacity int) *Memory {
	if capacity < 0 {
		capacity = 0
	}
	return &Memory{
		cache: expirable.NewLRU[string, memoryEntry](capacity, nil, 0),
		now:   time.Now,
	}
}

func (m *Memory) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Add(key, m.entry(value, ttl))
	return nil
}

func (m *Memory) PutIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(key); ok {
		return false, nil
	}
	m.cache.Add(key, m.entry(value, ttl))
	return true, nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Remove(key)
	return nil
}

func (m *Memory) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for _, key := range m.cache.Keys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if _, ok := m.live(key); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *Memory) entry(value []byte, ttl time.Duration) memoryEntry {
	stored := make([]byte, len(value))
	copy(stored, value)
	e := memoryEntry{value: stored}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	return e
}

// live must be called with mu held; expired entries are dropped on access and
// a hit counts as a use.
func (m *Memory) live(key string) (memoryEntry, bool) {
	e, ok := m.cache.Get(key)
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		m.cache.Remove(key)
		return memoryEntry{}, false
	}
	return e, true
}
