package cache

import (
	"context"
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Memory is an in-process namespace cache.
type Memory[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	now     func() time.Time
}

// NewMemory returns an empty cache.
func NewMemory[V any]() *Memory[V] {
	return &Memory[V]{entries: make(map[string]entry[V]), now: time.Now}
}

func (m *Memory[V]) Get(_ context.Context, key string) (V, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero V
	e, ok := m.entries[key]
	if !ok {
		return zero, false, nil
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return zero, false, nil
	}
	return e.value, true, nil
}

// Set stores value; a non-positive ttl keeps it until invalidated.
func (m *Memory[V]) Set(_ context.Context, key string, value V, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := entry[V]{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *Memory[V]) InvalidateAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]entry[V])
	return nil
}

// Len reports the number of stored entries, expired ones included.
func (m *Memory[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
