package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryBackend is the in-process Backend. A single mutex makes Pop atomic.
type MemoryBackend struct {
	mu        sync.Mutex
	ready     []string
	scheduled map[string]time.Time
	inflight  map[string]time.Time
}

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		scheduled: make(map[string]time.Time),
		inflight:  make(map[string]time.Time),
	}
}

func (b *MemoryBackend) Push(_ context.Context, id string, runAt, now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if runAt.After(now) {
		b.scheduled[id] = runAt
		return nil
	}
	b.ready = append(b.ready, id)
	return nil
}

func (b *MemoryBackend) PromoteDue(_ context.Context, now time.Time, limit int64) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.takeDue(b.scheduled, now, limit, true), nil
}

func (b *MemoryBackend) Pop(_ context.Context, leaseUntil time.Time) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.ready) == 0 {
		return "", nil
	}
	id := b.ready[0]
	b.ready = b.ready[1:]
	b.inflight[id] = leaseUntil
	return id, nil
}

func (b *MemoryBackend) Extend(_ context.Context, id string, leaseUntil time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.inflight[id]; ok {
		b.inflight[id] = leaseUntil
	}
	return nil
}

func (b *MemoryBackend) Ack(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.inflight, id)
	return nil
}

func (b *MemoryBackend) ReclaimExpired(_ context.Context, now time.Time, limit int64) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.takeDue(b.inflight, now, limit, false), nil
}

// takeDue removes ids from set whose deadline is not after now, earliest
// first, optionally appending them to the ready list. Caller holds mu.
func (b *MemoryBackend) takeDue(set map[string]time.Time, now time.Time, limit int64, toReady bool) []string {
	due := make([]string, 0)
	for id, at := range set {
		if !at.After(now) {
			due = append(due, id)
		}
	}
	sort.Slice(due, func(i, j int) bool { return set[due[i]].Before(set[due[j]]) })
	if limit > 0 && int64(len(due)) > limit {
		due = due[:limit]
	}
	for _, id := range due {
		delete(set, id)
		if toReady {
			b.ready = append(b.ready, id)
		}
	}
	return due
}
