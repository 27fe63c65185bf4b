package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process CounterStore with the same window
// semantics as the Redis backend. It is intended for unit tests and
// single-node development; it cannot coordinate multiple service
// instances.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	closed  bool

	// now is swappable for tests.
	now func() time.Time
}

type memoryWindow struct {
	count    int64
	expireAt time.Time
}

// NewMemoryStore creates an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string]*memoryWindow),
		now:     time.Now,
	}
}

// Increment increments the counter for key under a single lock, giving
// the same atomicity as the Redis Lua script within one process.
func (ms *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.closed {
		return 0, 0, ErrStorageClosed
	}

	now := ms.now()
	w, ok := ms.windows[key]
	if !ok || !w.expireAt.After(now) {
		w = &memoryWindow{expireAt: now.Add(window)}
		ms.windows[key] = w
	}

	w.count++
	return w.count, w.expireAt.Sub(now), nil
}

// Reset removes all counter state for the given key.
func (ms *MemoryStore) Reset(_ context.Context, key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.closed {
		return ErrStorageClosed
	}

	delete(ms.windows, key)
	return nil
}

// Ping reports whether the store is usable.
func (ms *MemoryStore) Ping(context.Context) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.closed {
		return ErrStorageClosed
	}
	return nil
}

// Close marks the store closed; further operations fail.
func (ms *MemoryStore) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.closed = true
	return nil
}
