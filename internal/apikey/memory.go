package apikey

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a thread-safe in-memory implementation of Store,
// used in unit tests and local development without PostgreSQL.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]Key
}

// NewMemoryStore creates an empty in-memory key store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]Key)}
}

// Create stores a new key record, assigning an ID when absent.
func (s *MemoryStore) Create(_ context.Context, key Key) (Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	key.CreatedAt = now
	key.UpdatedAt = now

	s.keys[key.ID] = key
	return key, nil
}

// List returns all key records.
func (s *MemoryStore) List(_ context.Context) ([]Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Key, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, k)
	}
	return out, nil
}

// GetByID returns the record with the given ID.
func (s *MemoryStore) GetByID(_ context.Context, id string) (Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.keys[id]
	if !ok {
		return Key{}, ErrNotFound
	}
	return k, nil
}

// GetActiveByKey returns the active record matching the key value.
func (s *MemoryStore) GetActiveByKey(_ context.Context, key string) (Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, k := range s.keys {
		if k.Key == key && k.IsActive {
			return k, nil
		}
	}
	return Key{}, ErrNotFound
}

// Update replaces the stored record with the given ID.
func (s *MemoryStore) Update(_ context.Context, id string, key Key) (Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.keys[id]
	if !ok {
		return Key{}, ErrNotFound
	}

	key.ID = existing.ID
	key.CreatedAt = existing.CreatedAt
	key.UpdatedAt = time.Now().UTC()

	s.keys[id] = key
	return key, nil
}

// Delete removes the record with the given ID.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[id]; !ok {
		return ErrNotFound
	}
	delete(s.keys, id)
	return nil
}
