// Package storage provides shared counter-store backends for the
// rate limiter.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrStorageClosed is returned when an operation is attempted on a closed store.
var ErrStorageClosed = errors.New("storage: connection closed")

// CounterStore is the shared state backend consumed by the rate limiter.
// All methods must be safe for concurrent use from multiple goroutines
// and, for networked implementations, from multiple service instances.
type CounterStore interface {
	// Increment atomically increments the counter for key. When the
	// increment creates the key, its expiry is set to window in the
	// same atomic step, so two racing callers can never both observe a
	// fresh key and extend or drop the window. It returns the
	// post-increment count and the key's remaining time to live.
	Increment(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)

	// Reset removes all counter state for the given key.
	Reset(ctx context.Context, key string) error

	// Ping checks the health of the backend.
	Ping(ctx context.Context) error

	// Close gracefully shuts down the backend connection.
	Close() error
}
