// Package apikey manages registered-caller records and resolves
// presented credentials to caller identities.
package apikey

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound indicates the requested key record does not exist.
	ErrNotFound = errors.New("apikey: not found")

	// ErrMissing indicates no credential was presented at all.
	ErrMissing = errors.New("apikey: credential missing")

	// ErrInvalid indicates the presented credential is unknown or inactive.
	ErrInvalid = errors.New("apikey: credential invalid or inactive")
)

// Key is a registered API key record.
type Key struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	ServiceName string    `json:"service_name"`
	IsActive    bool      `json:"is_active"`
	// RateLimit and RateWindowSeconds override the service-wide rate
	// limit for this caller when both are positive.
	RateLimit         int64     `json:"rate_limit,omitempty"`
	RateWindowSeconds int64     `json:"rate_window_seconds,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// HasLimitOverride reports whether the key carries its own rate limit.
func (k Key) HasLimitOverride() bool {
	return k.RateLimit > 0 && k.RateWindowSeconds > 0
}

// Store defines persistence behavior for API key records.
type Store interface {
	Create(ctx context.Context, key Key) (Key, error)
	List(ctx context.Context) ([]Key, error)
	GetByID(ctx context.Context, id string) (Key, error)
	// GetActiveByKey returns the active record matching the key value.
	// Inactive records are reported as ErrNotFound.
	GetActiveByKey(ctx context.Context, key string) (Key, error)
	Update(ctx context.Context, id string, key Key) (Key, error)
	Delete(ctx context.Context, id string) error
}

// Identity is a resolved caller. The rate limiter is keyed by
// ServiceName; the raw credential never travels past this package.
type Identity struct {
	ServiceName string
	// Limit and Window are this caller's rate limit override;
	// zero values mean the service-wide default applies.
	Limit  int64
	Window time.Duration
}

// Authenticator resolves presented credentials against the key store.
type Authenticator struct {
	store Store
}

// NewAuthenticator creates an authenticator over the given store.
func NewAuthenticator(store Store) *Authenticator {
	return &Authenticator{store: store}
}

// Resolve maps a presented credential to a caller identity.
// An empty credential yields ErrMissing; an unknown or inactive one
// yields ErrInvalid. Store failures are returned as-is.
func (a *Authenticator) Resolve(ctx context.Context, presented string) (Identity, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return Identity{}, ErrMissing
	}

	record, err := a.store.GetActiveByKey(ctx, presented)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Identity{}, ErrInvalid
		}
		return Identity{}, err
	}

	identity := Identity{ServiceName: record.ServiceName}
	if record.HasLimitOverride() {
		identity.Limit = record.RateLimit
		identity.Window = time.Duration(record.RateWindowSeconds) * time.Second
	}

	return identity, nil
}
