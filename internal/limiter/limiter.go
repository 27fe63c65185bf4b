// Package limiter provides a fixed-window rate limiter backed by a
// shared counter store.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// Store defines the counter capabilities required by the limiter. The
// increment must be atomic with respect to other processes sharing the
// same backend.
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}

// DefaultStoreTimeout bounds a single store round-trip.
const DefaultStoreTimeout = 500 * time.Millisecond

// Config controls limiter behavior.
type Config struct {
	// Limit is the maximum number of admitted calls per window.
	Limit int64
	// Window is the fixed window duration, anchored at a key's first call.
	Window time.Duration
	// StoreTimeout bounds each store round-trip. Defaults to
	// DefaultStoreTimeout when zero.
	StoreTimeout time.Duration
	// FailClosed rejects calls when the store is unreachable. The
	// default is fail-open: a counter-store outage degrades the limiter,
	// not the whole service.
	FailClosed bool
}

// Decision is the outcome of a rate limit check.
type Decision struct {
	// Allowed indicates whether the call should be admitted.
	Allowed bool
	// Count is the number of calls seen in the current window,
	// including this one. Zero when Degraded.
	Count int64
	// Limit is the limit the decision was made against.
	Limit int64
	// Remaining is how many calls are still admissible in the window.
	Remaining int64
	// RetryAfter is how long a rejected caller should back off.
	// Always in [0, window].
	RetryAfter time.Duration
	// ResetAt is when the current window expires.
	ResetAt time.Time
	// Degraded marks a decision made by policy because the store was
	// unreachable, rather than by counting.
	Degraded bool
}

// Limiter is a fixed-window rate limiter. All state lives in the
// injected Store so that every service instance sharing that store
// observes one consistent window per key.
type Limiter struct {
	store        Store
	limit        int64
	window       time.Duration
	storeTimeout time.Duration
	failClosed   bool
	breaker      *gobreaker.CircuitBreaker
}

// New creates a limiter with the provided configuration.
func New(store Store, cfg Config) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("limiter: store is required")
	}
	if cfg.Limit <= 0 {
		return nil, fmt.Errorf("limiter: limit must be greater than 0")
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("limiter: window must be greater than 0")
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}

	// The breaker keeps a dead store from being hammered with
	// retries; an open breaker short-circuits straight to the
	// configured fail-open/fail-closed policy.
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "limiter-store",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("limiter: store breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &Limiter{
		store:        store,
		limit:        cfg.Limit,
		window:       cfg.Window,
		storeTimeout: cfg.StoreTimeout,
		failClosed:   cfg.FailClosed,
		breaker:      breaker,
	}, nil
}

// Check decides whether a call for key should be admitted under the
// limiter's default limit and window.
func (l *Limiter) Check(ctx context.Context, key string) (Decision, error) {
	return l.CheckWithLimit(ctx, key, l.limit, l.window)
}

// CheckWithLimit decides admission for key against an explicit limit
// and window, for callers carrying their own configured override.
//
// The counter is incremented even when the call is rejected, so a burst
// of rejected probes cannot reset or shorten the window. When the store
// is unreachable after one fast retry, the configured policy decides
// and the decision is marked Degraded.
func (l *Limiter) CheckWithLimit(ctx context.Context, key string, limit int64, window time.Duration) (Decision, error) {
	if key == "" {
		return Decision{}, fmt.Errorf("limiter: key is required")
	}
	if limit <= 0 {
		limit = l.limit
	}
	if window <= 0 {
		window = l.window
	}

	count, ttl, err := l.increment(ctx, key, window)
	if err != nil {
		return l.degraded(key, limit, window, err), nil
	}

	if ttl < 0 {
		ttl = 0
	}
	if ttl > window {
		ttl = window
	}

	decision := Decision{
		Allowed:    count <= limit,
		Count:      count,
		Limit:      limit,
		Remaining:  max(0, limit-count),
		ResetAt:    time.Now().Add(ttl),
		RetryAfter: ttl,
	}
	if decision.Allowed {
		decision.RetryAfter = 0
	}

	return decision, nil
}

// increment performs the store round-trip through the breaker with a
// bounded timeout, retrying once on failure.
func (l *Limiter) increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	count, ttl, err := l.tryIncrement(ctx, key, window)
	if err == nil {
		return count, ttl, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || ctx.Err() != nil {
		return 0, 0, err
	}

	return l.tryIncrement(ctx, key, window)
}

func (l *Limiter) tryIncrement(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	type result struct {
		count int64
		ttl   time.Duration
	}

	v, err := l.breaker.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, l.storeTimeout)
		defer cancel()

		count, ttl, err := l.store.Increment(callCtx, key, window)
		if err != nil {
			return nil, err
		}
		return result{count: count, ttl: ttl}, nil
	})
	if err != nil {
		return 0, 0, err
	}

	r := v.(result)
	return r.count, r.ttl, nil
}

// degraded applies the fail-open/fail-closed policy when the store is
// unreachable.
func (l *Limiter) degraded(key string, limit int64, window time.Duration, cause error) Decision {
	mode := "fail-open, admitting"
	if l.failClosed {
		mode = "fail-closed, rejecting"
	}
	slog.Warn("limiter: counter store unreachable, applying policy",
		"key", key,
		"policy", mode,
		"error", cause,
	)

	decision := Decision{
		Allowed:  !l.failClosed,
		Limit:    limit,
		Degraded: true,
	}
	if !decision.Allowed {
		// Without a live window there is no TTL to report; the full
		// window is the conservative back-off hint.
		decision.RetryAfter = window
		decision.ResetAt = time.Now().Add(window)
	}

	return decision
}
