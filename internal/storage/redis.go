package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default configuration values for the Redis connection pool.
const (
	DefaultPoolSize      = 10
	DefaultMinIdleConns  = 3
	DefaultDialTimeout   = 5 * time.Second
	DefaultReadTimeout   = 3 * time.Second
	DefaultWriteTimeout  = 3 * time.Second
	DefaultMaxRetries    = 3
	DefaultRetryDelay    = 100 * time.Millisecond
	DefaultMaxRetryDelay = 500 * time.Millisecond
)

// RedisConfig holds the configuration for the Redis counter store.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (empty for no auth).
	Password string
	// DB is the Redis database number.
	DB int

	// PoolSize is the maximum number of connections in the pool.
	PoolSize int
	// MinIdleConns is the minimum number of idle connections to maintain.
	MinIdleConns int

	// DialTimeout is the timeout for establishing new connections.
	DialTimeout time.Duration
	// ReadTimeout is the timeout for read operations.
	ReadTimeout time.Duration
	// WriteTimeout is the timeout for write operations.
	WriteTimeout time.Duration

	// MaxRetries is the maximum number of retries for failed commands.
	MaxRetries int
	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration
	// MaxRetryDelay is the maximum delay between retries.
	MaxRetryDelay time.Duration
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		Password:      "",
		DB:            0,
		PoolSize:      DefaultPoolSize,
		MinIdleConns:  DefaultMinIdleConns,
		DialTimeout:   DefaultDialTimeout,
		ReadTimeout:   DefaultReadTimeout,
		WriteTimeout:  DefaultWriteTimeout,
		MaxRetries:    DefaultMaxRetries,
		RetryDelay:    DefaultRetryDelay,
		MaxRetryDelay: DefaultMaxRetryDelay,
	}
}

// RedisStore implements CounterStore using Redis. The increment runs as
// a pre-loaded Lua script, so multiple service instances sharing one
// Redis observe a single consistent window per key.
type RedisStore struct {
	client  *redis.Client
	scripts *scriptLoader
	mu      sync.RWMutex
	closed  bool
}

// NewRedisStore creates a new Redis-backed counter store.
// It validates the connection by sending a PING command.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.RetryDelay,
		MaxRetryBackoff: cfg.MaxRetryDelay,
	})

	// Validate the connection.
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: failed to connect to %s: %w", cfg.Addr, err)
	}

	rs := &RedisStore{
		client:  client,
		scripts: newScriptLoader(client),
	}

	// Pre-load Lua scripts into Redis script cache.
	if err := rs.scripts.LoadAll(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: failed to load Lua scripts: %w", err)
	}

	slog.Info("redis: connected",
		"addr", cfg.Addr,
		"pool_size", cfg.PoolSize,
		"min_idle", cfg.MinIdleConns,
	)

	return rs, nil
}

// Increment atomically increments the counter for key, starting a new
// window of the given duration when the key did not exist.
func (rs *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	if rs.closed {
		return 0, 0, ErrStorageClosed
	}

	values, err := rs.scripts.increment.Run(ctx, rs.client,
		[]string{counterKey(key)},
		window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: increment failed for key %q: %w", key, err)
	}
	if len(values) != 2 {
		return 0, 0, fmt.Errorf("redis: increment returned %d values for key %q, expected 2", len(values), key)
	}

	return values[0], time.Duration(values[1]) * time.Millisecond, nil
}

// Reset removes all rate limiting state associated with the given key.
func (rs *RedisStore) Reset(ctx context.Context, key string) error {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	if rs.closed {
		return ErrStorageClosed
	}

	if err := rs.client.Del(ctx, counterKey(key)).Err(); err != nil {
		return fmt.Errorf("redis: delete failed for key %q: %w", key, err)
	}

	return nil
}

// Ping checks connectivity to the Redis server.
func (rs *RedisStore) Ping(ctx context.Context) error {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	if rs.closed {
		return ErrStorageClosed
	}

	if err := rs.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping failed: %w", err)
	}

	return nil
}

// Close gracefully shuts down the Redis connection.
func (rs *RedisStore) Close() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.closed {
		return nil
	}

	rs.closed = true
	slog.Info("redis: closing connection")

	return rs.client.Close()
}

// PoolStats returns the current connection pool statistics.
func (rs *RedisStore) PoolStats() *redis.PoolStats {
	return rs.client.PoolStats()
}

// counterKey namespaces a caller key in Redis. The window is anchored
// at the key's first increment and carried by its TTL, so there is no
// time bucket in the key itself.
func counterKey(key string) string {
	return fmt.Sprintf("ratelimit:{%s}", key)
}
