package storage

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Lua script for the atomic rate limit increment.
//
// INCR and PEXPIRE must execute as one server-side step: if they were
// issued as separate commands, two racing callers could both observe a
// fresh key and either extend the window or leave the key without an
// expiry entirely.

// luaIncrement atomically increments a key, sets its expiry if the
// increment created it, and reports the remaining window.
// KEYS[1] = the rate limit key
// ARGV[1] = window duration in milliseconds
//
// Returns: {count_after_increment, remaining_ttl_ms}
const luaIncrement = `
local key = KEYS[1]
local window_ms = tonumber(ARGV[1])

local current = redis.call("INCR", key)

-- Set expiry only when this increment created the key, so later calls
-- never push the window end out.
if current == 1 then
    redis.call("PEXPIRE", key, window_ms)
end

local ttl = redis.call("PTTL", key)
if ttl < 0 then
    ttl = window_ms
end

return {current, ttl}
`

// scriptLoader manages the lifecycle of Lua scripts in Redis.
// Scripts are loaded once via SCRIPT LOAD and then executed by SHA,
// which reduces bandwidth and parsing overhead on repeated calls.
type scriptLoader struct {
	client *redis.Client

	increment *redis.Script
}

// newScriptLoader creates a new script loader with all scripts registered.
func newScriptLoader(client *redis.Client) *scriptLoader {
	return &scriptLoader{
		client:    client,
		increment: redis.NewScript(luaIncrement),
	}
}

// LoadAll pre-loads all Lua scripts into the Redis script cache.
// This should be called once during initialization. The go-redis library
// handles transparent reloading if scripts are evicted from the cache.
func (sl *scriptLoader) LoadAll(ctx context.Context) error {
	if err := sl.increment.Load(ctx, sl.client).Err(); err != nil {
		return fmt.Errorf("failed to load script %q: %w", "increment", err)
	}

	return nil
}
