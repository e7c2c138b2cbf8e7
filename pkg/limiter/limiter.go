// Package limiter implements the distributed concurrency gate bounding how
// many sandbox runs execute at once across the process fleet. Acquiring a
// slot blocks for a bounded wait governed by a token-bucket backpressure
// curve before giving up with a non-retryable error.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// ErrBackpressure is returned when a caller could not acquire a sandbox
// slot within the configured wait budget. It is never retry-eligible —
// callers surface it to the client rather than feeding it back into the
// pipeline's attempt loop.
var ErrBackpressure = errors.New("limiter: sandbox concurrency cap exceeded")

// acquireScript atomically checks the current number of held slots against
// the cap and increments it if there is room. The counter key expires on
// every successful acquire so a holder that crashes without releasing
// cannot wedge the gate shut forever.
var acquireScript = redis.NewScript(`
local key = KEYS[1]
local cap = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key))
if not current then
    current = 0
end

if current >= cap then
    return 0
end

redis.call("INCR", key)
redis.call("EXPIRE", key, ttl)
return 1
`)

// releaseScript decrements the held-slot counter, floored at zero so a
// duplicate or stray release can never drive the count negative and
// over-admit future callers.
var releaseScript = redis.NewScript(`
local key = KEYS[1]
local current = tonumber(redis.call("GET", key))
if not current or current <= 0 then
    return 0
end
return redis.call("DECR", key)
`)

// Gate bounds the number of concurrently live sandboxes across the fleet.
type Gate struct {
	client   *redis.Client
	key      string
	capacity int
	slotTTL  time.Duration
	waiter   *rate.Limiter
	maxWait  time.Duration
}

// New builds a Gate backed by client, admitting at most capacity concurrent
// holders under key. waiter governs the retry curve a blocked caller rides
// while no slot is free; maxWait bounds how long a caller waits before
// receiving ErrBackpressure.
func New(client *redis.Client, key string, capacity int, waiter *rate.Limiter, maxWait time.Duration) *Gate {
	return &Gate{
		client:   client,
		key:      key,
		capacity: capacity,
		slotTTL:  2 * time.Minute,
		waiter:   waiter,
		maxWait:  maxWait,
	}
}

// Acquire blocks until a slot is available, the wait budget is exhausted, or
// ctx is cancelled. On success it returns a release func the caller must
// invoke exactly once, typically via defer.
func (g *Gate) Acquire(ctx context.Context) (func(context.Context) error, error) {
	deadline := time.Now().Add(g.maxWait)

	for {
		ok, err := g.tryAcquire(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			return g.release, nil
		}

		if time.Now().After(deadline) {
			return nil, ErrBackpressure
		}

		if err := g.waiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("limiter: wait cancelled: %w", err)
		}
	}
}

func (g *Gate) tryAcquire(ctx context.Context) (bool, error) {
	res, err := acquireScript.Run(ctx, g.client, []string{g.key}, g.capacity, int(g.slotTTL.Seconds())).Result()
	if err != nil {
		return false, fmt.Errorf("limiter: acquire: %w", err)
	}
	allowed, _ := res.(int64)
	return allowed == 1, nil
}

func (g *Gate) release(ctx context.Context) error {
	if _, err := releaseScript.Run(ctx, g.client, []string{g.key}).Result(); err != nil {
		return fmt.Errorf("limiter: release: %w", err)
	}
	return nil
}
