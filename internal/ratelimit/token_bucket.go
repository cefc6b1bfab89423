// Package ratelimit throttles transition requests per caller.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter decides whether the caller identified by key may proceed.
// It reports the tokens left after the decision.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, float64, error)
}

// TokenBucket implements a distributed token bucket rate limiter using Redis.
type TokenBucket struct {
	client   *redis.Client
	prefix   string
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenBucket constructs a bucket with the provided capacity/refill.
// Keys are stored under prefix.
func NewTokenBucket(client *redis.Client, prefix string, capacity int, refillPerSecond float64, ttl time.Duration) *TokenBucket {
	return &TokenBucket{
		client:   client,
		prefix:   prefix,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Allow consumes a single token for the given key if available.
func (b *TokenBucket) Allow(ctx context.Context, key string) (bool, float64, error) {
	res, err := bucketScript.Run(ctx, b.client, []string{b.prefix + key}, b.capacity, b.refill, b.now().UnixMilli(), b.ttl.Milliseconds()).Result()
	if err != nil {
		return false, 0, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return false, 0, fmt.Errorf("unexpected reply from bucket script: %T", res)
	}
	allowed, _ := arr[0].(int64)
	var tokens float64
	switch v := arr[1].(type) {
	case int64:
		tokens = float64(v)
	case float64:
		tokens = v
	}
	return allowed == 1, tokens, nil
}

// Lua numbers returned to Redis are truncated to integers, so the script
// reports whole tokens left.
var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2]) -- tokens per second
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
local add = delta / 1000 * refill
tokens = math.min(capacity, tokens + add)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tokens}
`)

type bucket struct {
	tokens float64
	last   time.Time
}

// Memory is a process-local token bucket for single-instance deployments.
type Memory struct {
	mu       sync.Mutex
	capacity int
	refill   float64
	buckets  map[string]*bucket
	now      func() time.Time
}

// NewMemory builds a local limiter.
func NewMemory(capacity int, refillPerSecond float64) *Memory {
	return &Memory{
		capacity: capacity,
		refill:   refillPerSecond,
		buckets:  make(map[string]*bucket),
		now:      time.Now,
	}
}

func (m *Memory) Allow(_ context.Context, key string) (bool, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(m.capacity), last: now}
		m.buckets[key] = b
	}
	if elapsed := now.Sub(b.last); elapsed > 0 {
		b.tokens = math.Min(float64(m.capacity), b.tokens+elapsed.Seconds()*m.refill)
	}
	b.last = now
	if b.tokens < 1 {
		return false, b.tokens, nil
	}
	b.tokens--
	return true, b.tokens, nil
}
