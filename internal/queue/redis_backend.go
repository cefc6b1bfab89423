package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend coordinates ready, in-flight, and scheduled job ids in Redis.
type RedisBackend struct {
	client       *redis.Client
	readyKey     string
	inflightKey  string
	scheduledKey string
}

// NewRedisBackend builds a backend whose keys live under prefix.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "actions"
	}
	return &RedisBackend{
		client:       client,
		readyKey:     fmt.Sprintf("%s:ready", prefix),
		inflightKey:  fmt.Sprintf("%s:inflight", prefix),
		scheduledKey: fmt.Sprintf("%s:scheduled", prefix),
	}
}

// Push inserts an id into either the scheduled set or the ready list.
func (b *RedisBackend) Push(ctx context.Context, id string, runAt, now time.Time) error {
	if runAt.After(now) {
		return b.client.ZAdd(ctx, b.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: id}).Err()
	}
	return b.client.RPush(ctx, b.readyKey, id).Err()
}

// PromoteDue moves due scheduled ids into the ready list.
func (b *RedisBackend) PromoteDue(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	return b.moveDue(ctx, promoteScript, []string{b.scheduledKey, b.readyKey}, now, limit)
}

// Pop takes the head of the ready list and places it into inflight with a
// visibility deadline.
func (b *RedisBackend) Pop(ctx context.Context, leaseUntil time.Time) (string, error) {
	res, err := popScript.Run(ctx, b.client, []string{b.readyKey, b.inflightKey}, leaseUntil.UnixMilli()).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	id, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from pop script: %T", res)
	}
	return id, nil
}

// Extend pushes the visibility deadline forward for an in-flight id. Ids
// no longer in flight are left alone.
func (b *RedisBackend) Extend(ctx context.Context, id string, leaseUntil time.Time) error {
	return b.client.ZAddXX(ctx, b.inflightKey, redis.Z{Score: float64(leaseUntil.UnixMilli()), Member: id}).Err()
}

// Ack removes an id from in-flight tracking.
func (b *RedisBackend) Ack(ctx context.Context, id string) error {
	return b.client.ZRem(ctx, b.inflightKey, id).Err()
}

// ReclaimExpired removes leases that timed out and returns their ids. Each
// id is returned to at most one caller.
func (b *RedisBackend) ReclaimExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	return b.moveDue(ctx, reclaimScript, []string{b.inflightKey}, now, limit)
}

func (b *RedisBackend) moveDue(ctx context.Context, script *redis.Script, keys []string, now time.Time, limit int64) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	res, err := script.Run(ctx, b.client, keys, now.UnixMilli(), limit).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return res, err
}

var popScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if job then
  redis.call('ZADD', KEYS[2], ARGV[1], job)
  return job
end
return nil
`)

var promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('RPUSH', KEYS[2], id)
end
return ids
`)

var reclaimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
end
return ids
`)
