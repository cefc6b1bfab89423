package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores a namespace in Redis. Invalidation bumps a generation
// counter so every key written under the previous generation becomes
// unreachable in one round trip; stale keys age out through their TTL.
type Redis[V any] struct {
	client    *redis.Client
	namespace string
}

// NewRedis builds a cache for namespace on client.
func NewRedis[V any](client *redis.Client, namespace string) *Redis[V] {
	return &Redis[V]{client: client, namespace: namespace}
}

func (r *Redis[V]) genKey() string {
	return fmt.Sprintf("cache:%s:gen", r.namespace)
}

func (r *Redis[V]) dataKey(gen int64, key string) string {
	return fmt.Sprintf("cache:%s:%d:%s", r.namespace, gen, key)
}

func (r *Redis[V]) generation(ctx context.Context) (int64, error) {
	gen, err := r.client.Get(ctx, r.genKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (r *Redis[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	gen, err := r.generation(ctx)
	if err != nil {
		return zero, false, err
	}
	raw, err := r.client.Get(ctx, r.dataKey(gen, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return v, true, nil
}

func (r *Redis[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	gen, err := r.generation(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cached %s: %w", key, err)
	}
	return r.client.Set(ctx, r.dataKey(gen, key), raw, ttl).Err()
}

func (r *Redis[V]) InvalidateAll(ctx context.Context) error {
	return r.client.Incr(ctx, r.genKey()).Err()
}
