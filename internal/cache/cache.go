// Package cache provides namespace-scoped TTL caches for read-mostly
// collections. Invalidation is coarse: a write to the collection drops the
// whole namespace.
package cache

import (
	"context"
	"time"
)

// Cache is one namespace of keyed values with per-entry TTL.
type Cache[V any] interface {
	Get(ctx context.Context, key string) (V, bool, error)
	Set(ctx context.Context, key string, value V, ttl time.Duration) error
	InvalidateAll(ctx context.Context) error
}

// ReadThrough returns the cached value for key or loads, stores and returns
// it. Cache failures degrade to a load; misses are never cached negatively.
func ReadThrough[V any](ctx context.Context, c Cache[V], key string, ttl time.Duration, load func(context.Context) (V, error)) (V, error) {
	if c != nil {
		if v, ok, err := c.Get(ctx, key); err == nil && ok {
			return v, nil
		}
	}
	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	if c != nil {
		_ = c.Set(ctx, key, v, ttl)
	}
	return v, nil
}
