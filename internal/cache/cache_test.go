package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	Code string `json:"code"`
}

func newCaches(t *testing.T) map[string]Cache[[]item] {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]Cache[[]item]{
		"memory": NewMemory[[]item](),
		"redis":  NewRedis[[]item](client, "statuses"),
	}
}

func TestReadThroughInvalidation(t *testing.T) {
	for name, c := range newCaches(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			loads := 0
			data := []item{{Code: "new"}}
			load := func(context.Context) ([]item, error) {
				loads++
				return append([]item(nil), data...), nil
			}

			first, err := ReadThrough(ctx, c, "list", time.Minute, load)
			require.NoError(t, err)
			second, err := ReadThrough(ctx, c, "list", time.Minute, load)
			require.NoError(t, err)
			assert.Equal(t, 1, loads, "second read must hit")
			assert.Equal(t, first, second)

			data = append(data, item{Code: "in_work"})
			require.NoError(t, c.InvalidateAll(ctx))

			afterWrite, err := ReadThrough(ctx, c, "list", time.Minute, load)
			require.NoError(t, err)
			assert.Equal(t, 2, loads, "read after a write must miss")
			again, err := ReadThrough(ctx, c, "list", time.Minute, load)
			require.NoError(t, err)
			assert.Equal(t, 2, loads, "read after the miss must hit")
			assert.Equal(t, afterWrite, again)
			assert.Len(t, again, 2)
		})
	}
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	c := NewMemory[string]()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", "v", time.Second))
	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	now = now.Add(2 * time.Second)
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestRedisNamespacesAreIndependent(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	statuses := NewRedis[string](client, "statuses")
	templates := NewRedis[string](client, "templates")
	require.NoError(t, statuses.Set(ctx, "list", "s", time.Minute))
	require.NoError(t, templates.Set(ctx, "list", "t", time.Minute))

	require.NoError(t, statuses.InvalidateAll(ctx))

	_, ok, err := statuses.Get(ctx, "list")
	require.NoError(t, err)
	assert.False(t, ok)
	v, ok, err := templates.Get(ctx, "list")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "t", v)
}
