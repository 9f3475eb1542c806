package cache_test

import (
	"context"
	"testing"
	"time"

	"taskrouter/backend/internal/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := cache.NewRedisCache(&cache.Config{Addr: mr.Addr()})
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestSetGetRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	value := payload{Name: "inbox", Count: 3}
	require.NoError(t, c.Set(ctx, "key", value, time.Minute))

	var got payload
	require.NoError(t, c.Get(ctx, "key", &got))
	assert.Equal(t, value, got)
}

func TestGetMiss(t *testing.T) {
	c, _ := newTestCache(t)

	var got payload
	err := c.Get(context.Background(), "absent", &got)
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestDelete(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", payload{}, time.Minute))
	require.NoError(t, c.Set(ctx, "b", payload{}, time.Minute))
	require.NoError(t, c.Delete(ctx, "a", "b"))

	var got payload
	assert.ErrorIs(t, c.Get(ctx, "a", &got), cache.ErrCacheMiss)
	assert.ErrorIs(t, c.Get(ctx, "b", &got), cache.ErrCacheMiss)
}

func TestDeletePattern(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "inbox:1", payload{}, time.Minute))
	require.NoError(t, c.Set(ctx, "inbox:2", payload{}, time.Minute))
	require.NoError(t, c.Set(ctx, "task:1", payload{}, time.Minute))

	require.NoError(t, c.DeletePattern(ctx, "inbox:*"))

	var got payload
	assert.ErrorIs(t, c.Get(ctx, "inbox:1", &got), cache.ErrCacheMiss)
	assert.NoError(t, c.Get(ctx, "task:1", &got))
}

func TestExpiration(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", payload{Name: "gone soon"}, time.Second))
	mr.FastForward(2 * time.Second)

	var got payload
	assert.ErrorIs(t, c.Get(ctx, "short", &got), cache.ErrCacheMiss)
}

func TestHealth(t *testing.T) {
	c, mr := newTestCache(t)

	assert.NoError(t, c.Health(context.Background()))
	mr.Close()
	assert.Error(t, c.Health(context.Background()))
}
