package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/mnemo/config"
	"github.com/BaSui01/mnemo/types"
)

func TestLocalCache_RoundTrip(t *testing.T) {
	c := NewEmbeddingCache(config.DefaultCacheConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	_, ok := c.Get(ctx, "hello")
	assert.False(t, ok)

	c.Set(ctx, "hello", types.Vector{0.1, 0.2})
	vec, ok := c.Get(ctx, "hello")
	require.True(t, ok)
	assert.Equal(t, types.Vector{0.1, 0.2}, vec)

	// Different text, different slot.
	_, ok = c.Get(ctx, "hello!")
	assert.False(t, ok)
}

func TestLocalCache_IgnoresEmptyVectors(t *testing.T) {
	c := NewEmbeddingCache(config.DefaultCacheConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	c.Set(ctx, "hello", nil)
	_, ok := c.Get(ctx, "hello")
	assert.False(t, ok)
}

func TestLocalCache_EvictsOldestAtBound(t *testing.T) {
	c := NewEmbeddingCache(config.CacheConfig{
		MaxEntries: 2,
		DefaultTTL: time.Minute,
	}, zaptest.NewLogger(t))
	ctx := context.Background()

	c.Set(ctx, "a", types.Vector{1})
	c.Set(ctx, "b", types.Vector{2})
	c.Set(ctx, "c", types.Vector{3})

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "b")
	assert.True(t, ok)
	_, ok = c.Get(ctx, "c")
	assert.True(t, ok)
}

func TestRedisCache_RoundTrip(t *testing.T) {
	srv := miniredis.RunT(t)

	c := NewEmbeddingCache(config.CacheConfig{
		Addr:       srv.Addr(),
		DefaultTTL: time.Minute,
		MaxEntries: 16,
	}, zaptest.NewLogger(t))
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))

	c.Set(ctx, "hello", types.Vector{0.5, -0.5})
	vec, ok := c.Get(ctx, "hello")
	require.True(t, ok)
	assert.Equal(t, types.Vector{0.5, -0.5}, vec)
}

func TestRedisCache_ExpiresWithTTL(t *testing.T) {
	srv := miniredis.RunT(t)

	c := NewEmbeddingCache(config.CacheConfig{
		Addr:       srv.Addr(),
		DefaultTTL: time.Second,
		MaxEntries: 16,
	}, zaptest.NewLogger(t))
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "hello", types.Vector{1})
	srv.FastForward(2 * time.Second)

	_, ok := c.Get(ctx, "hello")
	assert.False(t, ok)
}

func TestRedisCache_DropsCorruptEntries(t *testing.T) {
	srv := miniredis.RunT(t)

	c := NewEmbeddingCache(config.CacheConfig{
		Addr:       srv.Addr(),
		DefaultTTL: time.Minute,
		MaxEntries: 16,
	}, zaptest.NewLogger(t))
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, srv.Set(cacheKey("hello"), "not json"))

	_, ok := c.Get(ctx, "hello")
	assert.False(t, ok)
	assert.False(t, srv.Exists(cacheKey("hello")))
}
