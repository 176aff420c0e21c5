package deduplication

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisCache(t *testing.T, ttl time.Duration) (*RedisEmbeddingCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := newRedisEmbeddingCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}), CacheConfig{TTL: ttl})
	t.Cleanup(func() { cache.Close() })
	return cache, mr
}

func TestRedisCacheHitAndMiss(t *testing.T) {
	cache, _ := newTestRedisCache(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, cache.Store(ctx, "m", []string{"alpha"}, [][]float32{{0.6, 0.8}}))

	got, err := cache.Lookup(ctx, "m", []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []float32{0.6, 0.8}, got[0])
	assert.Nil(t, got[1])

	got, err = cache.Lookup(ctx, "other-model", []string{"alpha"})
	require.NoError(t, err)
	assert.Nil(t, got[0], "keys are scoped by model")
}

func TestRedisCacheSkipsMalformedValues(t *testing.T) {
	cache, mr := newTestRedisCache(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, mr.Set(cache.key("m", "broken"), "abc"))
	require.NoError(t, cache.Store(ctx, "m", []string{"fine"}, [][]float32{{1}}))

	got, err := cache.Lookup(ctx, "m", []string{"broken", "fine"})
	require.NoError(t, err)
	assert.Nil(t, got[0])
	assert.Equal(t, []float32{1}, got[1])
}

func TestRedisCacheTTL(t *testing.T) {
	cache, mr := newTestRedisCache(t, time.Hour)
	ctx := context.Background()
	key := cache.key("m", "alpha")

	require.NoError(t, cache.Store(ctx, "m", []string{"alpha", "beta"}, [][]float32{{1}, {1}}))
	assert.Equal(t, time.Hour, mr.TTL(key))

	mr.FastForward(40 * time.Minute)
	_, err := cache.Lookup(ctx, "m", []string{"alpha"})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, mr.TTL(key), "a hit refreshes the TTL")

	mr.FastForward(40 * time.Minute)
	got, err := cache.Lookup(ctx, "m", []string{"alpha", "beta"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, got[0])
	assert.Nil(t, got[1], "an untouched entry expires")
}

func TestRedisCacheStoreLengthMismatch(t *testing.T) {
	cache, _ := newTestRedisCache(t, time.Hour)
	err := cache.Store(context.Background(), "m", []string{"a", "b"}, [][]float32{{1}})
	assert.Error(t, err)
}

func TestNewRedisEmbeddingCacheConnects(t *testing.T) {
	mr := miniredis.RunT(t)
	cache, err := NewRedisEmbeddingCache(CacheConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	require.NoError(t, cache.Close())

	addr := mr.Addr()
	mr.Close()
	_, err = NewRedisEmbeddingCache(CacheConfig{Addr: addr})
	assert.Error(t, err)
}
