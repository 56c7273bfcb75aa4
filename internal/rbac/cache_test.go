package rbac

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute), mr
}

func TestCacheHeldPopulatesOnMiss(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()
	calls := 0
	loader := func(context.Context) ([]int64, error) {
		calls++
		return []int64{500, 600}, nil
	}

	codes, err := cache.Held(ctx, 42, loader)
	require.NoError(t, err)
	assert.Equal(t, []int64{500, 600}, codes)

	codes, err = cache.Held(ctx, 42, loader)
	require.NoError(t, err)
	assert.Equal(t, []int64{500, 600}, codes)
	assert.Equal(t, 1, calls)

	assert.True(t, mr.Exists("rbac:held:42:1"))
	assert.Equal(t, time.Minute, mr.TTL("rbac:held:42:1"))
}

func TestCacheBumpOrphansEntries(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	calls := 0
	loader := func(context.Context) ([]int64, error) {
		calls++
		return []int64{int64(calls)}, nil
	}

	_, err := cache.Held(ctx, 1, loader)
	require.NoError(t, err)
	require.NoError(t, cache.Bump(ctx))

	ver, err := cache.Version(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, ver)

	codes, err := cache.Held(ctx, 1, loader)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, codes)
}

func TestCacheRefreshOverwrites(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	_, err := cache.Held(ctx, 5, func(context.Context) ([]int64, error) { return []int64{500}, nil })
	require.NoError(t, err)
	codes, err := cache.Refresh(ctx, 5, func(context.Context) ([]int64, error) { return []int64{700}, nil })
	require.NoError(t, err)
	assert.Equal(t, []int64{700}, codes)

	codes, err = cache.Held(ctx, 5, func(context.Context) ([]int64, error) {
		t.Fatal("loader must not run after Refresh")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{700}, codes)
}

func TestCacheRefreshRacingBumpIsNotServed(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	codes, err := cache.Refresh(ctx, 5, func(ctx context.Context) ([]int64, error) {
		// grants change and the version moves while the old set is in flight
		require.NoError(t, cache.Bump(ctx))
		return []int64{500}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{500}, codes)
	assert.True(t, mr.Exists("rbac:held:5:1"))
	assert.False(t, mr.Exists("rbac:held:5:2"))

	codes, err = cache.Held(ctx, 5, func(context.Context) ([]int64, error) { return []int64{500, 502}, nil })
	require.NoError(t, err)
	assert.Equal(t, []int64{500, 502}, codes)
}

func TestCacheRefreshKeepsLoaderErrors(t *testing.T) {
	cache, mr := newTestCache(t)
	boom := errors.New("db down")

	_, err := cache.Refresh(context.Background(), 5, func(context.Context) ([]int64, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("rbac:held:5:1"))
}

func TestNilCacheFallsThrough(t *testing.T) {
	var cache *Cache
	codes, err := cache.Held(context.Background(), 1, func(context.Context) ([]int64, error) {
		return []int64{1}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, codes)
	assert.NoError(t, cache.Bump(context.Background()))
	codes, err = cache.Refresh(context.Background(), 1, func(context.Context) ([]int64, error) {
		return []int64{2}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, codes)
}
