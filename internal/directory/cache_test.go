package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute), mr
}

func TestCacheVersionBump(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	ver, err := cache.Version(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), ver)

	require.NoError(t, cache.Bump(ctx))
	ver, err = cache.Version(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), ver)
}

func TestCacheKeyChangesAfterBump(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	before, err := cache.BuildKey(ctx, keyUserList(ListFilter{Page: 1, PageSize: 20}))
	require.NoError(t, err)
	require.NoError(t, cache.Bump(ctx))
	after, err := cache.BuildKey(ctx, keyUserList(ListFilter{Page: 1, PageSize: 20}))
	require.NoError(t, err)
	require.NotEqual(t, before, after)
}

func TestCacheFetchJSON(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	calls := 0
	loader := func(ctx context.Context) (interface{}, error) {
		calls++
		return ListResult{Total: 7, Page: 1, PageSize: 20, Users: []UserAccount{}}, nil
	}

	key, err := cache.BuildKey(ctx, "directory", "users", "test")
	require.NoError(t, err)

	var first ListResult
	require.NoError(t, cache.FetchJSON(ctx, key, &first, loader))
	require.Equal(t, 7, first.Total)
	require.Equal(t, 1, calls)

	var second ListResult
	require.NoError(t, cache.FetchJSON(ctx, key, &second, loader))
	require.Equal(t, 7, second.Total)
	require.Equal(t, 1, calls, "second read must come from cache")
}

func TestCacheFetchJSONLoaderError(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	wantErr := errors.New("backend down")
	var out ListResult
	err := cache.FetchJSON(ctx, "missing", &out, func(ctx context.Context) (interface{}, error) {
		return nil, wantErr
	})
	require.ErrorIs(t, err, wantErr)
}

func TestCacheNilClientFallsThrough(t *testing.T) {
	var cache *Cache
	ctx := context.Background()

	var out ListResult
	require.NoError(t, cache.FetchJSON(ctx, "any", &out, func(ctx context.Context) (interface{}, error) {
		return ListResult{Total: 3}, nil
	}))
	require.Equal(t, 3, out.Total)
	require.NoError(t, cache.Bump(ctx))
}
