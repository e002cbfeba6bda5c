package urnhistory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	cache, err := OpenCache(filepath.Join(t.TempDir(), "urns.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestCacheRoundTrip(t *testing.T) {
	cache := openTestCache(t)
	ctx := context.Background()

	owners, err := cache.Owners(ctx, "ETH-A")
	require.NoError(t, err)
	require.Empty(t, owners)

	_, ok, err := cache.Watermark(ctx, "ETH-A")
	require.NoError(t, err)
	require.False(t, ok)

	a := common.Address{19: 1}
	b := common.Address{19: 2}
	require.NoError(t, cache.AddOwners(ctx, "ETH-A", []common.Address{a, b}, 100))

	owners, err = cache.Owners(ctx, "ETH-A")
	require.NoError(t, err)
	require.ElementsMatch(t, []common.Address{a, b}, owners)

	mark, ok, err := cache.Watermark(ctx, "ETH-A")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(100), mark)
}

func TestCacheDeduplicatesOwners(t *testing.T) {
	cache := openTestCache(t)
	ctx := context.Background()

	a := common.Address{19: 1}
	require.NoError(t, cache.AddOwners(ctx, "ETH-A", []common.Address{a}, 100))
	require.NoError(t, cache.AddOwners(ctx, "ETH-A", []common.Address{a}, 200))

	owners, err := cache.Owners(ctx, "ETH-A")
	require.NoError(t, err)
	require.Len(t, owners, 1)

	mark, ok, err := cache.Watermark(ctx, "ETH-A")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(200), mark)
}

func TestCacheSeparatesIlks(t *testing.T) {
	cache := openTestCache(t)
	ctx := context.Background()

	a := common.Address{19: 1}
	require.NoError(t, cache.AddOwners(ctx, "ETH-A", []common.Address{a}, 50))

	owners, err := cache.Owners(ctx, "BAT-A")
	require.NoError(t, err)
	require.Empty(t, owners)

	_, ok, err := cache.Watermark(ctx, "BAT-A")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCacheSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urns.db")
	ctx := context.Background()

	first, err := OpenCache(path)
	require.NoError(t, err)
	a := common.Address{19: 7}
	require.NoError(t, first.AddOwners(ctx, "ETH-A", []common.Address{a}, 123))
	require.NoError(t, first.Close())

	second, err := OpenCache(path)
	require.NoError(t, err)
	defer second.Close()

	owners, err := second.Owners(ctx, "ETH-A")
	require.NoError(t, err)
	require.Equal(t, []common.Address{a}, owners)

	mark, ok, err := second.Watermark(ctx, "ETH-A")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(123), mark)
}
