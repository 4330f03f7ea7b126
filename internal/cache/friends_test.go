package cache

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

func newCache(t *testing.T) (*FriendLists, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewFriendLists(rdb, time.Minute), mr
}

func TestFriendListsCacheAside(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()

	calls := 0
	load := func(context.Context) ([]int64, error) {
		calls++
		return []int64{3, 1, 2}, nil
	}

	ids, err := c.IDs(ctx, 7, load)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 2}, ids)

	ids, err = c.IDs(ctx, 7, load)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 2}, ids)
	assert.Equal(t, 1, calls)
	assert.Equal(t, FriendListCounters{Hits: 1, Loads: 1}, c.Counters())
	assert.True(t, mr.Exists(Key(7)))
	assert.Equal(t, time.Minute, mr.TTL(Key(7)))

	require.NoError(t, c.Invalidate(ctx, 7, 8))
	assert.False(t, mr.Exists(Key(7)))
	_, err = c.IDs(ctx, 7, load)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestFriendListsEmptyNotCached(t *testing.T) {
	c, mr := newCache(t)
	ids, err := c.IDs(context.Background(), 1, func(context.Context) ([]int64, error) { return nil, nil })
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.False(t, mr.Exists(Key(1)))
}

func TestFriendListsLoadError(t *testing.T) {
	c, _ := newCache(t)
	boom := errors.New("boom")
	_, err := c.IDs(context.Background(), 1, func(context.Context) ([]int64, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
}

func TestFriendListsRedisDownFallsBack(t *testing.T) {
	c, mr := newCache(t)
	mr.Close()
	ids, err := c.IDs(context.Background(), 1, func(context.Context) ([]int64, error) { return []int64{9}, nil })
	require.NoError(t, err)
	assert.Equal(t, []int64{9}, ids)
}

func TestNilFriendListsPassesThrough(t *testing.T) {
	var c *FriendLists
	ids, err := c.IDs(context.Background(), 1, func(context.Context) ([]int64, error) { return []int64{4}, nil })
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, ids)
	assert.NoError(t, c.Invalidate(context.Background(), 1))
	assert.Equal(t, FriendListCounters{}, c.Counters())
}
