// Package cache 好友列表的 Redis 旁路缓存
package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// FriendLists 按用户缓存好友 ID 列表。nil 的 *FriendLists 不缓存，直接回源。
type FriendLists struct {
	rdb *redis.Client
	ttl time.Duration

	hits  atomic.Int64
	loads atomic.Int64
}

func NewFriendLists(rdb *redis.Client, ttl time.Duration) *FriendLists {
	return &FriendLists{rdb: rdb, ttl: ttl}
}

// Key Redis list key of one user's friend IDs.
func Key(userID int64) string { return fmt.Sprintf("friends:ids:%d", userID) }

// IDs 命中时走 LRANGE，未命中时调用 load 并回填。
// 空列表不缓存；Redis 出错时退化为直接回源。
func (c *FriendLists) IDs(ctx context.Context, userID int64, load func(context.Context) ([]int64, error)) ([]int64, error) {
	if c == nil {
		return load(ctx)
	}
	key := Key(userID)
	if vals, err := c.rdb.LRange(ctx, key, 0, -1).Result(); err == nil && len(vals) > 0 {
		if ids, ok := parseIDs(vals); ok {
			c.hits.Add(1)
			return ids, nil
		}
	}

	c.loads.Add(1)
	ids, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		members := make([]interface{}, len(ids))
		for i, id := range ids {
			members[i] = strconv.FormatInt(id, 10)
		}
		pipe := c.rdb.Pipeline()
		pipe.Del(ctx, key)
		pipe.RPush(ctx, key, members...)
		pipe.Expire(ctx, key, c.ttl)
		_, _ = pipe.Exec(ctx)
	}
	return ids, nil
}

// Invalidate 好友关系变化后删除相关用户的缓存
func (c *FriendLists) Invalidate(ctx context.Context, userIDs ...int64) error {
	if c == nil || len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = Key(id)
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// Counters reports cache hits and loads from the primary store.
func (c *FriendLists) Counters() FriendListCounters {
	if c == nil {
		return FriendListCounters{}
	}
	return FriendListCounters{Hits: c.hits.Load(), Loads: c.loads.Load()}
}

// ResetCounters clears recorded counters.
func (c *FriendLists) ResetCounters() {
	if c == nil {
		return
	}
	c.hits.Store(0)
	c.loads.Store(0)
}

type FriendListCounters struct {
	Hits  int64 `json:"hits"`
	Loads int64 `json:"loads"`
}

func parseIDs(vals []string) ([]int64, bool) {
	ids := make([]int64, len(vals))
	for i, v := range vals {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, false
		}
		ids[i] = id
	}
	return ids, true
}
