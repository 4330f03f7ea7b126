package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/eyalp7/SyncSphere/internal/event"
)

// Redis keeps the queue in a Redis list so it survives agent restarts.
// Producers RPUSH; a drain reads and deletes the list in one MULTI.
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis builds a queue on key "syncsphere:outbound:<region>".
func NewRedis(client *redis.Client, region string) *Redis {
	return &Redis{client: client, key: "syncsphere:outbound:" + region}
}

func (q *Redis) Key() string { return q.key }

func (q *Redis) Enqueue(ctx context.Context, ev event.Event) error {
	raw, err := event.Encode(ev)
	if err != nil {
		return err
	}
	if err := q.client.RPush(ctx, q.key, []byte(raw)).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", q.key, err)
	}
	return nil
}

func (q *Redis) Drain(ctx context.Context) ([]json.RawMessage, error) {
	var lr *redis.StringSliceCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lr = pipe.LRange(ctx, q.key, 0, -1)
		pipe.Del(ctx, q.key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("drain %s: %w", q.key, err)
	}
	vals := lr.Val()
	if len(vals) == 0 {
		return nil, nil
	}
	out := make([]json.RawMessage, len(vals))
	for i, v := range vals {
		out[i] = json.RawMessage(v)
	}
	return out, nil
}

func (q *Redis) Requeue(ctx context.Context, batch []json.RawMessage) error {
	if len(batch) == 0 {
		return nil
	}
	// LPUSH 逐个插到表头，所以倒序传入以保持原顺序
	vals := make([]interface{}, len(batch))
	for i, raw := range batch {
		vals[len(batch)-1-i] = []byte(raw)
	}
	if err := q.client.LPush(ctx, q.key, vals...).Err(); err != nil {
		return fmt.Errorf("requeue %s: %w", q.key, err)
	}
	return nil
}

func (q *Redis) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	return int(n), err
}
