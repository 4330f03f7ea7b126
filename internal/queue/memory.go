package queue

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/eyalp7/SyncSphere/internal/event"
)

// Memory is the in-process queue. Contents are lost on restart.
type Memory struct {
	mu    sync.Mutex
	items []json.RawMessage
}

func NewMemory() *Memory { return &Memory{} }

func (q *Memory) Enqueue(_ context.Context, ev event.Event) error {
	raw, err := event.Encode(ev)
	if err != nil {
		return err
	}
	q.mu.Lock()
	q.items = append(q.items, raw)
	q.mu.Unlock()
	return nil
}

func (q *Memory) Drain(_ context.Context) ([]json.RawMessage, error) {
	q.mu.Lock()
	out := q.items
	q.items = nil
	q.mu.Unlock()
	return out, nil
}

func (q *Memory) Requeue(_ context.Context, batch []json.RawMessage) error {
	if len(batch) == 0 {
		return nil
	}
	q.mu.Lock()
	merged := make([]json.RawMessage, 0, len(batch)+len(q.items))
	merged = append(merged, batch...)
	q.items = append(merged, q.items...)
	q.mu.Unlock()
	return nil
}

func (q *Memory) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}
