// Package queue holds the regional outbound queue: every local mutation
// enqueues one event, and the agent drains the whole queue into one batch
// whenever the hub solicits changes.
package queue

import (
	"context"
	"encoding/json"

	"gorm.io/gorm"

	"github.com/eyalp7/SyncSphere/internal/event"
)

// Queue is an unbounded FIFO of encoded events. Events are encoded on
// Enqueue, so later changes to the caller's values cannot leak into a batch.
type Queue interface {
	Enqueue(ctx context.Context, ev event.Event) error
	// Drain removes and returns everything queued at the moment of the call,
	// oldest first. It never waits; an empty queue yields an empty slice.
	Drain(ctx context.Context) ([]json.RawMessage, error)
	// Requeue puts a drained batch back in front of anything queued since.
	Requeue(ctx context.Context, batch []json.RawMessage) error
	Len(ctx context.Context) (int, error)
}

// TxEnqueuer is implemented by queues that can join the caller's database
// transaction, so the mutation and its event commit together.
type TxEnqueuer interface {
	EnqueueTx(tx *gorm.DB, ev event.Event) error
}
