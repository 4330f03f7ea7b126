package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/eyalp7/SyncSphere/internal/event"
	"github.com/eyalp7/SyncSphere/internal/model"
)

// Outbox stores pending events in the regional's own database. With
// EnqueueTx the event row commits in the same transaction as the mutation.
type Outbox struct {
	db *gorm.DB
}

func NewOutbox(db *gorm.DB) *Outbox { return &Outbox{db: db} }

func (q *Outbox) Enqueue(ctx context.Context, ev event.Event) error {
	return q.EnqueueTx(q.db.WithContext(ctx), ev)
}

func (q *Outbox) EnqueueTx(tx *gorm.DB, ev event.Event) error {
	raw, err := event.Encode(ev)
	if err != nil {
		return err
	}
	row := &model.OutboxEvent{Kind: string(ev.Kind()), Body: raw, CreatedAt: time.Now()}
	if err := tx.Create(row).Error; err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func (q *Outbox) Drain(ctx context.Context) ([]json.RawMessage, error) {
	var rows []model.OutboxEvent
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Order("seq").Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		seqs := make([]int64, len(rows))
		for i, r := range rows {
			seqs[i] = r.Seq
		}
		return tx.Where("seq IN ?", seqs).Delete(&model.OutboxEvent{}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("drain outbox: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	out := make([]json.RawMessage, len(rows))
	for i, r := range rows {
		out[i] = json.RawMessage(r.Body)
	}
	return out, nil
}

// Requeue inserts the batch with sequence numbers below every queued row.
func (q *Outbox) Requeue(ctx context.Context, batch []json.RawMessage) error {
	if len(batch) == 0 {
		return nil
	}
	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var head int64
		if err := tx.Model(&model.OutboxEvent{}).Select("COALESCE(MIN(seq), 0)").Row().Scan(&head); err != nil {
			return err
		}
		// 自增序号均为正数，回退的事件使用负序号，且不能为 0（零值会被当作自增）
		if head > 0 {
			head = 0
		}
		base := head - int64(len(batch))
		rows := make([]model.OutboxEvent, len(batch))
		for i, raw := range batch {
			rows[i] = model.OutboxEvent{Seq: base + int64(i), Kind: kindOf(raw), Body: raw, CreatedAt: time.Now()}
		}
		return tx.Create(&rows).Error
	})
}

func (q *Outbox) Len(ctx context.Context) (int, error) {
	var n int64
	err := q.db.WithContext(ctx).Model(&model.OutboxEvent{}).Count(&n).Error
	return int(n), err
}

func kindOf(raw json.RawMessage) string {
	var head struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(raw, &head)
	return head.Type
}
