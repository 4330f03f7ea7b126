package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/eyalp7/SyncSphere/internal/event"
	"github.com/eyalp7/SyncSphere/internal/queue"
	"github.com/eyalp7/SyncSphere/pkg/logger"
)

// emitter 把本地写入和同步事件绑在一起：
// 队列支持事务（outbox）时在同一事务内落地事件，否则提交后入队。
type emitter struct {
	db    *gorm.DB
	queue queue.Queue
}

// commit 在事务内执行 fn，fn 返回需要同步的事件（nil 表示不同步）
func (e emitter) commit(ctx context.Context, fn func(tx *gorm.DB) (event.Payload, error)) error {
	txq, transactional := e.queue.(queue.TxEnqueuer)

	var ev *event.Event
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := fn(tx)
		if err != nil || p == nil {
			return err
		}
		built := event.New(p)
		ev = &built
		if transactional {
			return txq.EnqueueTx(tx, built)
		}
		return nil
	})
	if err != nil || ev == nil || transactional {
		return err
	}

	if err := e.queue.Enqueue(ctx, *ev); err != nil {
		// 本地已提交，事件丢失只影响其他区域
		logger.Error("enqueue sync event failed", zap.String("kind", string(ev.Kind())), zap.Error(err))
		return fmt.Errorf("enqueue %s: %w", ev.Kind(), err)
	}
	return nil
}
