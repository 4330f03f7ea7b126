package model

import "time"

// OutboxEvent 待发往 hub 的同步事件；Body 为编码后的事件 JSON，写入后不可变
type OutboxEvent struct {
	Seq       int64     `gorm:"primaryKey;autoIncrement"`
	Kind      string    `gorm:"type:varchar(32);index:idx_outbox_kind"`
	Body      []byte    `gorm:"not null"`
	CreatedAt time.Time `gorm:"index"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }
