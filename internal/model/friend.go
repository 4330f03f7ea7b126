package model

import "time"

// 好友请求状态
const (
	RequestPending  = "pending"
	RequestAccepted = "accepted"
	RequestRejected = "rejected"
)

// FriendRequest 好友请求（A -> B）
type FriendRequest struct {
	ID         int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	FromUserID int64     `json:"from_user_id" gorm:"index:idx_request_pair;not null"`
	ToUserID   int64     `json:"to_user_id" gorm:"index:idx_request_pair;index:idx_request_to;not null"`
	Status     string    `json:"status" gorm:"type:varchar(16);index:idx_request_to;not null;default:pending"`
	CreatedAt  time.Time `json:"created_at"`
}

func (FriendRequest) TableName() string { return "friend_requests" }

// Friendship 好友关系，双向各存一行
type Friendship struct {
	ID       int64 `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID   int64 `json:"user_id" gorm:"index:idx_friendship_pair,unique;not null"`
	FriendID int64 `json:"friend_id" gorm:"index:idx_friendship_pair,unique;not null"`
	// 复合唯一键，重复接受请求不会产生重复行
	// idx_friendship_pair = (user_id, friend_id)
	CreatedAt time.Time `json:"created_at"`
}

func (Friendship) TableName() string { return "friendships" }
