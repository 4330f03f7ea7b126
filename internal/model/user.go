package model

import "time"

// DefaultStorageQuota 1 GiB
const DefaultStorageQuota int64 = 1 << 30

// User 用户；ID 在各区域间保持一致，同步时按 ID upsert
type User struct {
	ID           int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Username     string    `json:"username" gorm:"type:varchar(80);uniqueIndex;not null"`
	Email        string    `json:"email" gorm:"type:varchar(120);uniqueIndex;not null"`
	PasswordHash string    `json:"-" gorm:"type:varchar(128);not null;default:''"`
	CreatedAt    time.Time `json:"created_at"`
	UsedStorage  int64     `json:"used_storage" gorm:"not null;default:0"`
	StorageQuota int64     `json:"storage_quota" gorm:"not null;default:1073741824"`
}

func (User) TableName() string { return "users" }
