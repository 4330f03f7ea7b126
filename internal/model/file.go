package model

import "time"

// 文件可见性
const (
	PermissionPrivate = "private"
	PermissionShared  = "shared"
	PermissionPublic  = "public"
)

// ValidPermission reports whether p is one of the known visibility levels.
func ValidPermission(p string) bool {
	switch p {
	case PermissionPrivate, PermissionShared, PermissionPublic:
		return true
	}
	return false
}

// File 文件元数据，内容保存在上传目录下的 StoredFilename
type File struct {
	ID               int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID           int64     `json:"user_id" gorm:"index:idx_file_user;not null"`
	StoredFilename   string    `json:"stored_filename" gorm:"type:varchar(128);not null"`
	OriginalFilename string    `json:"original_filename" gorm:"type:varchar(128);not null"`
	UploadDate       time.Time `json:"upload_date"`
	FileSize         int64     `json:"file_size"`
	Permissions      string    `json:"permissions" gorm:"type:varchar(32);not null;default:private"`
}

func (File) TableName() string { return "files" }
