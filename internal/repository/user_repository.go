package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/eyalp7/SyncSphere/internal/model"
)

// UserRepository 用户仓储接口
type UserRepository interface {
	// Create 本地注册，ID 由数据库分配
	Create(ctx context.Context, u *model.User) error

	// Upsert 按 ID 插入或更新；PasswordHash 为空时保留原值
	Upsert(ctx context.Context, u *model.User) error

	// GetByID 查询用户，不存在返回 ErrNotFound
	GetByID(ctx context.Context, id int64) (*model.User, error)

	// FindByUsernameOrEmail 注册查重
	FindByUsernameOrEmail(ctx context.Context, username, email string) (*model.User, error)

	// AddUsedStorage 调整已用空间，结果不低于 0；用户不存在时不做任何事
	AddUsedStorage(ctx context.Context, userID, delta int64) error
}

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository { return &userRepository{db: db} }

func (r *userRepository) Create(ctx context.Context, u *model.User) error {
	return r.db.WithContext(ctx).Create(u).Error
}

func (r *userRepository) Upsert(ctx context.Context, u *model.User) error {
	cols := []string{"username", "email"}
	if u.PasswordHash != "" {
		cols = append(cols, "password_hash")
	}
	// 幂等：重复同步同一用户只会覆盖同名字段
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(cols),
	}).Create(u).Error
}

func (r *userRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (r *userRepository) FindByUsernameOrEmail(ctx context.Context, username, email string) (*model.User, error) {
	var u model.User
	err := r.db.WithContext(ctx).
		Where("username = ? OR email = ?", username, email).
		First(&u).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (r *userRepository) AddUsedStorage(ctx context.Context, userID, delta int64) error {
	if delta == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID).
		Update("used_storage", gorm.Expr("CASE WHEN used_storage + ? < 0 THEN 0 ELSE used_storage + ? END", delta, delta)).Error
}
