package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/eyalp7/SyncSphere/internal/model"
)

// FileRepository 文件元数据仓储接口
type FileRepository interface {
	Create(ctx context.Context, f *model.File) error

	// Upsert 按 ID 插入或整行覆盖
	Upsert(ctx context.Context, f *model.File) error

	GetByID(ctx context.Context, id int64) (*model.File, error)

	// Delete 返回是否真的删除了记录
	Delete(ctx context.Context, id int64) (bool, error)

	// UpdatePermissions 返回记录是否存在
	UpdatePermissions(ctx context.Context, id int64, permissions string) (bool, error)

	ListByUser(ctx context.Context, userID int64) ([]*model.File, error)
}

type fileRepository struct{ db *gorm.DB }

func NewFileRepository(db *gorm.DB) FileRepository { return &fileRepository{db: db} }

func (r *fileRepository) Create(ctx context.Context, f *model.File) error {
	return r.db.WithContext(ctx).Create(f).Error
}

func (r *fileRepository) Upsert(ctx context.Context, f *model.File) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(f).Error
}

func (r *fileRepository) GetByID(ctx context.Context, id int64) (*model.File, error) {
	var f model.File
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&f).Error; err != nil {
		return nil, notFound(err)
	}
	return &f, nil
}

func (r *fileRepository) Delete(ctx context.Context, id int64) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.File{})
	return res.RowsAffected > 0, res.Error
}

func (r *fileRepository) UpdatePermissions(ctx context.Context, id int64, permissions string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.File{}).
		Where("id = ?", id).
		Update("permissions", permissions)
	return res.RowsAffected > 0, res.Error
}

func (r *fileRepository) ListByUser(ctx context.Context, userID int64) ([]*model.File, error) {
	var res []*model.File
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("upload_date DESC").Find(&res).Error
	return res, err
}
