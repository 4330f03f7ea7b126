package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/eyalp7/SyncSphere/internal/model"
)

// FriendRepository 好友请求与好友关系
type FriendRepository interface {
	CreateRequest(ctx context.Context, fr *model.FriendRequest) error
	GetRequest(ctx context.Context, id int64) (*model.FriendRequest, error)
	// FindPending 查找 from -> to 的待处理请求
	FindPending(ctx context.Context, fromUserID, toUserID int64) (*model.FriendRequest, error)
	SetStatus(ctx context.Context, id int64, status string) error
	ListIncoming(ctx context.Context, userID int64) ([]*model.FriendRequest, error)

	// AddPair 写入双向好友关系，重复写入不报错
	AddPair(ctx context.Context, userID, friendID int64) error
	// RemovePair 删除双向关系，返回删除行数
	RemovePair(ctx context.Context, userID, friendID int64) (int64, error)
	AreFriends(ctx context.Context, userID, friendID int64) (bool, error)
	ListFriendIDs(ctx context.Context, userID int64) ([]int64, error)
}

type friendRepository struct{ db *gorm.DB }

func NewFriendRepository(db *gorm.DB) FriendRepository { return &friendRepository{db: db} }

func (r *friendRepository) CreateRequest(ctx context.Context, fr *model.FriendRequest) error {
	if fr.Status == "" {
		fr.Status = model.RequestPending
	}
	return r.db.WithContext(ctx).Create(fr).Error
}

func (r *friendRepository) GetRequest(ctx context.Context, id int64) (*model.FriendRequest, error) {
	var fr model.FriendRequest
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&fr).Error; err != nil {
		return nil, notFound(err)
	}
	return &fr, nil
}

func (r *friendRepository) FindPending(ctx context.Context, fromUserID, toUserID int64) (*model.FriendRequest, error) {
	var fr model.FriendRequest
	err := r.db.WithContext(ctx).
		Where("from_user_id = ? AND to_user_id = ? AND status = ?", fromUserID, toUserID, model.RequestPending).
		First(&fr).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &fr, nil
}

func (r *friendRepository) SetStatus(ctx context.Context, id int64, status string) error {
	return r.db.WithContext(ctx).
		Model(&model.FriendRequest{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (r *friendRepository) ListIncoming(ctx context.Context, userID int64) ([]*model.FriendRequest, error) {
	var res []*model.FriendRequest
	err := r.db.WithContext(ctx).
		Where("to_user_id = ? AND status = ?", userID, model.RequestPending).
		Order("created_at").
		Find(&res).Error
	return res, err
}

func (r *friendRepository) AddPair(ctx context.Context, userID, friendID int64) error {
	now := time.Now()
	pair := []model.Friendship{
		{UserID: userID, FriendID: friendID, CreatedAt: now},
		{UserID: friendID, FriendID: userID, CreatedAt: now},
	}
	// 幂等：已是好友不报错
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&pair).Error
}

func (r *friendRepository) RemovePair(ctx context.Context, userID, friendID int64) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("(user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)", userID, friendID, friendID, userID).
		Delete(&model.Friendship{})
	return res.RowsAffected, res.Error
}

func (r *friendRepository) AreFriends(ctx context.Context, userID, friendID int64) (bool, error) {
	var cnt int64
	if err := r.db.WithContext(ctx).
		Model(&model.Friendship{}).
		Where("user_id = ? AND friend_id = ?", userID, friendID).
		Count(&cnt).Error; err != nil {
		return false, err
	}
	return cnt > 0, nil
}

func (r *friendRepository) ListFriendIDs(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.Friendship{}).
		Where("user_id = ?", userID).
		Order("friend_id").
		Pluck("friend_id", &ids).Error
	return ids, err
}
