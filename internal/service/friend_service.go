package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/eyalp7/SyncSphere/internal/cache"
	"github.com/eyalp7/SyncSphere/internal/event"
	"github.com/eyalp7/SyncSphere/internal/model"
	"github.com/eyalp7/SyncSphere/internal/queue"
	"github.com/eyalp7/SyncSphere/internal/repository"
	"github.com/eyalp7/SyncSphere/pkg/logger"
)

// FriendService 本地好友操作，每次成功写入产生一个同步事件
type FriendService struct {
	emitter
	cache *cache.FriendLists
}

func NewFriendService(db *gorm.DB, q queue.Queue) *FriendService {
	return &FriendService{emitter: emitter{db: db, queue: q}}
}

// WithCache 好友列表读走 Redis 缓存，写入后失效
func (s *FriendService) WithCache(c *cache.FriendLists) *FriendService {
	s.cache = c
	return s
}

// SendRequest fromUserID 向 toUsername 发送好友请求
func (s *FriendService) SendRequest(ctx context.Context, fromUserID int64, toUsername string) (*model.FriendRequest, error) {
	var fr *model.FriendRequest
	err := s.commit(ctx, func(tx *gorm.DB) (event.Payload, error) {
		var to model.User
		if err := tx.WithContext(ctx).Where("username = ?", toUsername).First(&to).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: user %q", ErrNotFound, toUsername)
			}
			return nil, err
		}
		if err := checkCanRequest(ctx, tx, fromUserID, to.ID); err != nil {
			return nil, err
		}
		fr = &model.FriendRequest{FromUserID: fromUserID, ToUserID: to.ID, Status: model.RequestPending}
		if err := repository.NewFriendRepository(tx).CreateRequest(ctx, fr); err != nil {
			return nil, err
		}
		return event.FriendRequest{RequestID: fr.ID, FromUser: fromUserID, ToUser: to.ID}, nil
	})
	if err != nil {
		return nil, err
	}
	return fr, nil
}

// Respond 只有请求的接收方可以接受或拒绝
func (s *FriendService) Respond(ctx context.Context, userID, requestID int64, accept bool) (*model.FriendRequest, error) {
	var fr *model.FriendRequest
	err := s.commit(ctx, func(tx *gorm.DB) (event.Payload, error) {
		cur, err := repository.NewFriendRepository(tx).GetRequest(ctx, requestID)
		if err != nil {
			return nil, mapNotFound(err, "friend request %d", requestID)
		}
		if cur.ToUserID != userID {
			return nil, ErrForbidden
		}
		if cur.Status != model.RequestPending {
			return nil, fmt.Errorf("%w: %s", ErrRequestClosed, cur.Status)
		}
		if fr, err = respondRequest(ctx, tx, requestID, accept); err != nil {
			return nil, err
		}
		if accept {
			return event.FriendAdded{RequestID: requestID}, nil
		}
		return event.FriendRejected{RequestID: requestID}, nil
	})
	if err != nil {
		return nil, err
	}
	if accept {
		invalidateFriends(ctx, s.cache, fr.FromUserID, fr.ToUserID)
	}
	return fr, nil
}

// Remove 解除双向好友关系
func (s *FriendService) Remove(ctx context.Context, userID, friendID int64) error {
	err := s.commit(ctx, func(tx *gorm.DB) (event.Payload, error) {
		n, err := repository.NewFriendRepository(tx).RemovePair(ctx, userID, friendID)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, fmt.Errorf("%w: friendship %d-%d", ErrNotFound, userID, friendID)
		}
		return event.FriendRemoved{UserID: userID, FriendID: friendID}, nil
	})
	if err != nil {
		return err
	}
	invalidateFriends(ctx, s.cache, userID, friendID)
	return nil
}

func (s *FriendService) Friends(ctx context.Context, userID int64) ([]*model.User, error) {
	ids, err := s.cache.IDs(ctx, userID, func(ctx context.Context) ([]int64, error) {
		return repository.NewFriendRepository(s.db).ListFriendIDs(ctx, userID)
	})
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	var users []*model.User
	err = s.db.WithContext(ctx).Where("id IN ?", ids).Order("username").Find(&users).Error
	return users, err
}

func (s *FriendService) Incoming(ctx context.Context, userID int64) ([]*model.FriendRequest, error) {
	return repository.NewFriendRepository(s.db).ListIncoming(ctx, userID)
}

func invalidateFriends(ctx context.Context, c *cache.FriendLists, userIDs ...int64) {
	if err := c.Invalidate(ctx, userIDs...); err != nil {
		logger.Warn("invalidate friend cache failed", zap.Int64s("user_ids", userIDs), zap.Error(err))
	}
}

// checkCanRequest 发送好友请求的规则，本地发送和同步应用共用
func checkCanRequest(ctx context.Context, tx *gorm.DB, fromUserID, toUserID int64) error {
	if fromUserID == toUserID {
		return ErrSelfFriend
	}
	users := repository.NewUserRepository(tx)
	for _, id := range []int64{fromUserID, toUserID} {
		if _, err := users.GetByID(ctx, id); err != nil {
			return mapNotFound(err, "user %d", id)
		}
	}

	friends := repository.NewFriendRepository(tx)
	if _, err := friends.FindPending(ctx, fromUserID, toUserID); err == nil {
		return ErrRequestExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	ok, err := friends.AreFriends(ctx, fromUserID, toUserID)
	if err != nil {
		return err
	}
	if ok {
		return ErrAlreadyFriends
	}
	return nil
}

// respondRequest 更新请求状态；接受时写入双向好友关系（可重复执行）
func respondRequest(ctx context.Context, tx *gorm.DB, requestID int64, accept bool) (*model.FriendRequest, error) {
	friends := repository.NewFriendRepository(tx)
	fr, err := friends.GetRequest(ctx, requestID)
	if err != nil {
		return nil, mapNotFound(err, "friend request %d", requestID)
	}
	fr.Status = model.RequestRejected
	if accept {
		fr.Status = model.RequestAccepted
	}
	if err := friends.SetStatus(ctx, requestID, fr.Status); err != nil {
		return nil, err
	}
	if accept {
		if err := friends.AddPair(ctx, fr.FromUserID, fr.ToUserID); err != nil {
			return nil, err
		}
	}
	return fr, nil
}

func mapNotFound(err error, format string, args ...any) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
	}
	return err
}
