package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/eyalp7/SyncSphere/internal/cache"
	"github.com/eyalp7/SyncSphere/internal/event"
	"github.com/eyalp7/SyncSphere/internal/filestore"
	"github.com/eyalp7/SyncSphere/internal/model"
	"github.com/eyalp7/SyncSphere/internal/repository"
	"github.com/eyalp7/SyncSphere/pkg/logger"
	"github.com/eyalp7/SyncSphere/pkg/observability"
)

// Outcome 单个事件的应用结果
type Outcome int

const (
	OutcomeApplied Outcome = iota + 1
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeSkipped:
		return "skipped"
	}
	return "unknown"
}

// ApplyReport 一个批次的统计
type ApplyReport struct {
	Applied int `json:"applied"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Applier 把来自其他区域的事件写入本地存储。
// 同步来源的写入不做归属校验，也不会再次入队。
type Applier struct {
	db     *gorm.DB
	files  *filestore.Store
	cache  *cache.FriendLists
	tracer trace.Tracer
}

func NewApplier(db *gorm.DB, files *filestore.Store) *Applier {
	return &Applier{
		db:     db,
		files:  files,
		tracer: observability.Tracer("github.com/eyalp7/SyncSphere/internal/service"),
	}
}

// WithCache 好友关系变化后失效本地好友列表缓存
func (a *Applier) WithCache(c *cache.FriendLists) *Applier {
	a.cache = c
	return a
}

// ApplyBatch 按顺序逐个应用；单个事件失败只回滚自身，后续事件照常处理
func (a *Applier) ApplyBatch(ctx context.Context, batch []json.RawMessage) ApplyReport {
	var rep ApplyReport
	for i, raw := range batch {
		ev, err := event.Decode(raw)
		if err != nil {
			rep.Failed++
			logger.Warn("sync event malformed, skipped", zap.Int("index", i), zap.Error(err))
			continue
		}
		outcome, err := a.Apply(ctx, ev)
		switch {
		case err != nil:
			rep.Failed++
			logger.Error("apply sync event failed",
				zap.String("kind", string(ev.Kind())), zap.Int("index", i), zap.Error(err))
			observability.Report(ctx, err, map[string]string{"kind": string(ev.Kind())})
		case outcome == OutcomeSkipped:
			rep.Skipped++
		default:
			rep.Applied++
		}
	}
	return rep
}

// Apply 在独立事务中应用一个事件
func (a *Applier) Apply(ctx context.Context, ev event.Event) (Outcome, error) {
	ctx, span := a.tracer.Start(ctx, "sync.apply",
		trace.WithAttributes(attribute.String("sync.kind", string(ev.Kind()))))
	defer span.End()

	var (
		outcome Outcome
		fx      fileEffects
	)
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		outcome, err = a.apply(ctx, tx, ev, &fx)
		return err
	})
	if err != nil {
		fx.rollback(a.files)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	fx.commit(a.files)
	span.SetAttributes(attribute.String("sync.outcome", outcome.String()))
	if outcome == OutcomeApplied {
		a.invalidate(ctx, ev)
	}
	return outcome, nil
}

func (a *Applier) invalidate(ctx context.Context, ev event.Event) {
	if a.cache == nil {
		return
	}
	switch p := ev.Payload.(type) {
	case event.FriendAdded:
		fr, err := repository.NewFriendRepository(a.db).GetRequest(ctx, p.RequestID)
		if err != nil {
			logger.Warn("load friend request for cache invalidation failed", zap.Int64("request_id", p.RequestID), zap.Error(err))
			return
		}
		invalidateFriends(ctx, a.cache, fr.FromUserID, fr.ToUserID)
	case event.FriendRemoved:
		invalidateFriends(ctx, a.cache, p.UserID, p.FriendID)
	}
}

// fileEffects 磁盘上的改动跟随事务结果：
// 回滚时删除本次新建的文件，提交后才删除被替换或被删除的文件
type fileEffects struct {
	created  []string
	obsolete []string
}

func (fx *fileEffects) commit(files *filestore.Store) {
	for _, name := range fx.obsolete {
		if err := files.Remove(name); err != nil {
			logger.Warn("remove obsolete file failed", zap.String("stored", name), zap.Error(err))
		}
	}
}

func (fx *fileEffects) rollback(files *filestore.Store) {
	for _, name := range fx.created {
		if err := files.Remove(name); err != nil {
			logger.Warn("remove orphaned file failed", zap.String("stored", name), zap.Error(err))
		}
	}
}

func (a *Applier) apply(ctx context.Context, tx *gorm.DB, ev event.Event, fx *fileEffects) (Outcome, error) {
	switch p := ev.Payload.(type) {
	case event.UserCreate:
		return a.applyUser(ctx, tx, p)
	case event.FileUpload:
		return a.applyFileUpload(ctx, tx, p, fx)
	case event.FileDelete:
		return a.applyFileDelete(ctx, tx, p, fx)
	case event.PermissionChange:
		return a.applyPermissionChange(ctx, tx, p)
	case event.FriendRequest:
		return a.applyFriendRequest(ctx, tx, p)
	case event.FriendAdded:
		return a.respond(ctx, tx, p.RequestID, true)
	case event.FriendRejected:
		return a.respond(ctx, tx, p.RequestID, false)
	case event.FriendRemoved:
		return a.applyFriendRemoved(ctx, tx, p)
	case event.Unknown:
		logger.Warn("unknown sync event type, skipped", zap.String("type", p.Type))
		return OutcomeSkipped, nil
	default:
		return 0, fmt.Errorf("unhandled payload %T", p)
	}
}

func (a *Applier) applyUser(ctx context.Context, tx *gorm.DB, p event.UserCreate) (Outcome, error) {
	u := &model.User{ID: p.UserID, Username: p.Username, Email: p.Email, PasswordHash: p.PasswordHash}
	if err := repository.NewUserRepository(tx).Upsert(ctx, u); err != nil {
		return 0, fmt.Errorf("upsert user %d: %w", p.UserID, err)
	}
	return OutcomeApplied, nil
}

func (a *Applier) applyFileUpload(ctx context.Context, tx *gorm.DB, p event.FileUpload, fx *fileEffects) (Outcome, error) {
	// 先校验路径，避免写入记录后才发现文件名不安全
	if _, err := a.files.Path(p.StoredFilename); err != nil {
		return 0, err
	}
	uploaded := p.UploadDate.Time
	if uploaded.IsZero() {
		uploaded = time.Now().UTC()
	}
	perm := p.Permissions
	if perm == "" {
		perm = model.PermissionPrivate
	}
	files := repository.NewFileRepository(tx)
	prev, err := files.GetByID(ctx, p.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return 0, err
	}

	f := &model.File{
		ID:               p.ID,
		UserID:           p.UserID,
		StoredFilename:   p.StoredFilename,
		OriginalFilename: p.OriginalFilename,
		UploadDate:       uploaded,
		FileSize:         p.FileSize,
		Permissions:      perm,
	}
	if err := files.Upsert(ctx, f); err != nil {
		return 0, fmt.Errorf("upsert file %d: %w", p.ID, err)
	}

	// 已用空间按与旧记录的差值调整，重复应用不会重复计数
	users := repository.NewUserRepository(tx)
	switch {
	case prev == nil:
		err = users.AddUsedStorage(ctx, p.UserID, p.FileSize)
	case prev.UserID == p.UserID:
		err = users.AddUsedStorage(ctx, p.UserID, p.FileSize-prev.FileSize)
	default:
		if err = users.AddUsedStorage(ctx, prev.UserID, -prev.FileSize); err == nil {
			err = users.AddUsedStorage(ctx, p.UserID, p.FileSize)
		}
	}
	if err != nil {
		return 0, fmt.Errorf("account storage of file %d: %w", p.ID, err)
	}

	existed := a.files.Exists(p.StoredFilename)
	// 写文件失败时返回错误，记录随事务回滚
	if err := a.files.Write(p.StoredFilename, p.Content); err != nil {
		return 0, err
	}
	if !existed {
		fx.created = append(fx.created, p.StoredFilename)
	}
	if prev != nil && prev.StoredFilename != p.StoredFilename {
		fx.obsolete = append(fx.obsolete, prev.StoredFilename)
	}
	return OutcomeApplied, nil
}

func (a *Applier) applyFileDelete(ctx context.Context, tx *gorm.DB, p event.FileDelete, fx *fileEffects) (Outcome, error) {
	repo := repository.NewFileRepository(tx)
	f, err := repo.GetByID(ctx, p.FileID)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Warn("file_delete skipped, no record found", zap.Int64("file_id", p.FileID))
		return OutcomeSkipped, nil
	}
	if err != nil {
		return 0, err
	}
	if _, err := repo.Delete(ctx, p.FileID); err != nil {
		return 0, fmt.Errorf("delete file %d: %w", p.FileID, err)
	}
	if err := repository.NewUserRepository(tx).AddUsedStorage(ctx, f.UserID, -f.FileSize); err != nil {
		return 0, fmt.Errorf("account storage of file %d: %w", p.FileID, err)
	}
	fx.obsolete = append(fx.obsolete, f.StoredFilename)
	return OutcomeApplied, nil
}

func (a *Applier) applyPermissionChange(ctx context.Context, tx *gorm.DB, p event.PermissionChange) (Outcome, error) {
	if !model.ValidPermission(p.NewPermissions) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPermission, p.NewPermissions)
	}
	found, err := repository.NewFileRepository(tx).UpdatePermissions(ctx, p.FileID, p.NewPermissions)
	if err != nil {
		return 0, fmt.Errorf("update permissions of file %d: %w", p.FileID, err)
	}
	if !found {
		logger.Warn("permission_change skipped, no record found", zap.Int64("file_id", p.FileID))
		return OutcomeSkipped, nil
	}
	return OutcomeApplied, nil
}

func (a *Applier) applyFriendRequest(ctx context.Context, tx *gorm.DB, p event.FriendRequest) (Outcome, error) {
	friends := repository.NewFriendRepository(tx)
	if _, err := friends.GetRequest(ctx, p.RequestID); err == nil {
		logger.Debug("friend_request already applied", zap.Int64("request_id", p.RequestID))
		return OutcomeSkipped, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return 0, err
	}

	if err := checkCanRequest(ctx, tx, p.FromUser, p.ToUser); err != nil {
		if isRuleViolation(err) {
			logger.Warn("friend_request skipped", zap.Int64("request_id", p.RequestID), zap.Error(err))
			return OutcomeSkipped, nil
		}
		return 0, err
	}
	fr := &model.FriendRequest{ID: p.RequestID, FromUserID: p.FromUser, ToUserID: p.ToUser, Status: model.RequestPending}
	if err := friends.CreateRequest(ctx, fr); err != nil {
		return 0, fmt.Errorf("create friend request %d: %w", p.RequestID, err)
	}
	return OutcomeApplied, nil
}

func (a *Applier) respond(ctx context.Context, tx *gorm.DB, requestID int64, accept bool) (Outcome, error) {
	if _, err := respondRequest(ctx, tx, requestID, accept); err != nil {
		if errors.Is(err, ErrNotFound) {
			logger.Warn("friend response skipped, no record found", zap.Int64("request_id", requestID))
			return OutcomeSkipped, nil
		}
		return 0, err
	}
	return OutcomeApplied, nil
}

func (a *Applier) applyFriendRemoved(ctx context.Context, tx *gorm.DB, p event.FriendRemoved) (Outcome, error) {
	n, err := repository.NewFriendRepository(tx).RemovePair(ctx, p.UserID, p.FriendID)
	if err != nil {
		return 0, fmt.Errorf("remove friendship %d-%d: %w", p.UserID, p.FriendID, err)
	}
	if n == 0 {
		logger.Warn("friend_removed skipped, no record found",
			zap.Int64("user_id", p.UserID), zap.Int64("friend_id", p.FriendID))
		return OutcomeSkipped, nil
	}
	return OutcomeApplied, nil
}

func isRuleViolation(err error) bool {
	for _, target := range []error{ErrSelfFriend, ErrRequestExists, ErrAlreadyFriends, ErrNotFound} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
