package service

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/eyalp7/SyncSphere/internal/event"
	"github.com/eyalp7/SyncSphere/internal/filestore"
	"github.com/eyalp7/SyncSphere/internal/model"
	"github.com/eyalp7/SyncSphere/internal/queue"
	"github.com/eyalp7/SyncSphere/internal/repository"
	"github.com/eyalp7/SyncSphere/internal/wire"
	"github.com/eyalp7/SyncSphere/pkg/logger"
)

var allowedExtensions = map[string]bool{
	"txt": true, "pdf": true, "png": true, "jpg": true, "jpeg": true, "gif": true,
}

// AllowedFile 按扩展名判断是否允许上传
func AllowedFile(name string) bool {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	return ext != "" && allowedExtensions[strings.ToLower(ext)]
}

type FileService struct {
	emitter
	files    *filestore.Store
	maxFrame int
}

func NewFileService(db *gorm.DB, q queue.Queue, files *filestore.Store) *FileService {
	return &FileService{emitter: emitter{db: db, queue: q}, files: files, maxFrame: wire.DefaultMaxFrameBytes}
}

// WithMaxFrameBytes 上传的 file_upload 事件必须能单独放进一帧，否则无法同步
func (s *FileService) WithMaxFrameBytes(n int) *FileService {
	if n > 0 {
		s.maxFrame = n
	}
	return s
}

// Upload 保存文件内容与元数据，并把内容随 file_upload 事件同步出去
func (s *FileService) Upload(ctx context.Context, userID int64, name string, content []byte) (*model.File, error) {
	original := filepath.Base(filepath.Clean("/" + filepath.ToSlash(name)))
	if !AllowedFile(original) {
		return nil, fmt.Errorf("%w: %q", ErrFileType, name)
	}
	stored := uuid.New().String() + strings.ToLower(filepath.Ext(original))

	f := &model.File{
		UserID:           userID,
		StoredFilename:   stored,
		OriginalFilename: original,
		UploadDate:       time.Now().UTC(),
		FileSize:         int64(len(content)),
		Permissions:      model.PermissionPrivate,
	}
	written := false
	err := s.commit(ctx, func(tx *gorm.DB) (event.Payload, error) {
		owner, err := repository.NewUserRepository(tx).GetByID(ctx, userID)
		if err != nil {
			return nil, mapNotFound(err, "user %d", userID)
		}
		if owner.StorageQuota > 0 && owner.UsedStorage+f.FileSize > owner.StorageQuota {
			return nil, ErrQuotaExceeded
		}
		if err := repository.NewFileRepository(tx).Create(ctx, f); err != nil {
			return nil, err
		}
		p := event.FileUpload{
			ID:               f.ID,
			UserID:           f.UserID,
			StoredFilename:   f.StoredFilename,
			OriginalFilename: f.OriginalFilename,
			UploadDate:       event.At(f.UploadDate),
			FileSize:         f.FileSize,
			Permissions:      f.Permissions,
			Content:          content,
		}
		raw, err := event.Encode(event.New(p))
		if err != nil {
			return nil, err
		}
		if n := wire.LineSize(wire.TypeChanges, []json.RawMessage{raw}); n > s.maxFrame {
			return nil, fmt.Errorf("%w: event is %d bytes, frame limit %d", ErrFileTooLarge, n, s.maxFrame)
		}
		if err := repository.NewUserRepository(tx).AddUsedStorage(ctx, userID, f.FileSize); err != nil {
			return nil, err
		}
		if err := s.files.Write(stored, content); err != nil {
			return nil, err
		}
		written = true
		return p, nil
	})
	if err != nil {
		if written {
			if rmErr := s.files.Remove(stored); rmErr != nil {
				logger.Warn("remove orphaned upload failed", zap.String("stored", stored), zap.Error(rmErr))
			}
		}
		return nil, err
	}
	return f, nil
}

// Delete 只有所有者可以删除
func (s *FileService) Delete(ctx context.Context, userID, fileID int64) error {
	var stored string
	err := s.commit(ctx, func(tx *gorm.DB) (event.Payload, error) {
		repo := repository.NewFileRepository(tx)
		f, err := repo.GetByID(ctx, fileID)
		if err != nil {
			return nil, mapNotFound(err, "file %d", fileID)
		}
		if f.UserID != userID {
			return nil, ErrForbidden
		}
		if _, err := repo.Delete(ctx, fileID); err != nil {
			return nil, err
		}
		if err := repository.NewUserRepository(tx).AddUsedStorage(ctx, userID, -f.FileSize); err != nil {
			return nil, err
		}
		stored = f.StoredFilename
		return event.FileDelete{FileID: fileID}, nil
	})
	if err != nil {
		return err
	}
	// 记录已提交，文件删除失败只留下孤儿文件
	if err := s.files.Remove(stored); err != nil {
		logger.Warn("remove file content failed", zap.Int64("file_id", fileID), zap.Error(err))
	}
	return nil
}

// UpdatePermissions 只有所有者可以修改可见性
func (s *FileService) UpdatePermissions(ctx context.Context, userID, fileID int64, perm string) (*model.File, error) {
	if !model.ValidPermission(perm) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPermission, perm)
	}
	var f *model.File
	err := s.commit(ctx, func(tx *gorm.DB) (event.Payload, error) {
		repo := repository.NewFileRepository(tx)
		cur, err := repo.GetByID(ctx, fileID)
		if err != nil {
			return nil, mapNotFound(err, "file %d", fileID)
		}
		if cur.UserID != userID {
			return nil, ErrForbidden
		}
		if _, err := repo.UpdatePermissions(ctx, fileID, perm); err != nil {
			return nil, err
		}
		cur.Permissions = perm
		f = cur
		return event.PermissionChange{FileID: fileID, NewPermissions: perm}, nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *FileService) List(ctx context.Context, userID int64) ([]*model.File, error) {
	return repository.NewFileRepository(s.db).ListByUser(ctx, userID)
}

// ListVisible 返回 ownerID 的文件中 viewerID 可见的部分
func (s *FileService) ListVisible(ctx context.Context, viewerID, ownerID int64) ([]*model.File, error) {
	all, err := s.List(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	res := make([]*model.File, 0, len(all))
	for _, f := range all {
		if IsAccessAllowed(f, viewerID) {
			res = append(res, f)
		}
	}
	return res, nil
}

// Open 读取文件内容，校验访问权限
func (s *FileService) Open(ctx context.Context, userID, fileID int64) (*model.File, []byte, error) {
	f, err := repository.NewFileRepository(s.db).GetByID(ctx, fileID)
	if err != nil {
		return nil, nil, mapNotFound(err, "file %d", fileID)
	}
	if !IsAccessAllowed(f, userID) {
		return nil, nil, ErrForbidden
	}
	content, err := s.files.Read(f.StoredFilename)
	if err != nil {
		return nil, nil, fmt.Errorf("read file %d: %w", fileID, err)
	}
	return f, content, nil
}

// IsAccessAllowed 所有者总是可见；shared/public 对其他用户可见
func IsAccessAllowed(f *model.File, userID int64) bool {
	if f.UserID == userID {
		return true
	}
	return f.Permissions == model.PermissionShared || f.Permissions == model.PermissionPublic
}
