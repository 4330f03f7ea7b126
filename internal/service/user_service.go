package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/eyalp7/SyncSphere/internal/event"
	"github.com/eyalp7/SyncSphere/internal/model"
	"github.com/eyalp7/SyncSphere/internal/queue"
	"github.com/eyalp7/SyncSphere/internal/repository"
)

// RegisterInput 注册参数
type RegisterInput struct {
	Username string `json:"username" binding:"required,max=80"`
	Email    string `json:"email" binding:"required,email,max=120"`
	Password string `json:"password" binding:"required,min=6"`
}

type UserService struct {
	emitter
}

func NewUserService(db *gorm.DB, q queue.Queue) *UserService {
	return &UserService{emitter{db: db, queue: q}}
}

// Register 本地注册；同步事件不携带密码哈希
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if in.Username == "" || in.Email == "" || in.Password == "" {
		return nil, fmt.Errorf("%w: username, email and password are required", ErrInvalidRequest)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &model.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: string(hash),
		StorageQuota: model.DefaultStorageQuota,
	}
	err = s.commit(ctx, func(tx *gorm.DB) (event.Payload, error) {
		users := repository.NewUserRepository(tx)
		if _, err := users.FindByUsernameOrEmail(ctx, u.Username, u.Email); err == nil {
			return nil, ErrUserExists
		} else if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		if err := users.Create(ctx, u); err != nil {
			return nil, err
		}
		return event.UserCreate{UserID: u.ID, Username: u.Username, Email: u.Email}, nil
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Authenticate 校验用户名或邮箱 + 密码
func (s *UserService) Authenticate(ctx context.Context, identifier, password string) (*model.User, error) {
	u, err := repository.NewUserRepository(s.db).FindByUsernameOrEmail(ctx, identifier, identifier)
	if err != nil {
		return nil, mapNotFound(err, "user %q", identifier)
	}
	if u.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrForbidden
	}
	return u, nil
}

func (s *UserService) Get(ctx context.Context, id int64) (*model.User, error) {
	u, err := repository.NewUserRepository(s.db).GetByID(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, "user %d", id)
	}
	return u, nil
}
