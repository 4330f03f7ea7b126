package handler

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eyalp7/SyncSphere/internal/agent"
	"github.com/eyalp7/SyncSphere/internal/service"
	"github.com/eyalp7/SyncSphere/pkg/response"
)

// Handler 区域服务的 HTTP 接口
type Handler struct {
	users     *service.UserService
	files     *service.FileService
	friends   *service.FriendService
	agent     *agent.Agent
	jwtSecret string
	maxUpload int64
	tokenTTL  time.Duration
}

// Options 构造 Handler 所需依赖
type Options struct {
	Users     *service.UserService
	Files     *service.FileService
	Friends   *service.FriendService
	Agent     *agent.Agent
	JWTSecret string
	TokenTTL  time.Duration
	// MaxUpload 单个上传文件的字节上限
	MaxUpload int64
}

func New(o Options) *Handler {
	return &Handler{
		users:     o.Users,
		files:     o.Files,
		friends:   o.Friends,
		agent:     o.Agent,
		jwtSecret: o.JWTSecret,
		tokenTTL:  o.TokenTTL,
		maxUpload: o.MaxUpload,
	}
}

// fail 把业务错误映射为 HTTP 状态码
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, service.ErrForbidden):
		response.Forbidden(c, err.Error())
	case errors.Is(err, service.ErrUserExists),
		errors.Is(err, service.ErrRequestExists),
		errors.Is(err, service.ErrAlreadyFriends),
		errors.Is(err, service.ErrRequestClosed):
		response.Conflict(c, err.Error())
	case errors.Is(err, service.ErrSelfFriend),
		errors.Is(err, service.ErrFileType),
		errors.Is(err, service.ErrInvalidPermission),
		errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, service.ErrQuotaExceeded),
		errors.Is(err, service.ErrFileTooLarge):
		response.BadRequest(c, err.Error())
	default:
		response.InternalError(c, err)
	}
}

// idParam 解析路径中的正整数 ID
func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}
