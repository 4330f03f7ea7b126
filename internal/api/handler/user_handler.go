package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/eyalp7/SyncSphere/internal/api/middleware"
	"github.com/eyalp7/SyncSphere/internal/service"
	"github.com/eyalp7/SyncSphere/pkg/response"
)

type loginRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

// Register 注册用户并同步到其他区域
// @Summary 注册用户
// @Tags 用户
// @Accept json
// @Produce json
// @Param request body service.RegisterInput true "注册信息"
// @Success 201 {object} response.Response{data=model.User}
// @Failure 400 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/users [post]
func (h *Handler) Register(c *gin.Context) {
	var req service.RegisterInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	u, err := h.users.Register(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, u)
}

// Login 用户名或邮箱登录，返回 bearer token
// @Summary 登录
// @Tags 用户
// @Accept json
// @Produce json
// @Param request body loginRequest true "登录信息"
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Failure 401 {object} response.Response
// @Router /api/v1/auth/login [post]
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	u, err := h.users.Authenticate(c.Request.Context(), req.Identifier, req.Password)
	if err != nil {
		response.Unauthorized(c, "invalid credentials")
		return
	}
	token, err := middleware.IssueToken(h.jwtSecret, u.ID, h.tokenTTL)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"token": token, "user": u})
}
