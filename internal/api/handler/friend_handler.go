package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/eyalp7/SyncSphere/internal/api/middleware"
	"github.com/eyalp7/SyncSphere/pkg/response"
)

type friendRequest struct {
	ToUsername string `json:"to_username" binding:"required"`
}

type respondRequest struct {
	Accept *bool `json:"accept" binding:"required"`
}

// SendFriendRequest 发送好友请求
// @Summary 发送好友请求
// @Tags 好友
// @Accept json
// @Produce json
// @Param request body friendRequest true "接收方用户名"
// @Success 201 {object} response.Response{data=model.FriendRequest}
// @Failure 400 {object} response.Response
// @Failure 409 {object} response.Response
// @Security BearerAuth
// @Router /api/v1/friends/requests [post]
func (h *Handler) SendFriendRequest(c *gin.Context) {
	var req friendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	fr, err := h.friends.SendRequest(c.Request.Context(), middleware.UserID(c), req.ToUsername)
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, fr)
}

// ListIncoming 待处理的好友请求
// @Summary 收到的好友请求
// @Tags 好友
// @Produce json
// @Success 200 {object} response.Response{data=[]model.FriendRequest}
// @Security BearerAuth
// @Router /api/v1/friends/requests [get]
func (h *Handler) ListIncoming(c *gin.Context) {
	list, err := h.friends.Incoming(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, list)
}

// RespondFriendRequest 接受或拒绝
// @Summary 处理好友请求
// @Tags 好友
// @Accept json
// @Produce json
// @Param id path int true "请求ID"
// @Param request body respondRequest true "是否接受"
// @Success 200 {object} response.Response{data=model.FriendRequest}
// @Failure 403 {object} response.Response
// @Security BearerAuth
// @Router /api/v1/friends/requests/{id}/respond [post]
func (h *Handler) RespondFriendRequest(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	fr, err := h.friends.Respond(c.Request.Context(), middleware.UserID(c), id, *req.Accept)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, fr)
}

// ListFriends 好友列表
// @Summary 好友列表
// @Tags 好友
// @Produce json
// @Success 200 {object} response.Response{data=[]model.User}
// @Security BearerAuth
// @Router /api/v1/friends [get]
func (h *Handler) ListFriends(c *gin.Context) {
	list, err := h.friends.Friends(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, list)
}

// RemoveFriend 解除好友
// @Summary 解除好友
// @Tags 好友
// @Param friend_id path int true "好友ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Security BearerAuth
// @Router /api/v1/friends/{friend_id} [delete]
func (h *Handler) RemoveFriend(c *gin.Context) {
	friendID, ok := idParam(c, "friend_id")
	if !ok {
		return
	}
	if err := h.friends.Remove(c.Request.Context(), middleware.UserID(c), friendID); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, nil)
}
