package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eyalp7/SyncSphere/pkg/response"
)

// Healthz 存活检查
func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// SyncStatus 同步代理状态
// @Summary 同步状态
// @Tags 同步
// @Produce json
// @Success 200 {object} response.Response{data=agent.Status}
// @Security BearerAuth
// @Router /api/v1/sync/status [get]
func (h *Handler) SyncStatus(c *gin.Context) {
	if h.agent == nil {
		response.Success(c, gin.H{"connected": false})
		return
	}
	response.Success(c, h.agent.Status(c.Request.Context()))
}
