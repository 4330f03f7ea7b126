package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/eyalp7/SyncSphere/internal/hub"
	"github.com/eyalp7/SyncSphere/pkg/response"
)

// HubHandler 中心广播节点的管理接口
type HubHandler struct {
	hub *hub.Hub
}

func NewHubHandler(h *hub.Hub) *HubHandler { return &HubHandler{hub: h} }

// Peers 已连接的区域
// @Summary 已连接的区域
// @Tags 中心节点
// @Produce json
// @Success 200 {object} response.Response{data=[]hub.PeerInfo}
// @Security BearerAuth
// @Router /api/v1/hub/peers [get]
func (h *HubHandler) Peers(c *gin.Context) {
	response.Success(c, h.hub.Peers())
}

// History 保留的批次数
// @Summary 回放历史
// @Tags 中心节点
// @Produce json
// @Success 200 {object} response.Response{data=map[string]int}
// @Security BearerAuth
// @Router /api/v1/hub/history [get]
func (h *HubHandler) History(c *gin.Context) {
	response.Success(c, gin.H{"batches": h.hub.HistoryLen()})
}

// Solicit 立即向所有区域请求变更
// @Summary 立即同步
// @Tags 中心节点
// @Produce json
// @Success 200 {object} response.Response{data=map[string]int}
// @Security BearerAuth
// @Router /api/v1/hub/solicit [post]
func (h *HubHandler) Solicit(c *gin.Context) {
	response.Success(c, gin.H{"peers": h.hub.Solicit()})
}
