package handler

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/eyalp7/SyncSphere/internal/api/middleware"
	"github.com/eyalp7/SyncSphere/pkg/response"
)

type permissionRequest struct {
	Permissions string `json:"permissions" binding:"required,oneof=private shared public"`
}

// UploadFile 上传文件（multipart 字段 file）
// @Summary 上传文件
// @Tags 文件
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "文件"
// @Success 201 {object} response.Response{data=model.File}
// @Failure 400 {object} response.Response
// @Security BearerAuth
// @Router /api/v1/files [post]
func (h *Handler) UploadFile(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "no file provided")
		return
	}
	if h.maxUpload > 0 && fh.Size > h.maxUpload {
		response.BadRequest(c, fmt.Sprintf("file exceeds %d bytes", h.maxUpload))
		return
	}
	src, err := fh.Open()
	if err != nil {
		response.InternalError(c, err)
		return
	}
	defer src.Close()
	content, err := io.ReadAll(src)
	if err != nil {
		response.InternalError(c, err)
		return
	}

	f, err := h.files.Upload(c.Request.Context(), middleware.UserID(c), fh.Filename, content)
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, f)
}

// ListFiles 列出自己的文件；带 owner_id 时列出该用户对自己可见的文件
// @Summary 文件列表
// @Tags 文件
// @Produce json
// @Param owner_id query int false "文件所有者"
// @Success 200 {object} response.Response{data=[]model.File}
// @Security BearerAuth
// @Router /api/v1/files [get]
func (h *Handler) ListFiles(c *gin.Context) {
	uid := middleware.UserID(c)
	owner := uid
	if s := c.Query("owner_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id <= 0 {
			response.BadRequest(c, "invalid owner_id")
			return
		}
		owner = id
	}
	list, err := h.files.ListVisible(c.Request.Context(), uid, owner)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, list)
}

// DownloadFile 下载文件内容
// @Summary 下载文件
// @Tags 文件
// @Produce octet-stream
// @Param id path int true "文件ID"
// @Success 200 {file} file
// @Failure 403 {object} response.Response
// @Security BearerAuth
// @Router /api/v1/files/{id}/content [get]
func (h *Handler) DownloadFile(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	f, content, err := h.files.Open(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", f.OriginalFilename))
	c.Data(http.StatusOK, "application/octet-stream", content)
}

// DeleteFile 删除文件
// @Summary 删除文件
// @Tags 文件
// @Param id path int true "文件ID"
// @Success 200 {object} response.Response
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Security BearerAuth
// @Router /api/v1/files/{id} [delete]
func (h *Handler) DeleteFile(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.files.Delete(c.Request.Context(), middleware.UserID(c), id); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, nil)
}

// UpdatePermissions 修改文件可见性
// @Summary 修改文件可见性
// @Tags 文件
// @Accept json
// @Produce json
// @Param id path int true "文件ID"
// @Param request body permissionRequest true "可见性"
// @Success 200 {object} response.Response{data=model.File}
// @Security BearerAuth
// @Router /api/v1/files/{id}/permissions [patch]
func (h *Handler) UpdatePermissions(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req permissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	f, err := h.files.UpdatePermissions(c.Request.Context(), middleware.UserID(c), id, req.Permissions)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, f)
}
