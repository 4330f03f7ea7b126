// Package router assembles the gin engines for the hub and regional
// processes.
package router

import (
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/eyalp7/SyncSphere/config"
	_ "github.com/eyalp7/SyncSphere/internal/api/docs"
	"github.com/eyalp7/SyncSphere/internal/api/handler"
	"github.com/eyalp7/SyncSphere/internal/api/middleware"
)

func base(cfg *config.Config, service string) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(
		middleware.Logger(),
		sentrygin.New(sentrygin.Options{Repanic: true}),
		gin.Recovery(),
		gzip.Gzip(gzip.DefaultCompression),
		otelgin.Middleware(service),
	)
	r.GET("/healthz", handler.Healthz)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	return r
}

// NewRegional 区域服务路由
func NewRegional(cfg *config.Config, h *handler.Handler) *gin.Engine {
	r := base(cfg, cfg.Tracing.ServiceName+"-"+cfg.Agent.Region)

	v1 := r.Group("/api/v1")
	v1.POST("/users", h.Register)
	v1.POST("/auth/login", h.Login)

	authed := v1.Group("", middleware.JWTAuth(cfg.JWT.Secret))
	authed.GET("/sync/status", h.SyncStatus)

	files := authed.Group("/files")
	files.POST("", h.UploadFile)
	files.GET("", h.ListFiles)
	files.GET("/:id/content", h.DownloadFile)
	files.DELETE("/:id", h.DeleteFile)
	files.PATCH("/:id/permissions", h.UpdatePermissions)

	friends := authed.Group("/friends")
	friends.POST("/requests", h.SendFriendRequest)
	friends.GET("/requests", h.ListIncoming)
	friends.POST("/requests/:id/respond", h.RespondFriendRequest)
	friends.GET("", h.ListFriends)
	friends.DELETE("/:friend_id", h.RemoveFriend)
	return r
}

// NewHub 中心节点管理路由
func NewHub(cfg *config.Config, h *handler.HubHandler) *gin.Engine {
	r := base(cfg, cfg.Tracing.ServiceName+"-hub")
	hub := r.Group("/api/v1/hub", middleware.JWTAuth(cfg.JWT.Secret))
	hub.GET("/peers", h.Peers)
	hub.GET("/history", h.History)
	hub.POST("/solicit", h.Solicit)
	return r
}
