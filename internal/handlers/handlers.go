package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"easyimg/internal/config"
	"easyimg/internal/middleware"
	"easyimg/internal/models"
	"easyimg/internal/moderation"
	"easyimg/internal/notify"
	"easyimg/internal/repository"
	"easyimg/internal/service"
	"easyimg/internal/storage"
)

// Deps bundles what the HTTP layer talks to. Everything is constructed in
// main and shared with the worker and the scheduler.
type Deps struct {
	Log        zerolog.Logger
	Cfg        *config.AppConfig
	DB         *pgxpool.Pool
	Cache      *redis.Client
	Store      *storage.ObjectStore
	Users      *repository.UserRepository
	Images     *repository.ImageRepository
	Tasks      *repository.TaskRepository
	Upload     *service.UploadService
	Ingest     *service.IngestService
	Moderation *moderation.Service
	Notifier   *notify.Dispatcher
}

type HandlerSet struct {
	Deps
}

func NewHandlerSet(deps Deps) HandlerSet {
	return HandlerSet{Deps: deps}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")

	auth := v1.Group("/auth")
	auth.POST("/login", h.Login)

	me := v1.Group("/auth")
	me.Use(middleware.Auth(h.Cfg, h.Users))
	me.GET("/me", h.Me)

	images := v1.Group("/images")
	images.Use(middleware.Auth(h.Cfg, h.Users))
	images.POST("", h.UploadImage)
	images.POST("/batch-url", h.IngestURLs)
	images.GET("", h.ListImages)
	images.GET("/:id", h.GetImage)
	images.GET("/:id/moderation", h.GetImageModeration)
	images.DELETE("/:id", h.DeleteImage)

	admin := v1.Group("/admin")
	admin.Use(
		middleware.Auth(h.Cfg, h.Users),
		middleware.RequireRoles(models.UserRoleAdmin),
	)
	admin.GET("/settings/notifications", h.GetNotificationSettings)
	admin.PUT("/settings/notifications", h.PutNotificationSettings)
	admin.POST("/settings/notifications/test", h.TestNotificationChannel)
	admin.GET("/settings/moderation", h.GetModerationSettings)
	admin.PUT("/settings/moderation", h.PutModerationSettings)
	admin.GET("/moderation/providers", h.ListModerationProviders)
	admin.GET("/moderation/stats", h.ModerationStats)
}
