package handler

import (
	"time"

	"bookmyenv/internal/config"
	"bookmyenv/internal/middleware"
	"bookmyenv/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps is everything the HTTP layer needs.
type Deps struct {
	Config    *config.Config
	DB        *gorm.DB
	Logger    *zap.Logger
	Redis     *redis.Client // nil when redis is disabled
	Refresh   *service.RefreshService
	Reminders *service.ReminderScanner
	// login lockout state; created by SetupRouter when nil
	LoginLimiter *service.LoginLimiter
	IPLimiter    *service.LoginLimiter
}

// SetupRouter registers middleware and routes on r.
func SetupRouter(r *gin.Engine, d Deps) {
	cfg := d.Config

	r.Use(middleware.RecoveryMiddleware(d.Logger))
	r.Use(middleware.CORSMiddleware(cfg.Security.AllowedOrigins))
	r.Use(middleware.LoggerMiddleware(d.Logger))
	r.Use(middleware.SecurityHeadersMiddleware())

	limiter := newLimiter(d, "api", cfg.Security.RateLimitPerMin)
	authLimiter := newLimiter(d, "auth", cfg.Security.AuthLimitPerMin)

	if d.LoginLimiter == nil {
		d.LoginLimiter = service.NewLoginLimiter(5, 15*time.Minute, 30*time.Minute)
	}
	if d.IPLimiter == nil {
		d.IPLimiter = service.NewIPLoginLimiter(20, 30*time.Minute, time.Hour)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "service": cfg.App.Name})
	})

	api := r.Group("/api")
	api.Use(middleware.RateLimitMiddleware(limiter))
	api.Use(middleware.AuditMiddleware(d.DB, d.Logger))

	authHandler := NewAuthHandler(d.DB, cfg.JWT, d.LoginLimiter, d.IPLimiter)
	intentHandler := NewRefreshIntentHandler(d.DB, d.Refresh)
	settingHandler := NewNotificationSettingHandler(d.DB)
	notificationHandler := NewNotificationHandler(d.DB)
	logHandler := NewNotificationLogHandler(d.DB, d.Reminders)
	userHandler := NewUserHandler(d.DB)
	auditHandler := NewAuditHandler(d.DB)

	auth := api.Group("/auth")
	auth.Use(middleware.RateLimitMiddleware(authLimiter))
	{
		auth.POST("/login", authHandler.Login)
	}

	authed := api.Group("")
	authed.Use(middleware.AuthMiddleware(cfg.JWT.Secret))
	{
		authed.GET("/auth/me", authHandler.Me)
		authed.PUT("/auth/password", authHandler.ChangePassword)

		intents := authed.Group("/refresh-intents")
		{
			intents.GET("", intentHandler.List)
			intents.POST("", intentHandler.Create)
			intents.GET("/:id", intentHandler.Get)
			intents.POST("/:id/approve", middleware.AdminMiddleware(), intentHandler.Approve)
			intents.POST("/:id/reject", middleware.AdminMiddleware(), intentHandler.Reject)
			intents.POST("/:id/schedule", middleware.AdminMiddleware(), intentHandler.Schedule)
			intents.POST("/:id/start", intentHandler.Start)
			intents.POST("/:id/complete", intentHandler.Complete)
			intents.POST("/:id/fail", intentHandler.Fail)
			intents.POST("/:id/cancel", intentHandler.Cancel)
			intents.POST("/:id/conflict", intentHandler.ReportConflict)
			intents.POST("/:id/conflict/resolve", intentHandler.ResolveConflict)
		}

		notifications := authed.Group("/notifications")
		{
			notifications.GET("", notificationHandler.List)
			notifications.GET("/unread-count", notificationHandler.UnreadCount)
			notifications.PUT("/read-all", notificationHandler.MarkAllRead)
			notifications.PUT("/:id/read", notificationHandler.MarkRead)
		}
	}

	admin := authed.Group("")
	admin.Use(middleware.AdminMiddleware())
	{
		settings := admin.Group("/notification-settings")
		{
			settings.GET("", settingHandler.List)
			settings.POST("", settingHandler.Create)
			settings.GET("/:id", settingHandler.Get)
			settings.PUT("/:id", settingHandler.Update)
			settings.DELETE("/:id", settingHandler.Delete)
		}

		admin.GET("/notification-logs", logHandler.List)
		admin.POST("/admin/reminders/run", logHandler.RunReminders)
		admin.GET("/admin/audit-logs", auditHandler.List)

		admin.GET("/admin/users", userHandler.List)
		admin.POST("/admin/users", userHandler.Create)
		admin.PUT("/admin/users/:id", userHandler.Update)

		admin.GET("/admin/groups", userHandler.ListGroups)
		admin.POST("/admin/groups", userHandler.CreateGroup)
		admin.GET("/admin/groups/:id", userHandler.GetGroup)
		admin.DELETE("/admin/groups/:id", userHandler.DeleteGroup)
		admin.POST("/admin/groups/:id/members", userHandler.AddMember)
		admin.DELETE("/admin/groups/:id/members/:user_id", userHandler.RemoveMember)
	}
}

func newLimiter(d Deps, name string, perMin int) middleware.Limiter {
	if d.Redis != nil {
		return middleware.NewRedisRateLimiter(d.Redis, "bookmyenv:ratelimit:"+name+":", perMin, time.Minute, d.Logger)
	}
	return middleware.NewRateLimiter(perMin, time.Minute)
}
