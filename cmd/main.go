package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bookmyenv/internal/config"
	"bookmyenv/internal/handler"
	"bookmyenv/internal/model"
	"bookmyenv/internal/pkg/cache"
	"bookmyenv/internal/pkg/logger"
	"bookmyenv/internal/pkg/utils"
	"bookmyenv/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	initAdmin := flag.Bool("init-admin", false, "create the initial admin account and exit")
	runReminders := flag.Bool("run-reminders", false, "run one reminder scan and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zlog, err := logger.New(&cfg.Log, cfg.Server.Mode)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zlog.Sync()

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := model.InitDB(&cfg.Database, cfg.Server.Mode == "debug"); err != nil {
		zlog.Fatal("init database failed", zap.Error(err))
	}
	zlog.Info("database connected", zap.String("driver", cfg.Database.Driver))

	if err := model.AutoMigrate(); err != nil {
		zlog.Fatal("migrate database failed", zap.Error(err))
	}
	if *migrate {
		zlog.Info("database migrated")
		return
	}

	if *initAdmin {
		if err := createAdmin(zlog); err != nil {
			zlog.Fatal("create admin failed", zap.Error(err))
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = cache.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			zlog.Fatal("connect redis failed", zap.Error(err))
		}
		defer rdb.Close()
	}

	transport, closer, err := service.NewTransport(cfg, zlog)
	if err != nil {
		zlog.Fatal("init notification transport failed", zap.Error(err))
	}
	if closer != nil {
		defer closer.Close()
	}

	loc := cfg.Notification.Location()
	notifications := service.NewNotificationService(model.DB, transport, zlog, service.NotificationOptions{
		BaseURL:    cfg.App.BaseURL,
		Location:   loc,
		DateLayout: cfg.Notification.DateLayout,
		Timeout:    cfg.Notification.DispatchTimeout,
	})
	reminders := service.NewReminderScanner(model.DB, notifications, zlog)
	if rdb != nil {
		reminders.WithLocker(service.NewRedisLocker(rdb), cfg.Notification.ReminderLockTTL)
	}

	if *runReminders {
		sent := reminders.ProcessScheduledReminders(ctx)
		zlog.Info("reminder scan done", zap.Int("sent", sent))
		return
	}

	refresh := service.NewRefreshService(model.DB, notifications, zlog, true)

	var scheduler *service.SchedulerService
	if cfg.Scheduler.Enabled {
		scheduler = service.NewSchedulerService(model.DB, reminders, zlog, loc, cfg.Notification.LogRetentionDays)
		if err := scheduler.Start(cfg.Scheduler.ReminderSpec, cfg.Scheduler.CleanupSpec); err != nil {
			zlog.Fatal("start scheduler failed", zap.Error(err))
		}
	}

	loginLimiter := service.NewLoginLimiter(5, 15*time.Minute, 30*time.Minute)
	ipLimiter := service.NewIPLoginLimiter(20, 30*time.Minute, time.Hour)
	go loginLimiter.RunCleanup(5*time.Minute, ctx.Done())
	go ipLimiter.RunCleanup(5*time.Minute, ctx.Done())

	r := gin.New()
	handler.SetupRouter(r, handler.Deps{
		Config:       cfg,
		DB:           model.DB,
		Logger:       zlog,
		Redis:        rdb,
		Refresh:      refresh,
		Reminders:    reminders,
		LoginLimiter: loginLimiter,
		IPLimiter:    ipLimiter,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zlog.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zlog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("server shutdown failed", zap.Error(err))
	}
	if scheduler != nil {
		scheduler.Stop()
	}
	refresh.Wait()
}

// createAdmin seeds the first admin with a random password printed once.
func createAdmin(zlog *zap.Logger) error {
	var count int64
	model.DB.Model(&model.User{}).Where("role = ?", model.UserRoleAdmin).Count(&count)
	if count > 0 {
		zlog.Info("admin account already exists")
		return nil
	}

	password := utils.GenerateRandomString(16)
	admin := model.User{
		Username:    "admin",
		Email:       "admin@example.com",
		DisplayName: "Administrator",
		Role:        model.UserRoleAdmin,
		Status:      model.UserStatusActive,
	}
	if err := admin.SetPassword(password); err != nil {
		return err
	}
	if err := model.DB.Create(&admin).Error; err != nil {
		return err
	}

	fmt.Println("admin account created")
	fmt.Println("username: admin")
	fmt.Println("password:", password)
	fmt.Println("change this password after the first login")
	return nil
}
