package model

import (
	"fmt"

	"bookmyenv/internal/config"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitDB opens the configured database and sets the pool limits.
func InitDB(cfg *config.DatabaseConfig, debug bool) error {
	logLevel := logger.Silent
	if debug {
		logLevel = logger.Info
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN())
	case "mysql":
		dialector = mysql.Open(cfg.DSN())
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                                   logger.Default.LogMode(logLevel),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)

	DB = db
	return nil
}

// AutoMigrate migrates the global connection.
func AutoMigrate() error {
	return Migrate(DB)
}

// Migrate creates or updates every table owned by the service.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		// users and recipient groups
		&User{},
		&UserGroup{},
		&UserGroupMember{},
		// refresh lifecycle
		&RefreshIntent{},
		&RefreshReminderMark{},
		// notifications
		&NotificationSetting{},
		&NotificationLog{},
		&Notification{},
		// audit trail
		&AuditLog{},
	)
}
