package service

import (
	"context"
	"time"

	"bookmyenv/internal/model"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SchedulerService runs the periodic jobs: the reminder scan and the
// notification log cleanup.
type SchedulerService struct {
	cron          *cron.Cron
	db            *gorm.DB
	reminders     *ReminderScanner
	logger        *zap.Logger
	retentionDays int
}

func NewSchedulerService(db *gorm.DB, reminders *ReminderScanner, logger *zap.Logger, loc *time.Location, retentionDays int) *SchedulerService {
	if loc == nil {
		loc = time.Local
	}
	return &SchedulerService{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		db:            db,
		reminders:     reminders,
		logger:        logger,
		retentionDays: retentionDays,
	}
}

// Start registers the jobs and starts the cron loop.
func (s *SchedulerService) Start(reminderSpec, cleanupSpec string) error {
	if _, err := s.cron.AddFunc(reminderSpec, s.RunReminders); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(cleanupSpec, s.CleanupNotificationLogs); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("scheduler started",
		zap.String("reminder_spec", reminderSpec), zap.String("cleanup_spec", cleanupSpec))
	return nil
}

// Stop waits for running jobs to finish.
func (s *SchedulerService) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *SchedulerService) RunReminders() {
	sent := s.reminders.ProcessScheduledReminders(context.Background())
	s.logger.Debug("reminder job done", zap.Int("sent", sent))
}

// CleanupNotificationLogs deletes log rows older than the retention period.
func (s *SchedulerService) CleanupNotificationLogs() {
	if s.retentionDays <= 0 {
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	result := s.db.Unscoped().Where("sent_at < ?", cutoff).Delete(&model.NotificationLog{})
	if result.Error != nil {
		s.logger.Error("cleanup notification logs failed", zap.Error(result.Error))
		return
	}
	s.logger.Info("notification logs cleaned up",
		zap.Int64("deleted", result.RowsAffected), zap.Time("cutoff", cutoff))
}
