package service

import (
	"context"
	"errors"
	"time"

	"bookmyenv/internal/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReminderWindow is a lead-time range before the planned date. The range is
// wider than the nominal lead time so a coarse scan cadence still hits it.
type ReminderWindow struct {
	Name  string
	Event model.EventType
	From  time.Duration
	To    time.Duration
}

var ReminderWindows = []ReminderWindow{
	{Name: "7day", Event: model.EventRefreshReminder7Days, From: 6*24*time.Hour + 23*time.Hour, To: 7*24*time.Hour + time.Hour},
	{Name: "1day", Event: model.EventRefreshReminder1Day, From: 23 * time.Hour, To: 25 * time.Hour},
	{Name: "1hour", Event: model.EventRefreshReminder1Hour, From: 55 * time.Minute, To: 65 * time.Minute},
}

// MarkToken identifies one firing of the window for a planned instant, e.g.
// "1hour_2025-03-10T09:00". Scans on either side of an hour or day boundary
// agree on it, and rescheduling yields a fresh token.
func (w ReminderWindow) MarkToken(planned time.Time) string {
	return w.Name + "_" + planned.UTC().Format("2006-01-02T15:04")
}

// Notifier is the part of NotificationService the scanner needs.
type Notifier interface {
	SendNotifications(ctx context.Context, intentID string, event model.EventType, extra Extra)
}

// ReminderScanner finds intents entering a reminder window and notifies
// each one once per mark token.
type ReminderScanner struct {
	db       *gorm.DB
	notifier Notifier
	logger   *zap.Logger
	locker   Locker
	lockTTL  time.Duration
	now      func() time.Time
}

func NewReminderScanner(db *gorm.DB, notifier Notifier, logger *zap.Logger) *ReminderScanner {
	return &ReminderScanner{
		db:       db,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// WithLocker makes overlapping scans across processes skip instead of
// racing. The mark claim alone already prevents duplicate sends.
func (s *ReminderScanner) WithLocker(locker Locker, ttl time.Duration) *ReminderScanner {
	s.locker = locker
	s.lockTTL = ttl
	return s
}

// SetClock replaces the time source.
func (s *ReminderScanner) SetClock(now func() time.Time) {
	s.now = now
}

// ProcessScheduledReminders runs one pass over every window and returns the
// number of reminders dispatched.
func (s *ReminderScanner) ProcessScheduledReminders(ctx context.Context) int {
	if s.locker != nil {
		lock, err := s.locker.Acquire(ctx, "reminder-scan", s.lockTTL)
		switch {
		case errors.Is(err, ErrLockHeld):
			s.logger.Info("reminder scan already running elsewhere, skipping")
			return 0
		case err != nil:
			s.logger.Warn("reminder scan lock unavailable, scanning without it", zap.Error(err))
		default:
			defer func() {
				if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
					s.logger.Warn("release reminder scan lock failed", zap.Error(err))
				}
			}()
		}
	}

	now := s.now().UTC()
	total := 0
	for _, w := range ReminderWindows {
		total += s.processWindow(ctx, w, now)
	}

	if total > 0 {
		s.logger.Info("reminder scan finished", zap.Int("sent", total))
	}
	return total
}

func (s *ReminderScanner) processWindow(ctx context.Context, w ReminderWindow, now time.Time) int {
	intents, err := s.dueIntents(ctx, w, now)
	if err != nil {
		s.logger.Error("select reminder candidates failed", zap.String("window", w.Name), zap.Error(err))
		return 0
	}

	sent := 0
	for _, intent := range intents {
		if intent.PlannedDate == nil {
			continue
		}
		token := w.MarkToken(*intent.PlannedDate)
		claimed, err := s.claim(ctx, intent.ID, token)
		if err != nil {
			s.logger.Error("claim reminder mark failed",
				zap.String("intent_id", intent.ID), zap.String("mark", token), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}

		s.notifier.SendNotifications(ctx, intent.ID, w.Event, nil)
		sent++
	}
	return sent
}

// dueIntents returns approved or scheduled intents planned inside the window.
// Planned dates are stored in UTC, so the bounds are too.
func (s *ReminderScanner) dueIntents(ctx context.Context, w ReminderWindow, now time.Time) ([]model.RefreshIntent, error) {
	now = now.UTC()
	var intents []model.RefreshIntent
	err := s.db.WithContext(ctx).
		Select("id", "planned_date").
		Where("status IN ?", []model.RefreshStatus{model.RefreshStatusApproved, model.RefreshStatusScheduled}).
		Where("planned_date >= ? AND planned_date <= ?", now.Add(w.From), now.Add(w.To)).
		Order("planned_date").
		Find(&intents).Error
	return intents, err
}

// claim inserts the mark and reports whether this call created it. The
// unique (intent_id, mark) index makes the check and the append one
// statement, so concurrent scans cannot both win.
func (s *ReminderScanner) claim(ctx context.Context, intentID, token string) (bool, error) {
	mark := model.RefreshReminderMark{IntentID: intentID, Mark: token}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&mark)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
