package service

import (
	"context"
	"errors"
	"time"

	"bookmyenv/internal/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NotificationService fans a refresh lifecycle event out to every channel
// enabled by the applicable settings and to the requester's inbox.
type NotificationService struct {
	db          *gorm.DB
	logger      *zap.Logger
	settings    *SettingsResolver
	content     *ContentBuilder
	dispatchers []Dispatcher
	baseURL     string
	timeout     time.Duration
}

// NotificationOptions configures a NotificationService.
type NotificationOptions struct {
	BaseURL  string
	Location *time.Location
	// DateLayout formats planned dates in message text.
	DateLayout string
	// Timeout bounds one SendNotifications call. Zero means no bound.
	Timeout time.Duration
}

func NewNotificationService(db *gorm.DB, transport Transport, logger *zap.Logger, opts NotificationOptions) *NotificationService {
	return &NotificationService{
		db:          db,
		logger:      logger,
		settings:    NewSettingsResolver(db, logger),
		content:     NewContentBuilder(opts.Location, opts.DateLayout),
		dispatchers: NewDispatchers(db, transport, logger, opts.BaseURL),
		baseURL:     opts.BaseURL,
		timeout:     opts.Timeout,
	}
}

// requesterEvents are the outcomes the requester always hears about,
// whatever the administrators configured.
var requesterEvents = map[model.EventType]bool{
	model.EventRefreshApproved:  true,
	model.EventRefreshRejected:  true,
	model.EventRefreshCompleted: true,
	model.EventRefreshFailed:    true,
}

func requesterNotifiedDirectly(intent *model.RefreshIntent, event model.EventType) bool {
	return requesterEvents[event] && intent.RequesterEmail() != ""
}

// SendNotifications delivers event for the intent. It never fails the
// caller: a missing intent or a channel failure is logged and recorded.
// Delivery continues if ctx is cancelled after the call starts, bounded by
// the configured timeout.
func (s *NotificationService) SendNotifications(ctx context.Context, intentID string, event model.EventType, extra Extra) {
	ctx = context.WithoutCancel(ctx)
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var intent model.RefreshIntent
	if err := s.db.WithContext(ctx).Preload("Requester").First(&intent, "id = ?", intentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("refresh intent not found for notification",
				zap.String("intent_id", intentID), zap.String("event", string(event)))
		} else {
			s.logger.Error("load refresh intent failed",
				zap.String("intent_id", intentID), zap.String("event", string(event)), zap.Error(err))
		}
		return
	}

	s.notify(ctx, &intent, event, extra)
}

// notify runs the fan-out for an already loaded intent.
func (s *NotificationService) notify(ctx context.Context, intent *model.RefreshIntent, event model.EventType, extra Extra) {
	content := s.content.Build(intent, event, extra)
	settings := s.settings.Resolve(ctx, intent.EntityType, intent.EntityID, intent.NotificationGroups)

	sent := 0
	for i := range settings {
		setting := &settings[i]
		if !setting.Subscribes(event) {
			continue
		}
		for _, d := range s.dispatchers {
			if !d.Configured(setting) {
				continue
			}
			d.Send(ctx, intent, event, content, setting)
			sent++
		}
	}

	if requesterNotifiedDirectly(intent, event) {
		s.notifyRequester(ctx, intent, event, content)
	}

	s.logger.Info("refresh notifications dispatched",
		zap.String("intent_id", intent.ID),
		zap.String("event", string(event)),
		zap.Int("settings", len(settings)),
		zap.Int("channel_sends", sent))
}

// notifyRequester drops the outcome into the requester's inbox. No log row
// is written for it.
func (s *NotificationService) notifyRequester(ctx context.Context, intent *model.RefreshIntent, event model.EventType, content Content) {
	n := newInAppNotification(intent.RequestedBy, intent, event, content, s.baseURL)
	if err := s.db.WithContext(ctx).Create(&n).Error; err != nil {
		s.logger.Error("create requester notification failed",
			zap.String("intent_id", intent.ID), zap.String("user_id", intent.RequestedBy), zap.Error(err))
	}
}
