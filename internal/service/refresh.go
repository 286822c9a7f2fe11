package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"bookmyenv/internal/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrIntentNotFound    = errors.New("refresh intent not found")
	ErrInvalidTransition = errors.New("invalid refresh status transition")
	ErrInvalidIntent     = errors.New("invalid refresh intent")
)

// transitions lists the statuses reachable from each status.
var transitions = map[model.RefreshStatus][]model.RefreshStatus{
	model.RefreshStatusRequested:  {model.RefreshStatusApproved, model.RefreshStatusRejected, model.RefreshStatusCancelled},
	model.RefreshStatusApproved:   {model.RefreshStatusScheduled, model.RefreshStatusInProgress, model.RefreshStatusCancelled},
	model.RefreshStatusScheduled:  {model.RefreshStatusScheduled, model.RefreshStatusInProgress, model.RefreshStatusCancelled},
	model.RefreshStatusInProgress: {model.RefreshStatusCompleted, model.RefreshStatusFailed},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to model.RefreshStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// RefreshService owns the refresh intent lifecycle and emits a
// notification event for every transition.
type RefreshService struct {
	db       *gorm.DB
	notifier Notifier
	logger   *zap.Logger
	async    bool
	wg       sync.WaitGroup
}

// NewRefreshService creates the service. With async set, notifications run
// in the background so a slow channel never delays the caller.
func NewRefreshService(db *gorm.DB, notifier Notifier, logger *zap.Logger, async bool) *RefreshService {
	return &RefreshService{db: db, notifier: notifier, logger: logger, async: async}
}

// Wait blocks until background notifications have finished.
func (s *RefreshService) Wait() {
	s.wg.Wait()
}

type CreateIntentInput struct {
	EntityType         string     `json:"entity_type" binding:"required"`
	EntityID           string     `json:"entity_id" binding:"required"`
	EntityName         string     `json:"entity_name"`
	RefreshType        string     `json:"refresh_type" binding:"required"`
	PlannedDate        *time.Time `json:"planned_date"`
	SourceEnvironment  string     `json:"source_environment"`
	RequiresDowntime   bool       `json:"requires_downtime"`
	DowntimeMinutes    int        `json:"estimated_downtime_minutes"`
	Reason             string     `json:"reason"`
	NotificationGroups []string   `json:"notification_groups"`
}

// Create records a new intent in REQUESTED state.
func (s *RefreshService) Create(ctx context.Context, requestedBy string, in CreateIntentInput) (*model.RefreshIntent, error) {
	if strings.TrimSpace(in.EntityType) == "" || strings.TrimSpace(in.EntityID) == "" || strings.TrimSpace(in.RefreshType) == "" {
		return nil, fmt.Errorf("%w: entity_type, entity_id and refresh_type are required", ErrInvalidIntent)
	}
	if in.DowntimeMinutes < 0 {
		return nil, fmt.Errorf("%w: estimated_downtime_minutes must not be negative", ErrInvalidIntent)
	}

	intent := &model.RefreshIntent{
		EntityType:         in.EntityType,
		EntityID:           in.EntityID,
		EntityName:         in.EntityName,
		RefreshType:        in.RefreshType,
		Status:             model.RefreshStatusRequested,
		PlannedDate:        in.PlannedDate,
		RequestedBy:        requestedBy,
		SourceEnvironment:  in.SourceEnvironment,
		RequiresDowntime:   in.RequiresDowntime,
		DowntimeMinutes:    in.DowntimeMinutes,
		Reason:             in.Reason,
		NotificationGroups: in.NotificationGroups,
	}
	if err := s.db.WithContext(ctx).Create(intent).Error; err != nil {
		return nil, err
	}

	s.emit(ctx, intent.ID, model.EventRefreshRequested, nil)
	return intent, nil
}

// Get loads an intent with its requester.
func (s *RefreshService) Get(ctx context.Context, id string) (*model.RefreshIntent, error) {
	var intent model.RefreshIntent
	if err := s.db.WithContext(ctx).Preload("Requester").First(&intent, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}
	return &intent, nil
}

func (s *RefreshService) Approve(ctx context.Context, id, approverID, notes string) (*model.RefreshIntent, error) {
	now := time.Now()
	return s.transition(ctx, id, model.RefreshStatusApproved, map[string]any{
		"approved_by":    approverID,
		"approved_at":    now,
		"approval_notes": notes,
	}, model.EventRefreshApproved, Extra{ExtraApprovalNotes: notes})
}

func (s *RefreshService) Reject(ctx context.Context, id, reason string) (*model.RefreshIntent, error) {
	return s.transition(ctx, id, model.RefreshStatusRejected, map[string]any{
		"rejection_reason": reason,
	}, model.EventRefreshRejected, Extra{ExtraRejectionReason: reason})
}

// Schedule sets the planned date. Rescheduling an already scheduled intent
// is allowed and notifies again.
func (s *RefreshService) Schedule(ctx context.Context, id string, plannedDate time.Time) (*model.RefreshIntent, error) {
	if plannedDate.IsZero() {
		return nil, fmt.Errorf("%w: planned_date is required", ErrInvalidIntent)
	}
	return s.transition(ctx, id, model.RefreshStatusScheduled, map[string]any{
		"planned_date": plannedDate.UTC(),
	}, model.EventRefreshScheduled, nil)
}

func (s *RefreshService) Start(ctx context.Context, id string) (*model.RefreshIntent, error) {
	return s.transition(ctx, id, model.RefreshStatusInProgress, map[string]any{
		"started_at": time.Now(),
	}, model.EventRefreshStarting, nil)
}

// Complete finishes the refresh. duration and dataVolume are free text used
// only in the notification.
func (s *RefreshService) Complete(ctx context.Context, id, duration, dataVolume string) (*model.RefreshIntent, error) {
	extra := Extra{ExtraDuration: duration, ExtraDataVolume: dataVolume}
	if duration == "" {
		if intent, err := s.Get(ctx, id); err == nil && intent.StartedAt != nil {
			extra[ExtraDuration] = time.Since(*intent.StartedAt).Round(time.Minute).String()
		}
	}
	return s.transition(ctx, id, model.RefreshStatusCompleted, map[string]any{
		"completed_at": time.Now(),
	}, model.EventRefreshCompleted, extra)
}

func (s *RefreshService) Fail(ctx context.Context, id, errorMessage string) (*model.RefreshIntent, error) {
	return s.transition(ctx, id, model.RefreshStatusFailed, map[string]any{
		"completed_at":  time.Now(),
		"error_message": errorMessage,
	}, model.EventRefreshFailed, Extra{ExtraErrorMessage: errorMessage})
}

// Cancel withdraws the intent. No event type exists for cancellation, so
// nothing is sent.
func (s *RefreshService) Cancel(ctx context.Context, id string) (*model.RefreshIntent, error) {
	return s.transition(ctx, id, model.RefreshStatusCancelled, nil, "", nil)
}

// ReportConflict announces a booking collision without changing status.
func (s *RefreshService) ReportConflict(ctx context.Context, id, bookingName, bookingOwner string) (*model.RefreshIntent, error) {
	return s.announce(ctx, id, model.EventRefreshConflictDetected, Extra{
		ExtraBookingName:  bookingName,
		ExtraBookingOwner: bookingOwner,
	})
}

func (s *RefreshService) ResolveConflict(ctx context.Context, id, resolution string) (*model.RefreshIntent, error) {
	return s.announce(ctx, id, model.EventRefreshConflictResolved, Extra{ExtraResolution: resolution})
}

func (s *RefreshService) announce(ctx context.Context, id string, event model.EventType, extra Extra) (*model.RefreshIntent, error) {
	intent, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if intent.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: intent is %s", ErrInvalidTransition, intent.Status)
	}
	s.emit(ctx, intent.ID, event, extra)
	return intent, nil
}

// transition moves the intent to status inside a row-locked transaction and
// then emits event when one is given.
func (s *RefreshService) transition(ctx context.Context, id string, to model.RefreshStatus, fields map[string]any, event model.EventType, extra Extra) (*model.RefreshIntent, error) {
	var intent model.RefreshIntent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).First(&intent, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrIntentNotFound
			}
			return err
		}
		if !CanTransition(intent.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, intent.Status, to)
		}

		updates := map[string]any{"status": to}
		for k, v := range fields {
			updates[k] = v
		}
		return tx.Model(&intent).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("refresh intent transitioned",
		zap.String("intent_id", id), zap.String("status", string(to)))

	if event != "" {
		s.emit(ctx, id, event, extra)
	}
	return s.Get(ctx, id)
}

// lockForUpdate adds SELECT ... FOR UPDATE on drivers that support it.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (s *RefreshService) emit(ctx context.Context, intentID string, event model.EventType, extra Extra) {
	if !s.async {
		s.notifier.SendNotifications(ctx, intentID, event, extra)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.notifier.SendNotifications(context.WithoutCancel(ctx), intentID, event, extra)
	}()
}
