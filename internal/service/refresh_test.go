package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"bookmyenv/internal/model"

	"go.uber.org/zap"
)

func newTestRefreshService(t *testing.T) (*RefreshService, *recordingNotifier, *model.User) {
	t.Helper()
	db := newTestDB(t)
	notifier := &recordingNotifier{}
	return NewRefreshService(db, notifier, zap.NewNop(), false), notifier, createUser(t, db, "requester", model.UserStatusActive)
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to model.RefreshStatus
		want     bool
	}{
		{model.RefreshStatusRequested, model.RefreshStatusApproved, true},
		{model.RefreshStatusRequested, model.RefreshStatusScheduled, false},
		{model.RefreshStatusApproved, model.RefreshStatusScheduled, true},
		{model.RefreshStatusScheduled, model.RefreshStatusScheduled, true},
		{model.RefreshStatusScheduled, model.RefreshStatusInProgress, true},
		{model.RefreshStatusInProgress, model.RefreshStatusCancelled, false},
		{model.RefreshStatusInProgress, model.RefreshStatusFailed, true},
		{model.RefreshStatusCompleted, model.RefreshStatusInProgress, false},
		{model.RefreshStatusCancelled, model.RefreshStatusApproved, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestRefreshService_Lifecycle(t *testing.T) {
	svc, notifier, requester := newTestRefreshService(t)
	ctx := context.Background()

	intent, err := svc.Create(ctx, requester.ID, CreateIntentInput{
		EntityType:  "Environment",
		EntityID:    "env-7",
		EntityName:  "Env-7",
		RefreshType: "DATA_ONLY",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if intent.Status != model.RefreshStatusRequested {
		t.Fatalf("status = %s, want REQUESTED", intent.Status)
	}

	approver := createUser(t, svc.db, "approver", model.UserStatusActive)
	intent, err = svc.Approve(ctx, intent.ID, approver.ID, "go ahead")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if intent.ApprovedBy != approver.ID || intent.ApprovedAt == nil || intent.ApprovalNotes != "go ahead" {
		t.Errorf("approval fields not stored: %+v", intent)
	}

	planned := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	if intent, err = svc.Schedule(ctx, intent.ID, planned); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if intent.PlannedDate == nil || !intent.PlannedDate.Equal(planned) {
		t.Errorf("planned date = %v, want %v", intent.PlannedDate, planned)
	}
	if _, err = svc.Start(ctx, intent.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if intent, err = svc.Complete(ctx, intent.ID, "", "12 GB"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if intent.Status != model.RefreshStatusCompleted || intent.CompletedAt == nil {
		t.Errorf("status = %s completed_at = %v", intent.Status, intent.CompletedAt)
	}

	want := []model.EventType{
		model.EventRefreshRequested,
		model.EventRefreshApproved,
		model.EventRefreshScheduled,
		model.EventRefreshStarting,
		model.EventRefreshCompleted,
	}
	got := notifier.events()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}

	last := notifier.calls[len(notifier.calls)-1]
	if last.extra[ExtraDataVolume] != "12 GB" {
		t.Errorf("data volume extra = %q", last.extra[ExtraDataVolume])
	}
	if last.extra[ExtraDuration] == "" {
		t.Errorf("duration should be derived from started_at")
	}
}

func TestRefreshService_InvalidTransition(t *testing.T) {
	svc, notifier, requester := newTestRefreshService(t)
	intent := createIntent(t, svc.db, requester, model.RefreshStatusRequested, nil)

	if _, err := svc.Start(context.Background(), intent.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Start from REQUESTED err = %v, want ErrInvalidTransition", err)
	}
	if len(notifier.events()) != 0 {
		t.Errorf("events = %v, want none", notifier.events())
	}

	var reloaded model.RefreshIntent
	svc.db.First(&reloaded, "id = ?", intent.ID)
	if reloaded.Status != model.RefreshStatusRequested {
		t.Errorf("status changed to %s", reloaded.Status)
	}
}

func TestRefreshService_NotFound(t *testing.T) {
	svc, _, _ := newTestRefreshService(t)
	if _, err := svc.Approve(context.Background(), "missing", "someone", ""); !errors.Is(err, ErrIntentNotFound) {
		t.Errorf("err = %v, want ErrIntentNotFound", err)
	}
	if _, err := svc.Get(context.Background(), "missing"); !errors.Is(err, ErrIntentNotFound) {
		t.Errorf("Get err = %v, want ErrIntentNotFound", err)
	}
}

func TestRefreshService_CancelSendsNothing(t *testing.T) {
	svc, notifier, requester := newTestRefreshService(t)
	intent := createIntent(t, svc.db, requester, model.RefreshStatusApproved, nil)

	got, err := svc.Cancel(context.Background(), intent.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != model.RefreshStatusCancelled {
		t.Errorf("status = %s", got.Status)
	}
	if len(notifier.events()) != 0 {
		t.Errorf("events = %v, want none", notifier.events())
	}
}

func TestRefreshService_RejectAndFailCarryExtras(t *testing.T) {
	svc, notifier, requester := newTestRefreshService(t)
	requested := createIntent(t, svc.db, requester, model.RefreshStatusRequested, nil)
	running := createIntent(t, svc.db, requester, model.RefreshStatusInProgress, nil)

	if _, err := svc.Reject(context.Background(), requested.ID, "change freeze"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	failed, err := svc.Fail(context.Background(), running.ID, "disk full")
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if failed.ErrorMessage != "disk full" {
		t.Errorf("error message = %q", failed.ErrorMessage)
	}

	if len(notifier.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(notifier.calls))
	}
	if notifier.calls[0].extra[ExtraRejectionReason] != "change freeze" {
		t.Errorf("rejection extra = %v", notifier.calls[0].extra)
	}
	if notifier.calls[1].event != model.EventRefreshFailed || notifier.calls[1].extra[ExtraErrorMessage] != "disk full" {
		t.Errorf("fail call = %+v", notifier.calls[1])
	}
}

func TestRefreshService_Conflicts(t *testing.T) {
	svc, notifier, requester := newTestRefreshService(t)
	scheduled := createIntent(t, svc.db, requester, model.RefreshStatusScheduled, nil)
	done := createIntent(t, svc.db, requester, model.RefreshStatusCompleted, nil)

	got, err := svc.ReportConflict(context.Background(), scheduled.ID, "Sprint demo", "mallory")
	if err != nil {
		t.Fatalf("ReportConflict: %v", err)
	}
	if got.Status != model.RefreshStatusScheduled {
		t.Errorf("status changed to %s", got.Status)
	}
	if _, err := svc.ResolveConflict(context.Background(), scheduled.ID, "booking moved"); err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}
	if _, err := svc.ReportConflict(context.Background(), done.ID, "x", "y"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("conflict on completed intent err = %v", err)
	}

	want := []model.EventType{model.EventRefreshConflictDetected, model.EventRefreshConflictResolved}
	got2 := notifier.events()
	if len(got2) != 2 || got2[0] != want[0] || got2[1] != want[1] {
		t.Errorf("events = %v, want %v", got2, want)
	}
	if notifier.calls[0].extra[ExtraBookingOwner] != "mallory" {
		t.Errorf("booking owner extra = %v", notifier.calls[0].extra)
	}
}

func TestRefreshService_CreateValidation(t *testing.T) {
	svc, notifier, requester := newTestRefreshService(t)

	cases := []CreateIntentInput{
		{EntityID: "env-1", RefreshType: "FULL_COPY"},
		{EntityType: "Environment", EntityID: " ", RefreshType: "FULL_COPY"},
		{EntityType: "Environment", EntityID: "env-1"},
		{EntityType: "Environment", EntityID: "env-1", RefreshType: "FULL_COPY", DowntimeMinutes: -5},
	}
	for i, in := range cases {
		if _, err := svc.Create(context.Background(), requester.ID, in); !errors.Is(err, ErrInvalidIntent) {
			t.Errorf("case %d err = %v, want ErrInvalidIntent", i, err)
		}
	}
	if len(notifier.events()) != 0 {
		t.Errorf("events = %v, want none", notifier.events())
	}
}

func TestRefreshService_ScheduleRequiresDate(t *testing.T) {
	svc, _, requester := newTestRefreshService(t)
	intent := createIntent(t, svc.db, requester, model.RefreshStatusApproved, nil)

	if _, err := svc.Schedule(context.Background(), intent.ID, time.Time{}); !errors.Is(err, ErrInvalidIntent) {
		t.Errorf("err = %v, want ErrInvalidIntent", err)
	}
}

func TestRefreshService_AsyncWait(t *testing.T) {
	db := newTestDB(t)
	notifier := &recordingNotifier{}
	svc := NewRefreshService(db, notifier, zap.NewNop(), true)
	requester := createUser(t, db, "requester", model.UserStatusActive)
	intent := createIntent(t, db, requester, model.RefreshStatusRequested, nil)

	if _, err := svc.Approve(context.Background(), intent.ID, requester.ID, ""); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	svc.Wait()

	if got := notifier.events(); len(got) != 1 || got[0] != model.EventRefreshApproved {
		t.Errorf("events = %v", got)
	}
}

func TestRefreshService_ScheduleStoresUTC(t *testing.T) {
	svc, _, requester := newTestRefreshService(t)
	intent := createIntent(t, svc.db, requester, model.RefreshStatusApproved, nil)

	planned := time.Date(2025, 3, 10, 14, 0, 0, 0, time.FixedZone("UTC+5", 5*60*60))
	if _, err := svc.Schedule(context.Background(), intent.ID, planned); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	var stored model.RefreshIntent
	if err := svc.db.First(&stored, "id = ?", intent.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.PlannedDate == nil || !stored.PlannedDate.Equal(planned) {
		t.Fatalf("planned date = %v, want %v", stored.PlannedDate, planned)
	}
	if _, offset := stored.PlannedDate.Zone(); offset != 0 {
		t.Errorf("planned date stored with offset %d, want UTC", offset)
	}
}
