package service

import (
	"context"
	"testing"

	"bookmyenv/internal/model"

	"go.uber.org/zap"
)

func TestResolveDefaultsToInApp(t *testing.T) {
	db := newTestDB(t)
	r := NewSettingsResolver(db, zap.NewNop())

	settings := r.Resolve(context.Background(), "Environment", "env-42", nil)
	if len(settings) != 1 {
		t.Fatalf("len = %d, want 1", len(settings))
	}
	s := settings[0]
	if !s.InAppEnabled || s.EmailEnabled || s.TeamsWebhookURL != "" || s.SlackWebhookURL != "" || s.WebhookURL != "" {
		t.Errorf("default setting should be in-app only: %+v", s)
	}
	for _, e := range model.AllEventTypes() {
		if !s.Subscribes(e) {
			t.Errorf("default setting does not subscribe %s", e)
		}
	}
}

func TestResolveUnionsScopesInOrder(t *testing.T) {
	db := newTestDB(t)
	group := createGroup(t, db, "dba")
	other := createGroup(t, db, "qa")

	createSetting(t, db, model.NotificationSetting{ScopeType: model.ScopeGlobal, InAppEnabled: true,
		SubscribedEvents: []model.EventType{model.EventRefreshScheduled}})
	createSetting(t, db, model.NotificationSetting{ScopeType: model.ScopeGroup, GroupID: &group.ID, EmailEnabled: true,
		SubscribedEvents: []model.EventType{model.EventRefreshScheduled}})
	createSetting(t, db, model.NotificationSetting{ScopeType: model.ScopeGroup, GroupID: &other.ID, EmailEnabled: true,
		SubscribedEvents: []model.EventType{model.EventRefreshScheduled}})
	createSetting(t, db, model.NotificationSetting{ScopeType: model.ScopeEntity, EntityType: "Environment", EntityID: "env-42",
		SlackWebhookURL: "https://hooks.slack.test/x", SubscribedEvents: []model.EventType{model.EventRefreshScheduled}})
	createSetting(t, db, model.NotificationSetting{ScopeType: model.ScopeEntity, EntityType: "Environment", EntityID: "env-99",
		SlackWebhookURL: "https://hooks.slack.test/y", SubscribedEvents: []model.EventType{model.EventRefreshScheduled}})

	r := NewSettingsResolver(db, zap.NewNop())
	settings := r.Resolve(context.Background(), "Environment", "env-42", []string{group.ID})

	if len(settings) != 3 {
		t.Fatalf("len = %d, want 3", len(settings))
	}
	want := []model.SettingScope{model.ScopeEntity, model.ScopeGroup, model.ScopeGlobal}
	for i, s := range settings {
		if s.ScopeType != want[i] {
			t.Errorf("settings[%d].ScopeType = %s, want %s", i, s.ScopeType, want[i])
		}
	}
	if settings[1].RecipientGroupID() != group.ID {
		t.Errorf("group setting for wrong group: %s", settings[1].RecipientGroupID())
	}
}

func TestResolveSkipsGroupQueryWithoutGroups(t *testing.T) {
	db := newTestDB(t)
	group := createGroup(t, db, "dba")
	createSetting(t, db, model.NotificationSetting{ScopeType: model.ScopeGroup, GroupID: &group.ID, EmailEnabled: true,
		SubscribedEvents: []model.EventType{model.EventRefreshScheduled}})

	r := NewSettingsResolver(db, zap.NewNop())
	settings := r.Resolve(context.Background(), "Environment", "env-42", nil)

	if len(settings) != 1 || settings[0].ID != "" {
		t.Fatalf("expected only the synthesized default, got %+v", settings)
	}
}
