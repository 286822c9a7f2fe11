package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"bookmyenv/internal/model"

	"gorm.io/datatypes"
)

func events(e ...model.EventType) datatypes.JSONSlice[model.EventType] {
	return datatypes.JSONSlice[model.EventType](e)
}

func TestSendNotifications_ScheduledInApp(t *testing.T) {
	db := newTestDB(t)
	transport := &fakeTransport{}
	svc := newTestNotificationService(db, transport)

	requester := createUser(t, db, "alice", model.UserStatusActive)
	intent := createIntent(t, db, requester, model.RefreshStatusApproved, timePtr(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)))
	createSetting(t, db, model.NotificationSetting{
		ScopeType:        model.ScopeGlobal,
		InAppEnabled:     true,
		SubscribedEvents: events(model.EventRefreshScheduled),
	})

	svc.SendNotifications(context.Background(), intent.ID, model.EventRefreshScheduled, nil)

	var notifications []model.Notification
	if err := db.Find(&notifications).Error; err != nil {
		t.Fatalf("load notifications: %v", err)
	}
	if len(notifications) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notifications))
	}
	n := notifications[0]
	if n.UserID != requester.ID {
		t.Errorf("notification user = %s, want %s", n.UserID, requester.ID)
	}
	if !strings.Contains(n.Message, "Mar 10, 2025 09:00") {
		t.Errorf("message %q does not contain planned date", n.Message)
	}
	if n.ActionURL != "https://bookmyenv.example.com/refresh-intents/"+intent.ID {
		t.Errorf("action url = %s", n.ActionURL)
	}
	if n.Type != string(model.EventRefreshScheduled) {
		t.Errorf("type = %s", n.Type)
	}

	var logs []model.NotificationLog
	db.Find(&logs)
	if len(logs) != 1 {
		t.Fatalf("logs = %d, want 1", len(logs))
	}
	if logs[0].Channel != model.ChannelInApp || logs[0].Status != model.DeliveryStatusDelivered {
		t.Errorf("log = %s/%s, want IN_APP/DELIVERED", logs[0].Channel, logs[0].Status)
	}
	if transport.count() != 0 {
		t.Errorf("transport called %d times for an in-app only setting", transport.count())
	}
}

func TestSendNotifications_UnsubscribedEvent(t *testing.T) {
	db := newTestDB(t)
	transport := &fakeTransport{}
	svc := newTestNotificationService(db, transport)

	requester := createUser(t, db, "bob", model.UserStatusActive)
	group := createGroup(t, db, "ops", requester)
	intent := createIntent(t, db, requester, model.RefreshStatusInProgress, nil)
	createSetting(t, db, model.NotificationSetting{
		ScopeType:        model.ScopeGlobal,
		GroupID:          &group.ID,
		EmailEnabled:     true,
		InAppEnabled:     true,
		TeamsWebhookURL:  "https://teams.example.com/hook",
		SubscribedEvents: events(model.EventRefreshScheduled),
	})

	svc.SendNotifications(context.Background(), intent.ID, model.EventRefreshStarting, nil)

	var notifications, logs int64
	db.Model(&model.Notification{}).Count(&notifications)
	db.Model(&model.NotificationLog{}).Count(&logs)
	if notifications != 0 || logs != 0 {
		t.Errorf("notifications=%d logs=%d, want none", notifications, logs)
	}
	if transport.count() != 0 {
		t.Errorf("transport called %d times", transport.count())
	}
}

func TestSendNotifications_CompletedReachesRequesterWithoutSettings(t *testing.T) {
	db := newTestDB(t)
	svc := newTestNotificationService(db, &fakeTransport{})

	requester := createUser(t, db, "carol", model.UserStatusActive)
	intent := createIntent(t, db, requester, model.RefreshStatusCompleted, nil)

	svc.SendNotifications(context.Background(), intent.ID, model.EventRefreshCompleted, Extra{ExtraDuration: "42m"})

	var notifications []model.Notification
	db.Where("user_id = ?", requester.ID).Find(&notifications)
	if len(notifications) != 1 {
		t.Fatalf("requester notifications = %d, want 1", len(notifications))
	}
	if notifications[0].Type != string(model.EventRefreshCompleted) {
		t.Errorf("type = %s", notifications[0].Type)
	}
	if !strings.Contains(notifications[0].Message, "42m") {
		t.Errorf("message %q does not mention the duration", notifications[0].Message)
	}

	var logs int64
	db.Model(&model.NotificationLog{}).Count(&logs)
	if logs != 0 {
		t.Errorf("logs = %d, want 0", logs)
	}
}

func TestSendNotifications_RequesterDirectAlongsideGroup(t *testing.T) {
	db := newTestDB(t)
	svc := newTestNotificationService(db, &fakeTransport{})

	requester := createUser(t, db, "dave", model.UserStatusActive)
	member := createUser(t, db, "erin", model.UserStatusActive)
	group := createGroup(t, db, "team", member)
	intent := createIntent(t, db, requester, model.RefreshStatusRequested, nil)
	createSetting(t, db, model.NotificationSetting{
		ScopeType:        model.ScopeGlobal,
		GroupID:          &group.ID,
		InAppEnabled:     true,
		SubscribedEvents: events(model.EventRefreshRejected),
	})

	svc.SendNotifications(context.Background(), intent.ID, model.EventRefreshRejected, Extra{ExtraRejectionReason: "freeze"})

	var forRequester, forMember int64
	db.Model(&model.Notification{}).Where("user_id = ?", requester.ID).Count(&forRequester)
	db.Model(&model.Notification{}).Where("user_id = ?", member.ID).Count(&forMember)
	if forRequester != 1 || forMember != 1 {
		t.Errorf("requester=%d member=%d, want 1 each", forRequester, forMember)
	}

	var logs []model.NotificationLog
	db.Find(&logs)
	if len(logs) != 1 || logs[0].RecipientType != model.RecipientGroup || logs[0].RecipientID != group.ID {
		t.Errorf("logs = %+v, want one GROUP row", logs)
	}
}

func TestSendNotifications_EmailActiveMembersOnly(t *testing.T) {
	db := newTestDB(t)
	transport := &fakeTransport{failFor: map[string]error{
		"gina@example.com": errors.New("mailbox unavailable"),
	}}
	svc := newTestNotificationService(db, transport)

	requester := createUser(t, db, "frank", model.UserStatusActive)
	failing := createUser(t, db, "gina", model.UserStatusActive)
	disabled := createUser(t, db, "hank", model.UserStatusDisabled)
	group := createGroup(t, db, "dba", requester, failing, disabled)
	intent := createIntent(t, db, requester, model.RefreshStatusApproved, nil)
	createSetting(t, db, model.NotificationSetting{
		ScopeType:        model.ScopeGlobal,
		GroupID:          &group.ID,
		EmailEnabled:     true,
		SubscribedEvents: events(model.EventRefreshRequested),
	})

	svc.SendNotifications(context.Background(), intent.ID, model.EventRefreshRequested, nil)

	if transport.count() != 2 {
		t.Fatalf("deliveries = %d, want 2", transport.count())
	}
	for _, d := range transport.deliveries {
		if d.Target == disabled.Email {
			t.Errorf("disabled member received email")
		}
		if d.Channel != model.ChannelEmail {
			t.Errorf("channel = %s", d.Channel)
		}
	}

	var logs []model.NotificationLog
	db.Order("recipient_email").Find(&logs)
	if len(logs) != 2 {
		t.Fatalf("logs = %d, want 2", len(logs))
	}
	byEmail := map[string]model.NotificationLog{}
	for _, l := range logs {
		byEmail[l.RecipientEmail] = l
	}
	if l := byEmail[requester.Email]; l.Status != model.DeliveryStatusSent || l.RecipientType != model.RecipientUser {
		t.Errorf("requester log = %s/%s", l.Status, l.RecipientType)
	}
	if l := byEmail[failing.Email]; l.Status != model.DeliveryStatusFailed || l.ErrorMessage != "mailbox unavailable" {
		t.Errorf("failing log = %s %q", l.Status, l.ErrorMessage)
	}
}

func TestSendNotifications_GroupLoadFailureIsLogged(t *testing.T) {
	db := newTestDB(t)
	transport := &fakeTransport{}
	svc := newTestNotificationService(db, transport)

	requester := createUser(t, db, "ivan", model.UserStatusActive)
	group := createGroup(t, db, "qa", requester)
	intent := createIntent(t, db, requester, model.RefreshStatusScheduled, nil)
	createSetting(t, db, model.NotificationSetting{
		ScopeType:        model.ScopeGlobal,
		GroupID:          &group.ID,
		EmailEnabled:     true,
		InAppEnabled:     true,
		SubscribedEvents: events(model.EventRefreshStarting),
	})
	if err := db.Migrator().DropTable(&model.UserGroupMember{}); err != nil {
		t.Fatalf("drop members table: %v", err)
	}

	svc.SendNotifications(context.Background(), intent.ID, model.EventRefreshStarting, nil)

	if transport.count() != 0 {
		t.Errorf("deliveries = %d, want 0", transport.count())
	}
	var logs []model.NotificationLog
	db.Order("channel").Find(&logs)
	if len(logs) != 2 {
		t.Fatalf("logs = %d, want 2", len(logs))
	}
	for _, l := range logs {
		if l.Status != model.DeliveryStatusFailed || l.ErrorMessage == "" {
			t.Errorf("%s log = %s %q, want FAILED with an error", l.Channel, l.Status, l.ErrorMessage)
		}
		if l.RecipientType != model.RecipientGroup || l.RecipientID != group.ID {
			t.Errorf("%s recipient = %s/%s", l.Channel, l.RecipientType, l.RecipientID)
		}
	}
	if logs[0].Channel != model.ChannelEmail || logs[1].Channel != model.ChannelInApp {
		t.Errorf("channels = %s, %s", logs[0].Channel, logs[1].Channel)
	}
}

func TestSendNotifications_ChatAndWebhookChannels(t *testing.T) {
	db := newTestDB(t)
	transport := &fakeTransport{failFor: map[string]error{
		"https://slack.example.com/hook": errors.New("webhook responded 500 Internal Server Error"),
	}}
	svc := newTestNotificationService(db, transport)

	requester := createUser(t, db, "ivan", model.UserStatusActive)
	intent := createIntent(t, db, requester, model.RefreshStatusInProgress, timePtr(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)))
	createSetting(t, db, model.NotificationSetting{
		ScopeType:        model.ScopeEntity,
		EntityType:       "Environment",
		EntityID:         "env-42",
		TeamsWebhookURL:  "https://teams.example.com/hook",
		SlackWebhookURL:  "https://slack.example.com/hook",
		WebhookURL:       "https://hooks.example.com/refresh",
		WebhookSecret:    "s3cret",
		SubscribedEvents: events(model.EventRefreshFailed),
	})

	svc.SendNotifications(context.Background(), intent.ID, model.EventRefreshFailed, Extra{ExtraErrorMessage: "disk full"})

	if transport.count() != 3 {
		t.Fatalf("deliveries = %d, want 3", transport.count())
	}

	var logs []model.NotificationLog
	db.Find(&logs)
	byChannel := map[model.Channel]model.NotificationLog{}
	for _, l := range logs {
		byChannel[l.Channel] = l
	}
	if len(byChannel) != 3 {
		t.Fatalf("log channels = %v, want TEAMS, SLACK and WEBHOOK", byChannel)
	}
	if l := byChannel[model.ChannelSlack]; l.Status != model.DeliveryStatusFailed {
		t.Errorf("slack status = %s, want FAILED", l.Status)
	}
	if l := byChannel[model.ChannelTeams]; l.Status != model.DeliveryStatusSent || l.WebhookURL != "https://teams.example.com/hook" {
		t.Errorf("teams log = %s %s", l.Status, l.WebhookURL)
	}

	var card TeamsCard
	if err := json.Unmarshal([]byte(byChannel[model.ChannelTeams].Message), &card); err != nil {
		t.Fatalf("teams payload: %v", err)
	}
	if card.ThemeColor != "DC3545" {
		t.Errorf("theme color = %s, want DC3545", card.ThemeColor)
	}

	var payload WebhookPayload
	if err := json.Unmarshal([]byte(byChannel[model.ChannelWebhook].Message), &payload); err != nil {
		t.Fatalf("webhook payload: %v", err)
	}
	if payload.Event != model.EventRefreshFailed || payload.Data.Intent.ID != intent.ID {
		t.Errorf("webhook payload = %+v", payload)
	}

	for _, d := range transport.deliveries {
		if d.Channel == model.ChannelWebhook && d.Secret != "s3cret" {
			t.Errorf("webhook delivery secret = %q", d.Secret)
		}
		if d.Channel != model.ChannelWebhook && d.Secret != "" {
			t.Errorf("%s delivery carries a secret", d.Channel)
		}
	}

	// FAILED has a requester-facing direct notification.
	var notifications int64
	db.Model(&model.Notification{}).Where("user_id = ?", requester.ID).Count(&notifications)
	if notifications != 1 {
		t.Errorf("requester notifications = %d, want 1", notifications)
	}
}

func TestSendNotifications_MissingIntent(t *testing.T) {
	db := newTestDB(t)
	transport := &fakeTransport{}
	svc := newTestNotificationService(db, transport)

	svc.SendNotifications(context.Background(), "does-not-exist", model.EventRefreshApproved, nil)

	var notifications, logs int64
	db.Model(&model.Notification{}).Count(&notifications)
	db.Model(&model.NotificationLog{}).Count(&logs)
	if notifications != 0 || logs != 0 || transport.count() != 0 {
		t.Errorf("missing intent produced side effects: notifications=%d logs=%d deliveries=%d",
			notifications, logs, transport.count())
	}
}

func TestSendNotifications_CancelledContext(t *testing.T) {
	db := newTestDB(t)
	svc := newTestNotificationService(db, &fakeTransport{})

	requester := createUser(t, db, "judy", model.UserStatusActive)
	intent := createIntent(t, db, requester, model.RefreshStatusApproved, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.SendNotifications(ctx, intent.ID, model.EventRefreshApproved, nil)

	var notifications int64
	db.Model(&model.Notification{}).Count(&notifications)
	if notifications != 1 {
		t.Errorf("notifications = %d, want 1", notifications)
	}
}

func TestBuildSlackMessage_Emoji(t *testing.T) {
	intent := &model.RefreshIntent{EntityType: "Environment", EntityID: "env-1", RefreshType: "FULL_COPY"}
	cases := map[model.EventType]string{
		model.EventRefreshCompleted: ":white_check_mark:",
		model.EventRefreshFailed:    ":x:",
		model.EventRefreshScheduled: ":bell:",
	}
	for event, emoji := range cases {
		msg := BuildSlackMessage(intent, event, Content{Subject: "s", Body: "b"}, "Not scheduled")
		if !strings.HasPrefix(msg.Blocks[0].Text.Text, emoji+" ") {
			t.Errorf("%s header = %q, want prefix %s", event, msg.Blocks[0].Text.Text, emoji)
		}
		if msg.Text != "s" {
			t.Errorf("%s fallback text = %q", event, msg.Text)
		}
	}
}
