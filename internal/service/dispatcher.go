package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"bookmyenv/internal/model"
	"bookmyenv/internal/pkg/utils"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Dispatcher delivers content over one channel. Send never returns an error:
// failures are logged and recorded as FAILED log rows so that one channel
// cannot block the others.
type Dispatcher interface {
	Channel() model.Channel
	// Configured reports whether the setting has a destination for this channel.
	Configured(setting *model.NotificationSetting) bool
	Send(ctx context.Context, intent *model.RefreshIntent, event model.EventType, content Content, setting *model.NotificationSetting)
}

// NewDispatchers returns the five channel dispatchers in dispatch order.
func NewDispatchers(db *gorm.DB, transport Transport, logger *zap.Logger, baseURL string) []Dispatcher {
	base := dispatchBase{db: db, transport: transport, logger: logger}
	return []Dispatcher{
		&EmailDispatcher{base},
		&TeamsDispatcher{base},
		&SlackDispatcher{base},
		&InAppDispatcher{dispatchBase: base, baseURL: baseURL},
		&WebhookDispatcher{base},
	}
}

type dispatchBase struct {
	db        *gorm.DB
	transport Transport
	logger    *zap.Logger
}

// deliver hands d to the transport and records the outcome in row.
func (b *dispatchBase) deliver(ctx context.Context, d Delivery, row *model.NotificationLog) {
	row.Status = model.DeliveryStatusSent
	if err := b.transport.Deliver(ctx, d); err != nil {
		b.logger.Warn("notification delivery failed",
			zap.String("channel", string(d.Channel)),
			zap.String("intent_id", d.IntentID),
			zap.String("target", utils.MaskTarget(d.Target)),
			zap.Error(err))
		row.Status = model.DeliveryStatusFailed
		row.ErrorMessage = err.Error()
	}
	b.record(ctx, row)
}

func (b *dispatchBase) record(ctx context.Context, row *model.NotificationLog) {
	if row.SentAt.IsZero() {
		row.SentAt = time.Now().UTC()
	}
	if err := b.db.WithContext(ctx).Create(row).Error; err != nil {
		b.logger.Error("write notification log failed",
			zap.String("channel", string(row.Channel)),
			zap.String("intent_id", row.IntentID),
			zap.Error(err))
	}
}

// recordGroupFailure logs a dispatch that never reached any member because
// the group could not be loaded.
func (b *dispatchBase) recordGroupFailure(ctx context.Context, intent *model.RefreshIntent, event model.EventType, channel model.Channel, groupID string, content Content, err error) {
	b.logger.Error("load group recipients failed",
		zap.String("channel", string(channel)),
		zap.String("group_id", groupID),
		zap.Error(err))
	b.record(ctx, &model.NotificationLog{
		IntentID:      intent.ID,
		EventType:     event,
		Channel:       channel,
		RecipientType: model.RecipientGroup,
		RecipientID:   groupID,
		Subject:       content.Subject,
		Message:       content.Body,
		Status:        model.DeliveryStatusFailed,
		ErrorMessage:  err.Error(),
	})
}

// groupMembers loads the users of a group, optionally only active ones.
func (b *dispatchBase) groupMembers(ctx context.Context, groupID string, activeOnly bool) ([]model.User, error) {
	var members []model.UserGroupMember
	if err := b.db.WithContext(ctx).Preload("User").Where("group_id = ?", groupID).
		Order("created_at").Find(&members).Error; err != nil {
		return nil, err
	}

	users := make([]model.User, 0, len(members))
	for _, m := range members {
		if m.User == nil {
			continue
		}
		if activeOnly && !m.User.IsActive() {
			continue
		}
		users = append(users, *m.User)
	}
	return users, nil
}

// EmailDispatcher sends to the active members of the setting's group.
type EmailDispatcher struct {
	dispatchBase
}

func (d *EmailDispatcher) Channel() model.Channel { return model.ChannelEmail }

func (d *EmailDispatcher) Configured(setting *model.NotificationSetting) bool {
	return setting.EmailEnabled
}

func (d *EmailDispatcher) Send(ctx context.Context, intent *model.RefreshIntent, event model.EventType, content Content, setting *model.NotificationSetting) {
	groupID := setting.RecipientGroupID()
	if groupID == "" {
		d.logger.Debug("email enabled without recipient group", zap.String("setting_id", setting.ID))
		return
	}

	users, err := d.groupMembers(ctx, groupID, true)
	if err != nil {
		d.recordGroupFailure(ctx, intent, event, model.ChannelEmail, groupID, content, err)
		return
	}

	for _, u := range users {
		d.deliver(ctx, Delivery{
			Channel:     model.ChannelEmail,
			EventType:   event,
			IntentID:    intent.ID,
			Target:      u.Email,
			Subject:     content.Subject,
			Body:        content.Body,
			ContentType: "text/plain",
		}, &model.NotificationLog{
			IntentID:       intent.ID,
			EventType:      event,
			Channel:        model.ChannelEmail,
			RecipientType:  model.RecipientUser,
			RecipientID:    u.ID,
			RecipientEmail: u.Email,
			Subject:        content.Subject,
			Message:        content.Body,
		})
	}
}

// Severity colours used by Teams cards.
const (
	teamsColorError   = "DC3545"
	teamsColorSuccess = "28A745"
	teamsColorNeutral = "0076D7"
)

type severity int

const (
	severityNeutral severity = iota
	severitySuccess
	severityError
)

func eventSeverity(event model.EventType) severity {
	switch {
	case strings.HasSuffix(string(event), "_FAILED"):
		return severityError
	case strings.HasSuffix(string(event), "_COMPLETED"):
		return severitySuccess
	}
	return severityNeutral
}

type teamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type teamsSection struct {
	ActivityTitle string      `json:"activityTitle"`
	Text          string      `json:"text,omitempty"`
	Facts         []teamsFact `json:"facts"`
}

// TeamsCard is an Office 365 connector MessageCard.
type TeamsCard struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	ThemeColor string         `json:"themeColor"`
	Summary    string         `json:"summary"`
	Sections   []teamsSection `json:"sections"`
}

// BuildTeamsCard renders the Teams payload for an event.
func BuildTeamsCard(intent *model.RefreshIntent, event model.EventType, content Content, plannedDate string) TeamsCard {
	color := teamsColorNeutral
	switch eventSeverity(event) {
	case severityError:
		color = teamsColorError
	case severitySuccess:
		color = teamsColorSuccess
	}

	return TeamsCard{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		ThemeColor: color,
		Summary:    content.Subject,
		Sections: []teamsSection{{
			ActivityTitle: content.Subject,
			Text:          content.Body,
			Facts: []teamsFact{
				{Name: "Entity", Value: intent.EntityLabel()},
				{Name: "Refresh Type", Value: intent.RefreshType},
				{Name: "Status", Value: string(intent.Status)},
				{Name: "Planned Date", Value: plannedDate},
			},
		}},
	}
}

// TeamsDispatcher posts a MessageCard to the configured incoming webhook.
type TeamsDispatcher struct {
	dispatchBase
}

func (d *TeamsDispatcher) Channel() model.Channel { return model.ChannelTeams }

func (d *TeamsDispatcher) Configured(setting *model.NotificationSetting) bool {
	return setting.TeamsWebhookURL != ""
}

func (d *TeamsDispatcher) Send(ctx context.Context, intent *model.RefreshIntent, event model.EventType, content Content, setting *model.NotificationSetting) {
	card := BuildTeamsCard(intent, event, content, plannedDateISO(intent))
	d.sendJSON(ctx, model.ChannelTeams, setting.TeamsWebhookURL, "", intent, event, content, card)
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

// SlackMessage is a Block Kit message for an incoming webhook.
type SlackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

// BuildSlackMessage renders the Slack payload for an event.
func BuildSlackMessage(intent *model.RefreshIntent, event model.EventType, content Content, plannedDate string) SlackMessage {
	emoji := ":bell:"
	switch eventSeverity(event) {
	case severityError:
		emoji = ":x:"
	case severitySuccess:
		emoji = ":white_check_mark:"
	}

	return SlackMessage{
		Text: content.Subject,
		Blocks: []slackBlock{
			{Type: "header", Text: &slackText{Type: "plain_text", Text: emoji + " " + content.Subject}},
			{Type: "section", Text: &slackText{Type: "mrkdwn", Text: content.Body}},
			{Type: "section", Fields: []slackText{
				{Type: "mrkdwn", Text: "*Entity:*\n" + intent.EntityLabel()},
				{Type: "mrkdwn", Text: "*Refresh Type:*\n" + intent.RefreshType},
				{Type: "mrkdwn", Text: "*Status:*\n" + string(intent.Status)},
				{Type: "mrkdwn", Text: "*Planned Date:*\n" + plannedDate},
			}},
		},
	}
}

// SlackDispatcher posts a Block Kit message to the configured webhook.
type SlackDispatcher struct {
	dispatchBase
}

func (d *SlackDispatcher) Channel() model.Channel { return model.ChannelSlack }

func (d *SlackDispatcher) Configured(setting *model.NotificationSetting) bool {
	return setting.SlackWebhookURL != ""
}

func (d *SlackDispatcher) Send(ctx context.Context, intent *model.RefreshIntent, event model.EventType, content Content, setting *model.NotificationSetting) {
	msg := BuildSlackMessage(intent, event, content, plannedDateISO(intent))
	d.sendJSON(ctx, model.ChannelSlack, setting.SlackWebhookURL, "", intent, event, content, msg)
}

// WebhookPayload is the body posted to custom webhooks.
type WebhookPayload struct {
	Event     model.EventType `json:"event"`
	Timestamp int64           `json:"timestamp"`
	Data      WebhookData     `json:"data"`
}

type WebhookData struct {
	Intent       WebhookIntent `json:"intent"`
	Notification Content       `json:"notification"`
}

type WebhookIntent struct {
	ID          string     `json:"id"`
	EntityType  string     `json:"entity_type"`
	EntityID    string     `json:"entity_id"`
	EntityName  string     `json:"entity_name"`
	RefreshType string     `json:"refresh_type"`
	Status      string     `json:"status"`
	PlannedDate *time.Time `json:"planned_date"`
}

// WebhookDispatcher posts the structured payload to a custom URL, signed
// when the setting carries a secret.
type WebhookDispatcher struct {
	dispatchBase
}

func (d *WebhookDispatcher) Channel() model.Channel { return model.ChannelWebhook }

func (d *WebhookDispatcher) Configured(setting *model.NotificationSetting) bool {
	return setting.WebhookURL != ""
}

func (d *WebhookDispatcher) Send(ctx context.Context, intent *model.RefreshIntent, event model.EventType, content Content, setting *model.NotificationSetting) {
	payload := WebhookPayload{
		Event:     event,
		Timestamp: time.Now().Unix(),
		Data: WebhookData{
			Intent: WebhookIntent{
				ID:          intent.ID,
				EntityType:  intent.EntityType,
				EntityID:    intent.EntityID,
				EntityName:  intent.EntityName,
				RefreshType: intent.RefreshType,
				Status:      string(intent.Status),
				PlannedDate: intent.PlannedDate,
			},
			Notification: content,
		},
	}
	d.sendJSON(ctx, model.ChannelWebhook, setting.WebhookURL, setting.WebhookSecret, intent, event, content, payload)
}

// sendJSON serializes payload, delivers it to url and logs one row keyed by
// the URL with the serialized payload as message.
func (b *dispatchBase) sendJSON(ctx context.Context, channel model.Channel, url, secret string, intent *model.RefreshIntent, event model.EventType, content Content, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("marshal notification payload failed", zap.String("channel", string(channel)), zap.Error(err))
		return
	}

	b.deliver(ctx, Delivery{
		Channel:     channel,
		EventType:   event,
		IntentID:    intent.ID,
		Target:      url,
		Subject:     content.Subject,
		Body:        string(body),
		ContentType: "application/json",
		Secret:      secret,
	}, &model.NotificationLog{
		IntentID:      intent.ID,
		EventType:     event,
		Channel:       channel,
		RecipientType: model.RecipientWebhook,
		WebhookURL:    url,
		Subject:       content.Subject,
		Message:       string(body),
	})
}

// InAppDispatcher writes inbox rows for every member of the setting's group,
// or for the requester when the setting names no group, then one aggregate
// log row. Nothing is logged when there is nobody to notify.
type InAppDispatcher struct {
	dispatchBase
	baseURL string
}

func (d *InAppDispatcher) Channel() model.Channel { return model.ChannelInApp }

func (d *InAppDispatcher) Configured(setting *model.NotificationSetting) bool {
	return setting.InAppEnabled
}

func (d *InAppDispatcher) Send(ctx context.Context, intent *model.RefreshIntent, event model.EventType, content Content, setting *model.NotificationSetting) {
	row := &model.NotificationLog{
		IntentID:  intent.ID,
		EventType: event,
		Channel:   model.ChannelInApp,
		Subject:   content.Subject,
		Message:   content.Body,
	}

	var userIDs []string
	if groupID := setting.RecipientGroupID(); groupID != "" {
		users, err := d.groupMembers(ctx, groupID, false)
		if err != nil {
			d.recordGroupFailure(ctx, intent, event, model.ChannelInApp, groupID, content, err)
			return
		}
		for _, u := range users {
			userIDs = append(userIDs, u.ID)
		}
		row.RecipientType = model.RecipientGroup
		row.RecipientID = groupID
	} else {
		// The requester-facing outcomes already reach the requester directly.
		if intent.RequestedBy != "" && !requesterNotifiedDirectly(intent, event) {
			userIDs = append(userIDs, intent.RequestedBy)
		}
		row.RecipientType = model.RecipientUser
		row.RecipientID = intent.RequestedBy
		row.RecipientEmail = intent.RequesterEmail()
	}

	if len(userIDs) == 0 {
		d.logger.Debug("no in-app recipients", zap.String("intent_id", intent.ID), zap.String("setting_id", setting.ID))
		return
	}

	notifications := make([]model.Notification, 0, len(userIDs))
	for _, id := range userIDs {
		notifications = append(notifications, newInAppNotification(id, intent, event, content, d.baseURL))
	}

	row.Status = model.DeliveryStatusDelivered
	if err := d.db.WithContext(ctx).Create(&notifications).Error; err != nil {
		d.logger.Error("create in-app notifications failed", zap.String("intent_id", intent.ID), zap.Error(err))
		row.Status = model.DeliveryStatusFailed
		row.ErrorMessage = err.Error()
	}
	d.record(ctx, row)
}

func newInAppNotification(userID string, intent *model.RefreshIntent, event model.EventType, content Content, baseURL string) model.Notification {
	return model.Notification{
		UserID:            userID,
		Type:              string(event),
		Title:             content.Subject,
		Message:           content.Body,
		RelatedEntityType: "refresh_intent",
		RelatedEntityID:   intent.ID,
		ActionURL:         IntentURL(baseURL, intent.ID),
	}
}

// IntentURL is the deep link to an intent in the web app.
func IntentURL(baseURL, intentID string) string {
	return fmt.Sprintf("%s/refresh-intents/%s", baseURL, intentID)
}

func plannedDateISO(intent *model.RefreshIntent) string {
	if intent.PlannedDate == nil {
		return "Not scheduled"
	}
	return intent.PlannedDate.Format(time.RFC3339)
}
