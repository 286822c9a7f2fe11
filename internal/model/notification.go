package model

import (
	"slices"
	"time"

	"gorm.io/datatypes"
)

// EventType identifies a refresh lifecycle event.
type EventType string

const (
	EventRefreshRequested        EventType = "REFRESH_REQUESTED"
	EventRefreshApproved         EventType = "REFRESH_APPROVED"
	EventRefreshRejected         EventType = "REFRESH_REJECTED"
	EventRefreshScheduled        EventType = "REFRESH_SCHEDULED"
	EventRefreshReminder7Days    EventType = "REFRESH_REMINDER_7_DAYS"
	EventRefreshReminder1Day     EventType = "REFRESH_REMINDER_1_DAY"
	EventRefreshReminder1Hour    EventType = "REFRESH_REMINDER_1_HOUR"
	EventRefreshStarting         EventType = "REFRESH_STARTING"
	EventRefreshCompleted        EventType = "REFRESH_COMPLETED"
	EventRefreshFailed           EventType = "REFRESH_FAILED"
	EventRefreshConflictDetected EventType = "REFRESH_CONFLICT_DETECTED"
	EventRefreshConflictResolved EventType = "REFRESH_CONFLICT_RESOLVED"
)

// AllEventTypes lists every known event in lifecycle order.
func AllEventTypes() []EventType {
	return []EventType{
		EventRefreshRequested,
		EventRefreshApproved,
		EventRefreshRejected,
		EventRefreshScheduled,
		EventRefreshReminder7Days,
		EventRefreshReminder1Day,
		EventRefreshReminder1Hour,
		EventRefreshStarting,
		EventRefreshCompleted,
		EventRefreshFailed,
		EventRefreshConflictDetected,
		EventRefreshConflictResolved,
	}
}

// IsKnown reports whether e is one of the twelve lifecycle events.
func (e EventType) IsKnown() bool {
	return slices.Contains(AllEventTypes(), e)
}

// Channel is an outbound notification channel.
type Channel string

const (
	ChannelEmail   Channel = "EMAIL"
	ChannelTeams   Channel = "TEAMS"
	ChannelSlack   Channel = "SLACK"
	ChannelInApp   Channel = "IN_APP"
	ChannelWebhook Channel = "WEBHOOK"
)

// SettingScope decides which intents a NotificationSetting applies to.
type SettingScope string

const (
	ScopeEntity SettingScope = "ENTITY"
	ScopeGroup  SettingScope = "GROUP"
	ScopeGlobal SettingScope = "GLOBAL"
)

// NotificationSetting configures channels for one scope.
type NotificationSetting struct {
	BaseModel
	ScopeType        SettingScope                   `gorm:"type:varchar(20);index;not null" json:"scope_type"`
	EntityType       string                         `gorm:"type:varchar(50);index:idx_setting_entity" json:"entity_type,omitempty"`
	EntityID         string                         `gorm:"type:varchar(36);index:idx_setting_entity" json:"entity_id,omitempty"`
	GroupID          *string                        `gorm:"type:varchar(36);index" json:"group_id,omitempty"`
	EmailEnabled     bool                           `json:"email_enabled"`
	TeamsWebhookURL  string                         `gorm:"type:varchar(500)" json:"teams_webhook_url,omitempty"`
	SlackWebhookURL  string                         `gorm:"type:varchar(500)" json:"slack_webhook_url,omitempty"`
	InAppEnabled     bool                           `json:"in_app_enabled"`
	WebhookURL       string                         `gorm:"type:varchar(500)" json:"webhook_url,omitempty"`
	WebhookSecret    string                         `gorm:"type:varchar(100)" json:"-"`
	SubscribedEvents datatypes.JSONSlice[EventType] `json:"subscribed_events"`
}

func (NotificationSetting) TableName() string {
	return "refresh_notification_settings"
}

// Subscribes reports whether the setting listens to event.
func (s *NotificationSetting) Subscribes(event EventType) bool {
	return slices.Contains(s.SubscribedEvents, event)
}

// RecipientGroupID returns the group whose members receive email and in-app
// notifications, or "" when none is configured.
func (s *NotificationSetting) RecipientGroupID() string {
	if s.GroupID == nil {
		return ""
	}
	return *s.GroupID
}

// Delivery outcomes recorded in NotificationLog.
type DeliveryStatus string

const (
	DeliveryStatusSent      DeliveryStatus = "SENT"
	DeliveryStatusDelivered DeliveryStatus = "DELIVERED"
	DeliveryStatusFailed    DeliveryStatus = "FAILED"
)

type RecipientType string

const (
	RecipientUser    RecipientType = "USER"
	RecipientWebhook RecipientType = "WEBHOOK"
	RecipientGroup   RecipientType = "GROUP"
)

// NotificationLog is the audit trail of one dispatch attempt. Rows are
// append-only.
type NotificationLog struct {
	BaseModel
	IntentID       string         `gorm:"type:varchar(36);index;not null" json:"intent_id"`
	EventType      EventType      `gorm:"type:varchar(50);index;not null" json:"event_type"`
	Channel        Channel        `gorm:"type:varchar(20);not null" json:"channel"`
	RecipientType  RecipientType  `gorm:"type:varchar(20);not null" json:"recipient_type"`
	RecipientID    string         `gorm:"type:varchar(36)" json:"recipient_id,omitempty"`
	RecipientEmail string         `gorm:"type:varchar(100)" json:"recipient_email,omitempty"`
	WebhookURL     string         `gorm:"type:varchar(500)" json:"webhook_url,omitempty"`
	Status         DeliveryStatus `gorm:"type:varchar(20);index;not null" json:"status"`
	Subject        string         `gorm:"type:varchar(500)" json:"subject"`
	Message        string         `gorm:"type:text" json:"message"`
	ErrorMessage   string         `gorm:"type:text" json:"error_message,omitempty"`
	SentAt         time.Time      `json:"sent_at"`
}

func (NotificationLog) TableName() string {
	return "refresh_notification_log"
}

// Notification is a row in a user's in-app inbox.
type Notification struct {
	BaseModel
	UserID            string     `gorm:"type:varchar(36);index;not null" json:"user_id"`
	Type              string     `gorm:"type:varchar(50);not null" json:"type"`
	Title             string     `gorm:"type:varchar(500);not null" json:"title"`
	Message           string     `gorm:"type:text" json:"message"`
	RelatedEntityType string     `gorm:"type:varchar(50)" json:"related_entity_type"`
	RelatedEntityID   string     `gorm:"type:varchar(36)" json:"related_entity_id"`
	ActionURL         string     `gorm:"type:varchar(500)" json:"action_url"`
	IsRead            bool       `gorm:"default:false;index" json:"is_read"`
	ReadAt            *time.Time `json:"read_at"`
}

func (Notification) TableName() string {
	return "notifications"
}
