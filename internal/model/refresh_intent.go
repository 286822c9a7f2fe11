package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RefreshIntent is a request to refresh an environment (or another bookable
// entity) from a source.
type RefreshIntent struct {
	BaseModel
	EntityType         string                      `gorm:"type:varchar(50);index:idx_intent_entity;not null" json:"entity_type"`
	EntityID           string                      `gorm:"type:varchar(36);index:idx_intent_entity;not null" json:"entity_id"`
	EntityName         string                      `gorm:"type:varchar(200)" json:"entity_name"`
	RefreshType        string                      `gorm:"type:varchar(50);not null" json:"refresh_type"`
	Status             RefreshStatus               `gorm:"type:varchar(20);index;not null" json:"status"`
	PlannedDate        *time.Time                  `gorm:"index" json:"planned_date"`
	RequestedBy        string                      `gorm:"type:varchar(36);index" json:"requested_by"`
	SourceEnvironment  string                      `gorm:"type:varchar(200)" json:"source_environment"`
	RequiresDowntime   bool                        `json:"requires_downtime"`
	DowntimeMinutes    int                         `json:"estimated_downtime_minutes"`
	Reason             string                      `gorm:"type:text" json:"reason"`
	NotificationGroups datatypes.JSONSlice[string] `json:"notification_groups"`
	// lifecycle bookkeeping
	ApprovedBy      string     `gorm:"type:varchar(36)" json:"approved_by,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	ApprovalNotes   string     `gorm:"type:text" json:"approval_notes,omitempty"`
	RejectionReason string     `gorm:"type:text" json:"rejection_reason,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ErrorMessage    string     `gorm:"type:text" json:"error_message,omitempty"`
	// relations
	Requester     *User                 `gorm:"foreignKey:RequestedBy" json:"requester,omitempty"`
	ReminderMarks []RefreshReminderMark `gorm:"foreignKey:IntentID" json:"reminder_marks,omitempty"`
}

// BeforeSave stores the planned date in UTC. SQLite keeps times as text, so
// mixed offsets would break the reminder window range scan.
func (r *RefreshIntent) BeforeSave(tx *gorm.DB) error {
	if r.PlannedDate != nil {
		utc := r.PlannedDate.UTC()
		r.PlannedDate = &utc
	}
	return nil
}

type RefreshStatus string

const (
	RefreshStatusRequested  RefreshStatus = "REQUESTED"
	RefreshStatusApproved   RefreshStatus = "APPROVED"
	RefreshStatusRejected   RefreshStatus = "REJECTED"
	RefreshStatusScheduled  RefreshStatus = "SCHEDULED"
	RefreshStatusInProgress RefreshStatus = "IN_PROGRESS"
	RefreshStatusCompleted  RefreshStatus = "COMPLETED"
	RefreshStatusFailed     RefreshStatus = "FAILED"
	RefreshStatusCancelled  RefreshStatus = "CANCELLED"
)

func (RefreshIntent) TableName() string {
	return "refresh_intents"
}

// IsTerminal reports whether no further transition is possible.
func (s RefreshStatus) IsTerminal() bool {
	switch s {
	case RefreshStatusRejected, RefreshStatusCompleted, RefreshStatusFailed, RefreshStatusCancelled:
		return true
	}
	return false
}

// EntityLabel renders "{type}: {name}", falling back to the entity id.
func (r *RefreshIntent) EntityLabel() string {
	name := r.EntityName
	if name == "" {
		name = r.EntityID
	}
	return r.EntityType + ": " + name
}

// RequesterEmail returns the requester's email or "" when unknown.
func (r *RefreshIntent) RequesterEmail() string {
	if r.Requester == nil {
		return ""
	}
	return r.Requester.Email
}

// RefreshReminderMark records that a reminder window fired for an intent.
// The (intent_id, mark) pair is unique so a mark can be claimed atomically.
type RefreshReminderMark struct {
	BaseModel
	IntentID string `gorm:"type:varchar(36);uniqueIndex:idx_intent_mark;not null" json:"intent_id"`
	Mark     string `gorm:"type:varchar(64);uniqueIndex:idx_intent_mark;not null" json:"mark"`
}

func (RefreshReminderMark) TableName() string {
	return "refresh_reminder_marks"
}
