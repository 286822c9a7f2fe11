package model

// AuditLog records one state-changing API call.
type AuditLog struct {
	BaseModel
	UserID       string `gorm:"type:varchar(36);index" json:"user_id"`
	Username     string `gorm:"type:varchar(50)" json:"username"`
	Action       string `gorm:"type:varchar(50);not null" json:"action"`
	Resource     string `gorm:"type:varchar(50);index;not null" json:"resource"`
	ResourceID   string `gorm:"type:varchar(36)" json:"resource_id"`
	IPAddress    string `gorm:"type:varchar(45)" json:"ip_address"`
	UserAgent    string `gorm:"type:varchar(500)" json:"user_agent"`
	RequestBody  string `gorm:"type:text" json:"request_body"`
	ResponseCode int    `json:"response_code"`
	Duration     int64  `json:"duration"` // milliseconds
}

func (AuditLog) TableName() string {
	return "audit_logs"
}

const (
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionDelete  = "delete"
	ActionLogin   = "login"
	ActionApprove = "approve"
	ActionReject  = "reject"
	ActionRun     = "run"
)

const (
	ResourceUser                = "user"
	ResourceRefreshIntent       = "refresh_intent"
	ResourceNotificationSetting = "notification_setting"
	ResourceNotification        = "notification"
	ResourceReminder            = "reminder"
)
