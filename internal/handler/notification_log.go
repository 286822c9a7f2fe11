package handler

import (
	"bookmyenv/internal/model"
	"bookmyenv/internal/pkg/response"
	"bookmyenv/internal/service"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// NotificationLogHandler exposes the dispatch audit log and the manual
// reminder trigger.
type NotificationLogHandler struct {
	db        *gorm.DB
	reminders *service.ReminderScanner
}

func NewNotificationLogHandler(db *gorm.DB, reminders *service.ReminderScanner) *NotificationLogHandler {
	return &NotificationLogHandler{db: db, reminders: reminders}
}

func (h *NotificationLogHandler) List(c *gin.Context) {
	page, pageSize := pageParams(c)

	query := h.db.Model(&model.NotificationLog{})
	for param, column := range map[string]string{
		"intent_id":  "intent_id",
		"event_type": "event_type",
		"channel":    "channel",
		"status":     "status",
	} {
		if v := c.Query(param); v != "" {
			query = query.Where(column+" = ?", v)
		}
	}

	var total int64
	query.Count(&total)

	var logs []model.NotificationLog
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).Order("sent_at DESC").Find(&logs).Error; err != nil {
		response.ServerError(c, "list notification logs failed")
		return
	}
	response.SuccessPage(c, logs, total, page, pageSize)
}

// RunReminders performs one reminder scan now.
func (h *NotificationLogHandler) RunReminders(c *gin.Context) {
	sent := h.reminders.ProcessScheduledReminders(c.Request.Context())
	response.Success(c, gin.H{"sent": sent})
}
