package handler

import (
	"time"

	"bookmyenv/internal/middleware"
	"bookmyenv/internal/model"
	"bookmyenv/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// NotificationHandler serves the caller's in-app inbox.
type NotificationHandler struct {
	db *gorm.DB
}

func NewNotificationHandler(db *gorm.DB) *NotificationHandler {
	return &NotificationHandler{db: db}
}

func (h *NotificationHandler) List(c *gin.Context) {
	page, pageSize := pageParams(c)

	query := h.db.Model(&model.Notification{}).Where("user_id = ?", middleware.GetUserID(c))
	if c.Query("unread") == "true" {
		query = query.Where("is_read = ?", false)
	}

	var total int64
	query.Count(&total)

	var notifications []model.Notification
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).Order("created_at DESC").Find(&notifications).Error; err != nil {
		response.ServerError(c, "list notifications failed")
		return
	}
	response.SuccessPage(c, notifications, total, page, pageSize)
}

func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	var count int64
	h.db.Model(&model.Notification{}).
		Where("user_id = ? AND is_read = ?", middleware.GetUserID(c), false).
		Count(&count)
	response.Success(c, gin.H{"count": count})
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	result := h.db.Model(&model.Notification{}).
		Where("id = ? AND user_id = ?", c.Param("id"), middleware.GetUserID(c)).
		Updates(map[string]any{"is_read": true, "read_at": time.Now()})
	if result.Error != nil {
		response.ServerError(c, "mark notification read failed")
		return
	}
	if result.RowsAffected == 0 {
		response.NotFound(c, "notification not found")
		return
	}
	response.SuccessWithMessage(c, "marked as read", nil)
}

func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	result := h.db.Model(&model.Notification{}).
		Where("user_id = ? AND is_read = ?", middleware.GetUserID(c), false).
		Updates(map[string]any{"is_read": true, "read_at": time.Now()})
	if result.Error != nil {
		response.ServerError(c, "mark notifications read failed")
		return
	}
	response.Success(c, gin.H{"updated": result.RowsAffected})
}
