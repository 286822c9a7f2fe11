package middleware

import (
	"bytes"
	"io"
	"regexp"
	"strings"
	"time"

	"bookmyenv/internal/model"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AuditMiddleware records every non-GET API call.
func AuditMiddleware(db *gorm.DB, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		method := c.Request.Method
		if method == "GET" || method == "OPTIONS" || strings.HasPrefix(path, "/health") {
			c.Next()
			return
		}

		start := time.Now()

		var requestBody string
		if c.Request.Body != nil {
			bodyBytes, _ := io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			requestBody = maskSensitiveData(string(bodyBytes))
		}

		c.Next()

		action, resource, resourceID := parseActionFromPath(method, path)
		entry := model.AuditLog{
			UserID:       GetUserID(c),
			Username:     GetUsername(c),
			Action:       action,
			Resource:     resource,
			ResourceID:   resourceID,
			IPAddress:    c.ClientIP(),
			UserAgent:    truncateString(c.Request.UserAgent(), 500),
			RequestBody:  truncateString(requestBody, 2000),
			ResponseCode: c.Writer.Status(),
			Duration:     time.Since(start).Milliseconds(),
		}

		go func() {
			if err := db.Create(&entry).Error; err != nil {
				logger.Warn("write audit log failed", zap.String("path", path), zap.Error(err))
			}
		}()
	}
}

// parseActionFromPath maps /api/<resource>/<id>/<verb> onto an audit action.
func parseActionFromPath(method, path string) (action, resource, resourceID string) {
	parts := strings.Split(strings.Trim(path, "/"), "/")

	for i, part := range parts {
		switch part {
		case "auth":
			resource = model.ResourceUser
		case "refresh-intents":
			resource = model.ResourceRefreshIntent
			if i+1 < len(parts) {
				resourceID = parts[i+1]
			}
		case "notification-settings":
			resource = model.ResourceNotificationSetting
			if i+1 < len(parts) {
				resourceID = parts[i+1]
			}
		case "notifications":
			resource = model.ResourceNotification
			if i+1 < len(parts) && parts[i+1] != "read-all" {
				resourceID = parts[i+1]
			}
		case "reminders":
			resource = model.ResourceReminder
		}
	}

	last := parts[len(parts)-1]
	switch method {
	case "POST":
		switch last {
		case "login":
			action = model.ActionLogin
		case "approve":
			action = model.ActionApprove
		case "reject":
			action = model.ActionReject
		case "run":
			action = model.ActionRun
		default:
			if resourceID != "" && resourceID != last {
				action = last
			} else {
				action = model.ActionCreate
			}
		}
	case "PUT", "PATCH":
		action = model.ActionUpdate
	case "DELETE":
		action = model.ActionDelete
	default:
		action = strings.ToLower(method)
	}
	return
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

var secretFields = regexp.MustCompile(`"(password|webhook_secret)"\s*:\s*"[^"]*"`)

func maskSensitiveData(data string) string {
	return secretFields.ReplaceAllString(data, `"$1":"***"`)
}
