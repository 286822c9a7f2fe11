package handler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"bookmyenv/internal/model"
	"bookmyenv/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type NotificationSettingHandler struct {
	db *gorm.DB
}

func NewNotificationSettingHandler(db *gorm.DB) *NotificationSettingHandler {
	return &NotificationSettingHandler{db: db}
}

// SettingRequest is the create/update body. Update replaces every field;
// an empty webhook_secret keeps the stored one.
type SettingRequest struct {
	ScopeType        model.SettingScope `json:"scope_type" binding:"required"`
	EntityType       string             `json:"entity_type"`
	EntityID         string             `json:"entity_id"`
	GroupID          string             `json:"group_id"`
	EmailEnabled     bool               `json:"email_enabled"`
	TeamsWebhookURL  string             `json:"teams_webhook_url"`
	SlackWebhookURL  string             `json:"slack_webhook_url"`
	InAppEnabled     bool               `json:"in_app_enabled"`
	WebhookURL       string             `json:"webhook_url"`
	WebhookSecret    string             `json:"webhook_secret"`
	SubscribedEvents []model.EventType  `json:"subscribed_events"`
}

func (r *SettingRequest) validate(db *gorm.DB) error {
	switch r.ScopeType {
	case model.ScopeEntity:
		if r.EntityType == "" || r.EntityID == "" {
			return errors.New("entity scope requires entity_type and entity_id")
		}
	case model.ScopeGroup:
		if r.GroupID == "" {
			return errors.New("group scope requires group_id")
		}
	case model.ScopeGlobal:
	default:
		return fmt.Errorf("unknown scope_type %q", r.ScopeType)
	}

	if r.GroupID != "" {
		var count int64
		db.Model(&model.UserGroup{}).Where("id = ?", r.GroupID).Count(&count)
		if count == 0 {
			return fmt.Errorf("group %s does not exist", r.GroupID)
		}
	}

	for name, raw := range map[string]string{
		"teams_webhook_url": r.TeamsWebhookURL,
		"slack_webhook_url": r.SlackWebhookURL,
		"webhook_url":       r.WebhookURL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%s must be an http(s) URL", name)
		}
	}

	if len(r.SubscribedEvents) == 0 {
		return errors.New("subscribed_events must not be empty")
	}
	for _, e := range r.SubscribedEvents {
		if !e.IsKnown() {
			return fmt.Errorf("unknown event %q", e)
		}
	}
	return nil
}

func (r *SettingRequest) apply(s *model.NotificationSetting) {
	s.ScopeType = r.ScopeType
	s.EntityType = ""
	s.EntityID = ""
	if r.ScopeType == model.ScopeEntity {
		s.EntityType = strings.TrimSpace(r.EntityType)
		s.EntityID = strings.TrimSpace(r.EntityID)
	}
	s.GroupID = nil
	if r.GroupID != "" {
		groupID := r.GroupID
		s.GroupID = &groupID
	}
	s.EmailEnabled = r.EmailEnabled
	s.TeamsWebhookURL = r.TeamsWebhookURL
	s.SlackWebhookURL = r.SlackWebhookURL
	s.InAppEnabled = r.InAppEnabled
	s.WebhookURL = r.WebhookURL
	if r.WebhookSecret != "" {
		s.WebhookSecret = r.WebhookSecret
	}
	s.SubscribedEvents = r.SubscribedEvents
}

func (h *NotificationSettingHandler) List(c *gin.Context) {
	page, pageSize := pageParams(c)

	query := h.db.Model(&model.NotificationSetting{})
	if scope := c.Query("scope_type"); scope != "" {
		query = query.Where("scope_type = ?", scope)
	}
	if entityID := c.Query("entity_id"); entityID != "" {
		query = query.Where("entity_id = ?", entityID)
	}
	if groupID := c.Query("group_id"); groupID != "" {
		query = query.Where("group_id = ?", groupID)
	}

	var total int64
	query.Count(&total)

	var settings []model.NotificationSetting
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).Order("created_at").Find(&settings).Error; err != nil {
		response.ServerError(c, "list notification settings failed")
		return
	}
	response.SuccessPage(c, settings, total, page, pageSize)
}

func (h *NotificationSettingHandler) Get(c *gin.Context) {
	var setting model.NotificationSetting
	if err := h.db.First(&setting, "id = ?", c.Param("id")).Error; err != nil {
		response.NotFound(c, "notification setting not found")
		return
	}
	response.Success(c, setting)
}

func (h *NotificationSettingHandler) Create(c *gin.Context) {
	var req SettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := req.validate(h.db); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	var setting model.NotificationSetting
	req.apply(&setting)
	if err := h.db.Create(&setting).Error; err != nil {
		response.ServerError(c, "create notification setting failed")
		return
	}
	response.Success(c, setting)
}

func (h *NotificationSettingHandler) Update(c *gin.Context) {
	var setting model.NotificationSetting
	if err := h.db.First(&setting, "id = ?", c.Param("id")).Error; err != nil {
		response.NotFound(c, "notification setting not found")
		return
	}

	var req SettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := req.validate(h.db); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	req.apply(&setting)
	if err := h.db.Save(&setting).Error; err != nil {
		response.ServerError(c, "update notification setting failed")
		return
	}
	response.Success(c, setting)
}

func (h *NotificationSettingHandler) Delete(c *gin.Context) {
	result := h.db.Delete(&model.NotificationSetting{}, "id = ?", c.Param("id"))
	if result.Error != nil {
		response.ServerError(c, "delete notification setting failed")
		return
	}
	if result.RowsAffected == 0 {
		response.NotFound(c, "notification setting not found")
		return
	}
	response.SuccessWithMessage(c, "deleted", nil)
}
