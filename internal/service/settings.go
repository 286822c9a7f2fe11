package service

import (
	"context"

	"bookmyenv/internal/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SettingsResolver gathers the notification settings that apply to an entity.
type SettingsResolver struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewSettingsResolver(db *gorm.DB, logger *zap.Logger) *SettingsResolver {
	return &SettingsResolver{db: db, logger: logger}
}

// Resolve returns entity-scoped, then group-scoped, then global settings.
// Overlapping scopes are not deduplicated. When nothing is configured a
// default in-app setting subscribed to every event is returned. Lookup
// errors are logged and yield an empty result.
func (r *SettingsResolver) Resolve(ctx context.Context, entityType, entityID string, groupIDs []string) []model.NotificationSetting {
	db := r.db.WithContext(ctx)

	var entitySettings []model.NotificationSetting
	if err := db.Where("scope_type = ? AND entity_type = ? AND entity_id = ?", model.ScopeEntity, entityType, entityID).
		Order("created_at").Find(&entitySettings).Error; err != nil {
		r.logger.Error("load entity notification settings failed",
			zap.String("entity_type", entityType), zap.String("entity_id", entityID), zap.Error(err))
		return nil
	}

	var groupSettings []model.NotificationSetting
	if len(groupIDs) > 0 {
		if err := db.Where("scope_type = ? AND group_id IN ?", model.ScopeGroup, groupIDs).
			Order("created_at").Find(&groupSettings).Error; err != nil {
			r.logger.Error("load group notification settings failed",
				zap.Strings("group_ids", groupIDs), zap.Error(err))
			return nil
		}
	}

	var globalSettings []model.NotificationSetting
	if err := db.Where("scope_type = ?", model.ScopeGlobal).
		Order("created_at").Find(&globalSettings).Error; err != nil {
		r.logger.Error("load global notification settings failed", zap.Error(err))
		return nil
	}

	settings := make([]model.NotificationSetting, 0, len(entitySettings)+len(groupSettings)+len(globalSettings))
	settings = append(settings, entitySettings...)
	settings = append(settings, groupSettings...)
	settings = append(settings, globalSettings...)

	if len(settings) == 0 {
		return []model.NotificationSetting{DefaultNotificationSetting()}
	}
	return settings
}

// DefaultNotificationSetting is used when administrators configured nothing.
func DefaultNotificationSetting() model.NotificationSetting {
	return model.NotificationSetting{
		ScopeType:        model.ScopeGlobal,
		InAppEnabled:     true,
		SubscribedEvents: model.AllEventTypes(),
	}
}
