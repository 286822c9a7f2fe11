package handler

import (
	"time"

	"bookmyenv/internal/middleware"
	"bookmyenv/internal/model"
	"bookmyenv/internal/pkg/response"
	"bookmyenv/internal/service"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type RefreshIntentHandler struct {
	db      *gorm.DB
	refresh *service.RefreshService
}

func NewRefreshIntentHandler(db *gorm.DB, refresh *service.RefreshService) *RefreshIntentHandler {
	return &RefreshIntentHandler{db: db, refresh: refresh}
}

// List filters by status, entity_type, entity_id and mine=true.
func (h *RefreshIntentHandler) List(c *gin.Context) {
	page, pageSize := pageParams(c)

	query := h.db.Model(&model.RefreshIntent{})
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if entityType := c.Query("entity_type"); entityType != "" {
		query = query.Where("entity_type = ?", entityType)
	}
	if entityID := c.Query("entity_id"); entityID != "" {
		query = query.Where("entity_id = ?", entityID)
	}
	if c.Query("mine") == "true" {
		query = query.Where("requested_by = ?", middleware.GetUserID(c))
	}

	var total int64
	query.Count(&total)

	var intents []model.RefreshIntent
	if err := query.Preload("Requester").Offset((page - 1) * pageSize).Limit(pageSize).
		Order("created_at DESC").Find(&intents).Error; err != nil {
		response.ServerError(c, "list refresh intents failed")
		return
	}

	response.SuccessPage(c, intents, total, page, pageSize)
}

func (h *RefreshIntentHandler) Get(c *gin.Context) {
	intent, err := h.refresh.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, intent)
}

func (h *RefreshIntentHandler) Create(c *gin.Context) {
	var req service.CreateIntentInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	intent, err := h.refresh.Create(c.Request.Context(), middleware.GetUserID(c), req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, intent)
}

type ApproveRequest struct {
	Notes string `json:"notes"`
}

func (h *RefreshIntentHandler) Approve(c *gin.Context) {
	var req ApproveRequest
	_ = c.ShouldBindJSON(&req)

	intent, err := h.refresh.Approve(c.Request.Context(), c.Param("id"), middleware.GetUserID(c), req.Notes)
	h.reply(c, intent, err)
}

type RejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *RefreshIntentHandler) Reject(c *gin.Context) {
	var req RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	intent, err := h.refresh.Reject(c.Request.Context(), c.Param("id"), req.Reason)
	h.reply(c, intent, err)
}

type ScheduleRequest struct {
	PlannedDate time.Time `json:"planned_date" binding:"required"`
}

func (h *RefreshIntentHandler) Schedule(c *gin.Context) {
	var req ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	intent, err := h.refresh.Schedule(c.Request.Context(), c.Param("id"), req.PlannedDate)
	h.reply(c, intent, err)
}

func (h *RefreshIntentHandler) Start(c *gin.Context) {
	if !h.ownerOrAdmin(c) {
		return
	}
	intent, err := h.refresh.Start(c.Request.Context(), c.Param("id"))
	h.reply(c, intent, err)
}

type CompleteRequest struct {
	Duration   string `json:"duration"`
	DataVolume string `json:"data_volume"`
}

func (h *RefreshIntentHandler) Complete(c *gin.Context) {
	if !h.ownerOrAdmin(c) {
		return
	}
	var req CompleteRequest
	_ = c.ShouldBindJSON(&req)

	intent, err := h.refresh.Complete(c.Request.Context(), c.Param("id"), req.Duration, req.DataVolume)
	h.reply(c, intent, err)
}

type FailRequest struct {
	ErrorMessage string `json:"error_message"`
}

func (h *RefreshIntentHandler) Fail(c *gin.Context) {
	if !h.ownerOrAdmin(c) {
		return
	}
	var req FailRequest
	_ = c.ShouldBindJSON(&req)

	intent, err := h.refresh.Fail(c.Request.Context(), c.Param("id"), req.ErrorMessage)
	h.reply(c, intent, err)
}

func (h *RefreshIntentHandler) Cancel(c *gin.Context) {
	if !h.ownerOrAdmin(c) {
		return
	}
	intent, err := h.refresh.Cancel(c.Request.Context(), c.Param("id"))
	h.reply(c, intent, err)
}

type ConflictRequest struct {
	BookingName  string `json:"booking_name"`
	BookingOwner string `json:"booking_owner"`
}

func (h *RefreshIntentHandler) ReportConflict(c *gin.Context) {
	if !h.ownerOrAdmin(c) {
		return
	}
	var req ConflictRequest
	_ = c.ShouldBindJSON(&req)

	intent, err := h.refresh.ReportConflict(c.Request.Context(), c.Param("id"), req.BookingName, req.BookingOwner)
	h.reply(c, intent, err)
}

type ResolveConflictRequest struct {
	Resolution string `json:"resolution"`
}

func (h *RefreshIntentHandler) ResolveConflict(c *gin.Context) {
	if !h.ownerOrAdmin(c) {
		return
	}
	var req ResolveConflictRequest
	_ = c.ShouldBindJSON(&req)

	intent, err := h.refresh.ResolveConflict(c.Request.Context(), c.Param("id"), req.Resolution)
	h.reply(c, intent, err)
}

func (h *RefreshIntentHandler) reply(c *gin.Context, intent *model.RefreshIntent, err error) {
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, intent)
}

// ownerOrAdmin lets only the requester or an admin drive execution steps.
// It writes the error response itself.
func (h *RefreshIntentHandler) ownerOrAdmin(c *gin.Context) bool {
	if middleware.IsAdmin(c) {
		return true
	}
	intent, err := h.refresh.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return false
	}
	if intent.RequestedBy != middleware.GetUserID(c) {
		response.Forbidden(c, "only the requester or an admin may do this")
		return false
	}
	return true
}
