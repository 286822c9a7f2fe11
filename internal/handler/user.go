package handler

import (
	"errors"
	"strings"

	"bookmyenv/internal/model"
	"bookmyenv/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// UserHandler manages accounts and the recipient groups notifications are
// addressed to.
type UserHandler struct {
	db *gorm.DB
}

func NewUserHandler(db *gorm.DB) *UserHandler {
	return &UserHandler{db: db}
}

type CreateUserRequest struct {
	Username    string         `json:"username" binding:"required"`
	Email       string         `json:"email" binding:"required,email"`
	Password    string         `json:"password" binding:"required,min=8"`
	DisplayName string         `json:"display_name"`
	Role        model.UserRole `json:"role"`
}

func (h *UserHandler) List(c *gin.Context) {
	page, pageSize := pageParams(c)

	query := h.db.Model(&model.User{})
	if keyword := c.Query("keyword"); keyword != "" {
		like := "%" + keyword + "%"
		query = query.Where("username LIKE ? OR email LIKE ? OR display_name LIKE ?", like, like, like)
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	query.Count(&total)

	var users []model.User
	query.Offset((page - 1) * pageSize).Limit(pageSize).Order("username").Find(&users)

	response.SuccessPage(c, users, total, page, pageSize)
}

func (h *UserHandler) Create(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.Role == "" {
		req.Role = model.UserRoleUser
	}
	if req.Role != model.UserRoleUser && req.Role != model.UserRoleAdmin {
		response.BadRequest(c, "role must be admin or user")
		return
	}

	var count int64
	h.db.Model(&model.User{}).Where("username = ? OR email = ?", req.Username, strings.ToLower(req.Email)).Count(&count)
	if count > 0 {
		response.Conflict(c, "username or email already in use")
		return
	}

	user := model.User{
		Username:    req.Username,
		Email:       strings.ToLower(req.Email),
		DisplayName: req.DisplayName,
		Role:        req.Role,
		Status:      model.UserStatusActive,
	}
	if err := user.SetPassword(req.Password); err != nil {
		response.ServerError(c, "hash password failed")
		return
	}
	if err := h.db.Create(&user).Error; err != nil {
		response.ServerError(c, "create user failed")
		return
	}
	response.Success(c, user)
}

type UpdateUserRequest struct {
	DisplayName *string           `json:"display_name"`
	Role        *model.UserRole   `json:"role"`
	Status      *model.UserStatus `json:"status"`
}

func (h *UserHandler) Update(c *gin.Context) {
	var user model.User
	if err := h.db.First(&user, "id = ?", c.Param("id")).Error; err != nil {
		response.NotFound(c, "user not found")
		return
	}

	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	updates := map[string]any{}
	if req.DisplayName != nil {
		updates["display_name"] = *req.DisplayName
	}
	if req.Role != nil {
		if *req.Role != model.UserRoleUser && *req.Role != model.UserRoleAdmin {
			response.BadRequest(c, "role must be admin or user")
			return
		}
		updates["role"] = *req.Role
	}
	if req.Status != nil {
		if *req.Status != model.UserStatusActive && *req.Status != model.UserStatusDisabled {
			response.BadRequest(c, "status must be active or disabled")
			return
		}
		updates["status"] = *req.Status
	}

	if len(updates) > 0 {
		if err := h.db.Model(&user).Updates(updates).Error; err != nil {
			response.ServerError(c, "update user failed")
			return
		}
	}
	h.db.First(&user, "id = ?", user.ID)
	response.Success(c, user)
}

type CreateGroupRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

func (h *UserHandler) ListGroups(c *gin.Context) {
	var groups []model.UserGroup
	if err := h.db.Order("name").Find(&groups).Error; err != nil {
		response.ServerError(c, "list groups failed")
		return
	}
	response.Success(c, groups)
}

func (h *UserHandler) GetGroup(c *gin.Context) {
	var group model.UserGroup
	if err := h.db.Preload("Members.User").First(&group, "id = ?", c.Param("id")).Error; err != nil {
		response.NotFound(c, "group not found")
		return
	}
	response.Success(c, group)
}

func (h *UserHandler) CreateGroup(c *gin.Context) {
	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	group := model.UserGroup{Name: req.Name, Description: req.Description}
	if err := h.db.Create(&group).Error; err != nil {
		response.Conflict(c, "group name already in use")
		return
	}
	response.Success(c, group)
}

// DeleteGroup removes the group and its memberships. Settings pointing at
// it simply stop resolving recipients.
func (h *UserHandler) DeleteGroup(c *gin.Context) {
	id := c.Param("id")
	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("group_id = ?", id).Delete(&model.UserGroupMember{}).Error; err != nil {
			return err
		}
		result := tx.Unscoped().Delete(&model.UserGroup{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "group not found")
			return
		}
		response.ServerError(c, "delete group failed")
		return
	}
	response.SuccessWithMessage(c, "deleted", nil)
}

type AddMemberRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (h *UserHandler) AddMember(c *gin.Context) {
	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	groupID := c.Param("id")
	var count int64
	h.db.Model(&model.UserGroup{}).Where("id = ?", groupID).Count(&count)
	if count == 0 {
		response.NotFound(c, "group not found")
		return
	}
	h.db.Model(&model.User{}).Where("id = ?", req.UserID).Count(&count)
	if count == 0 {
		response.NotFound(c, "user not found")
		return
	}

	member := model.UserGroupMember{GroupID: groupID, UserID: req.UserID}
	if err := h.db.Create(&member).Error; err != nil {
		response.Conflict(c, "user is already a member")
		return
	}
	response.Success(c, member)
}

func (h *UserHandler) RemoveMember(c *gin.Context) {
	result := h.db.Unscoped().
		Where("group_id = ? AND user_id = ?", c.Param("id"), c.Param("user_id")).
		Delete(&model.UserGroupMember{})
	if result.Error != nil {
		response.ServerError(c, "remove member failed")
		return
	}
	if result.RowsAffected == 0 {
		response.NotFound(c, "membership not found")
		return
	}
	response.SuccessWithMessage(c, "removed", nil)
}
