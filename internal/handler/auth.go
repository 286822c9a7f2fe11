package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"bookmyenv/internal/config"
	"bookmyenv/internal/middleware"
	"bookmyenv/internal/model"
	"bookmyenv/internal/pkg/crypto"
	"bookmyenv/internal/pkg/response"
	"bookmyenv/internal/service"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type AuthHandler struct {
	db           *gorm.DB
	jwt          config.JWTConfig
	loginLimiter *service.LoginLimiter
	ipLimiter    *service.LoginLimiter
}

func NewAuthHandler(db *gorm.DB, jwt config.JWTConfig, loginLimiter, ipLimiter *service.LoginLimiter) *AuthHandler {
	return &AuthHandler{db: db, jwt: jwt, loginLimiter: loginLimiter, ipLimiter: ipLimiter}
}

// LoginRequest accepts a username or an email in Login.
type LoginRequest struct {
	Login    string `json:"login" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	login := strings.ToLower(strings.TrimSpace(req.Login))
	clientIP := c.ClientIP()

	if locked, remaining := h.ipLimiter.IsLocked(clientIP); locked {
		response.Error(c, http.StatusTooManyRequests, fmt.Sprintf("address temporarily locked, retry in %d minutes", int(remaining.Minutes())+1))
		return
	}
	if locked, remaining := h.loginLimiter.IsLocked(login); locked {
		response.Error(c, http.StatusTooManyRequests, fmt.Sprintf("account temporarily locked, retry in %d minutes", int(remaining.Minutes())+1))
		return
	}

	var user model.User
	err := h.db.Where("LOWER(username) = ? OR LOWER(email) = ?", login, login).First(&user).Error
	if err != nil || !user.CheckPassword(req.Password) {
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			response.ServerError(c, "login failed")
			return
		}
		h.ipLimiter.RecordFailure(clientIP)
		if locked, d := h.loginLimiter.RecordFailure(login); locked {
			response.Error(c, http.StatusTooManyRequests, fmt.Sprintf("too many failed logins, account locked for %d minutes", int(d.Minutes())))
			return
		}
		response.Unauthorized(c, "invalid credentials")
		return
	}

	if !user.IsActive() {
		response.Forbidden(c, "account is disabled")
		return
	}

	h.loginLimiter.RecordSuccess(login)
	h.ipLimiter.RecordSuccess(clientIP)

	now := time.Now()
	h.db.Model(&user).Update("last_login_at", now)

	token, err := crypto.GenerateToken(user.ID, user.Username, user.Email, string(user.Role), h.jwt.Secret, h.jwt.ExpireHours)
	if err != nil {
		response.ServerError(c, "issue token failed")
		return
	}

	response.Success(c, gin.H{
		"token":      token,
		"expires_in": h.jwt.ExpireHours * 3600,
		"user":       user,
	})
}

// Me returns the signed-in user.
func (h *AuthHandler) Me(c *gin.Context) {
	var user model.User
	if err := h.db.First(&user, "id = ?", middleware.GetUserID(c)).Error; err != nil {
		response.NotFound(c, "user not found")
		return
	}
	response.Success(c, user)
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=8"`
}

func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	var user model.User
	if err := h.db.First(&user, "id = ?", middleware.GetUserID(c)).Error; err != nil {
		response.NotFound(c, "user not found")
		return
	}
	if !user.CheckPassword(req.OldPassword) {
		response.BadRequest(c, "old password is incorrect")
		return
	}
	if err := user.SetPassword(req.NewPassword); err != nil {
		response.ServerError(c, "hash password failed")
		return
	}
	if err := h.db.Model(&user).Update("password", user.Password).Error; err != nil {
		response.ServerError(c, "update password failed")
		return
	}

	response.SuccessWithMessage(c, "password changed", nil)
}
