package middleware

import (
	"strings"

	"bookmyenv/internal/model"
	"bookmyenv/internal/pkg/crypto"
	"bookmyenv/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware validates the bearer token and stores the caller in the
// gin context.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "malformed authorization header")
			c.Abort()
			return
		}

		claims, err := crypto.ParseToken(parts[1], secret)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Set("email", claims.Email)
		c.Set("role", claims.Role)

		c.Next()
	}
}

// AdminMiddleware requires the admin role.
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c) {
			response.Forbidden(c, "admin role required")
			c.Abort()
			return
		}
		c.Next()
	}
}

func IsAdmin(c *gin.Context) bool {
	return GetUserRole(c) == string(model.UserRoleAdmin)
}

func GetUserID(c *gin.Context) string {
	return c.GetString("user_id")
}

func GetUsername(c *gin.Context) string {
	return c.GetString("username")
}

func GetUserEmail(c *gin.Context) string {
	return c.GetString("email")
}

func GetUserRole(c *gin.Context) string {
	return c.GetString("role")
}
