package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Identity headers injected by the upstream gateway after authentication.
const (
	UserIDHeader   = "X-User-Id"
	UserRoleHeader = "X-User-Role"

	RoleAdmin = "admin"
)

const (
	userIDKey   = "user_id"
	userRoleKey = "user_role"
)

// Identity reads the caller identity set by the gateway. Requests without a user id are
// rejected.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := strings.TrimSpace(c.GetHeader(UserIDHeader))
		if uid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		c.Set(userIDKey, uid)
		c.Set(userRoleKey, strings.ToLower(strings.TrimSpace(c.GetHeader(UserRoleHeader))))
		c.Next()
	}
}

// RequireAdmin rejects callers without the admin role.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isAdmin(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "admin role required"})
			return
		}
		c.Next()
	}
}

func userID(c *gin.Context) string { return c.GetString(userIDKey) }

func isAdmin(c *gin.Context) bool { return c.GetString(userRoleKey) == RoleAdmin }
