package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Ключи контекста Gin.
const (
	ContextUserIDKey = "user_id"
	ContextRoleKey   = "user_role"
)

// Заголовки, проставляемые доверенным шлюзом после аутентификации.
// Сам сервис пользователей не аутентифицирует.
const (
	HeaderUserID = "X-User-ID"
	HeaderRole   = "X-User-Role"
)

const RoleAdmin = "admin"

// Identity переносит идентификатор и роль пользователя из заголовков
// шлюза в контекст запроса.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(HeaderUserID)
		if raw != "" {
			if userID, err := uuid.Parse(raw); err == nil {
				c.Set(ContextUserIDKey, userID)
			}
		}
		if role := c.GetHeader(HeaderRole); role != "" {
			c.Set(ContextRoleKey, role)
		}
		c.Next()
	}
}

// RequireUser отклоняет запросы без валидного идентификатора пользователя.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextUserIDKey); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "требуется авторизация"})
			return
		}
		c.Next()
	}
}

// RequireAdmin пропускает только администраторов.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get(ContextRoleKey)
		if !exists || role != RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "требуются права администратора"})
			return
		}
		c.Next()
	}
}
