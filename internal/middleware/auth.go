package middleware

import (
	"net/http"
	"strings"

	token "anoa.com/taskhub/internal/modules/token/service"
	"github.com/gin-gonic/gin"
)

type AuthMiddleware struct {
	validator *token.Validator
}

func NewAuthMiddleware(validator *token.Validator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// RequireAuth authenticates REST requests through the same validator the
// websocket handshake uses, so revocation and the result cache apply to
// both surfaces.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ""
		authHeader := c.GetHeader("Authorization")

		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}

		if tokenString == "" {
			tokenString = c.Query("token")
		}

		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			c.Abort()
			return
		}

		result := m.validator.Validate(c.Request.Context(), tokenString)
		if !result.Valid {
			reason := "invalid or expired token"
			if result.Reason != nil {
				reason = result.Reason.Error()
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": reason})
			c.Abort()
			return
		}

		c.Set("user_id", result.UserID.String())
		c.Next()
	}
}

// RequireInternalKey guards the event intake endpoint. Only trusted
// backend subsystems hold the key.
func RequireInternalKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" || c.GetHeader("X-Internal-Key") != key {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			c.Abort()
			return
		}
		c.Next()
	}
}
