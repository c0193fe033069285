package handler

import (
	"net/http"
	"strings"

	token "anoa.com/taskhub/internal/modules/token/service"
	"anoa.com/taskhub/pkg/apperror"
	"anoa.com/taskhub/pkg/response"
	"github.com/gin-gonic/gin"
)

type TokenHandler struct {
	validator *token.Validator
}

func NewTokenHandler(validator *token.Validator) *TokenHandler {
	return &TokenHandler{validator: validator}
}

// Logout revokes the presented credential. Connections already open
// stay up until their own close; new handshakes with this credential
// are rejected as revoked.
func (h *TokenHandler) Logout(c *gin.Context) {
	credential := ""
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			credential = parts[1]
		}
	}
	if credential == "" {
		credential = c.Query("token")
	}
	if credential == "" {
		response.ResponseError(c, apperror.ErrInvalidInput)
		return
	}

	if err := h.validator.Revoke(c.Request.Context(), credential); err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "credential revoked"})
}
