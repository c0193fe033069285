package handler

import (
	"net/http"
	"strconv"

	"anoa.com/taskhub/internal/model"
	notifRepo "anoa.com/taskhub/internal/modules/notification/repository"
	notification "anoa.com/taskhub/internal/modules/notification/service"
	realtime "anoa.com/taskhub/internal/modules/realtime/service"
	"anoa.com/taskhub/pkg/apperror"
	"anoa.com/taskhub/pkg/response"
	"anoa.com/taskhub/pkg/validator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type NotificationHandler struct {
	service notification.NotificationService
	gateway *realtime.Gateway
}

func NewNotificationHandler(service notification.NotificationService, gateway *realtime.Gateway) *NotificationHandler {
	return &NotificationHandler{service: service, gateway: gateway}
}

// ListNotifications returns the recipient's recent notifications, newest
// first. Supports limit, offset, category and unread_only query params.
func (h *NotificationHandler) ListNotifications(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	filter := notifRepo.ListFilter{}
	if v := c.Query("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := c.Query("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v)
	}
	if v := c.Query("category"); v != "" {
		if !model.ValidCategory(v) {
			response.ResponseError(c, apperror.ErrInvalidInput)
			return
		}
		filter.Category = v
	}
	filter.UnreadOnly = c.Query("unread_only") == "true"

	notifications, err := h.service.ListRecent(c.Request.Context(), userID, filter)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

func (h *NotificationHandler) GetUnreadCount(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	category := c.Query("category")
	if category != "" && !model.ValidCategory(category) {
		response.ResponseError(c, apperror.ErrInvalidInput)
		return
	}

	count, err := h.service.UnreadCount(c.Request.Context(), userID, category)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": count})
}

// MarkAsRead is idempotent: marking an already read or unknown
// notification succeeds without effect.
func (h *NotificationHandler) MarkAsRead(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	notificationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ResponseError(c, apperror.ErrInvalidInput)
		return
	}

	if err := h.service.MarkRead(c.Request.Context(), userID, notificationID); err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "notification marked as read"})
}

func (h *NotificationHandler) MarkAllAsRead(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	category := c.Query("category")
	if category != "" && !model.ValidCategory(category) {
		response.ResponseError(c, apperror.ErrInvalidInput)
		return
	}

	if err := h.service.MarkAllRead(c.Request.Context(), userID, category); err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "all notifications marked as read"})
}

// PublishEvent is the internal intake for domain events emitted by the
// CRUD layer. It fans the event out twice: durable per-recipient
// notifications and a live broadcast to the project's room group.
func (h *NotificationHandler) PublishEvent(c *gin.Context) {
	var event model.Event
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validator.FormatValidationError(err)})
		return
	}

	if err := h.service.Handle(c.Request.Context(), event); err != nil {
		response.ResponseError(c, err)
		return
	}

	h.gateway.RelayEvent(c.Request.Context(), event)

	c.JSON(http.StatusAccepted, gin.H{"message": "event accepted"})
}
