package service

import (
	"encoding/json"
	"time"

	"anoa.com/taskhub/internal/model"
	"anoa.com/taskhub/internal/modules/realtime/presence"
	"github.com/google/uuid"
)

// Inbound frame envelope. The type field selects a handler; everything
// else is decoded by the handler that owns it.
type inboundEnvelope struct {
	Type string `json:"type"`
}

type markReadPayload struct {
	NotificationID uuid.UUID `json:"notification_id"`
}

type markAllReadPayload struct {
	Category string `json:"category"`
}

type unreadCountPayload struct {
	Category string `json:"category"`
}

type getRecentPayload struct {
	Limit      int    `json:"limit"`
	Offset     int    `json:"offset"`
	Category   string `json:"category"`
	UnreadOnly bool   `json:"unread_only"`
}

type subscribeCategoriesPayload struct {
	Categories []string `json:"categories"`
}

type typingPayload struct {
	Field  string     `json:"field"`
	TaskID *uuid.UUID `json:"task_id"`
}

type cursorPayload struct {
	Position  json.RawMessage `json:"position"`
	ElementID string          `json:"element_id"`
}

type focusPayload struct {
	TaskID uuid.UUID `json:"task_id"`
}

type pingPayload struct {
	Timestamp string `json:"timestamp"`
}

// Outbound frames.

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type pongFrame struct {
	Type       string `json:"type"`
	Timestamp  string `json:"timestamp,omitempty"`
	ServerTime string `json:"server_time"`
}

type connectionEstablishedFrame struct {
	Type        string                `json:"type"`
	Message     string                `json:"message"`
	User        *Identity             `json:"user,omitempty"`
	Project     *model.ProjectSummary `json:"project,omitempty"`
	OnlineUsers []presence.Entry      `json:"online_users,omitempty"`
	Timestamp   time.Time             `json:"timestamp"`
}

// Identity is the authenticated principal attached to a connection.
type Identity struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	FullName string    `json:"full_name,omitempty"`
}

type unreadCountFrame struct {
	Type     string `json:"type"`
	Count    int64  `json:"count"`
	Category string `json:"category,omitempty"`
}

type markedReadFrame struct {
	Type           string    `json:"type"`
	NotificationID uuid.UUID `json:"notification_id"`
}

type allMarkedReadFrame struct {
	Type     string `json:"type"`
	Category string `json:"category,omitempty"`
}

type recentNotificationsFrame struct {
	Type          string               `json:"type"`
	Notifications []model.Notification `json:"notifications"`
}

type presenceFrame struct {
	Type string    `json:"type"`
	User *Identity `json:"user"`
}

type typingIndicatorFrame struct {
	Type     string     `json:"type"`
	UserID   uuid.UUID  `json:"user_id"`
	Username string     `json:"username"`
	IsTyping bool       `json:"is_typing"`
	Field    string     `json:"field,omitempty"`
	TaskID   *uuid.UUID `json:"task_id,omitempty"`
}

type cursorUpdateFrame struct {
	Type      string          `json:"type"`
	UserID    uuid.UUID       `json:"user_id"`
	Username  string          `json:"username"`
	Position  json.RawMessage `json:"position"`
	ElementID string          `json:"element_id,omitempty"`
}

type userFocusFrame struct {
	Type     string     `json:"type"`
	UserID   uuid.UUID  `json:"user_id"`
	Username string     `json:"username"`
	TaskID   *uuid.UUID `json:"task_id,omitempty"`
	Action   string     `json:"action"`
}

type onlineUsersFrame struct {
	Type  string           `json:"type"`
	Users []presence.Entry `json:"users"`
}

type syncResponseFrame struct {
	Type      string                `json:"type"`
	Project   *model.ProjectSummary `json:"project"`
	Tasks     []model.Task          `json:"tasks"`
	Timestamp time.Time             `json:"timestamp"`
}

// roomEventFrame wraps an externally-sourced domain event in the room
// envelope; the payload passes through unchanged.
type roomEventFrame struct {
	Type    string          `json:"type"`
	ActorID uuid.UUID       `json:"actor_id"`
	TaskID  *uuid.UUID      `json:"task_id,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func marshalFrame(v interface{}) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		// Frames are built from local values; a marshal failure is a
		// programming error worth surfacing loudly in logs.
		return []byte(`{"type":"error","message":"internal serialization error","code":"INTERNAL"}`)
	}
	return payload
}
