package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Domain event types emitted by the CRUD layer. The gateway consumes
// these; it never produces them.
const (
	EventTaskAssigned   = "task_assigned"
	EventTaskCreated    = "task_created"
	EventTaskUpdated    = "task_updated"
	EventTaskDeleted    = "task_deleted"
	EventTaskCompleted  = "task_completed"
	EventTaskStatus     = "task_status"
	EventTaskDueSoon    = "task_due_soon"
	EventProjectUpdated = "project_updated"
	EventProjectInvite  = "project_invite"
	EventMemberJoined   = "member_joined"
	EventMemberLeft     = "member_left"
	EventCommentAdded   = "comment_added"
)

// Event is the structured payload backend subsystems hand to
// Publish(event). ActorID is the user whose action caused the event and
// is always excluded from the recipient set. Payload is relayed to room
// subscribers unchanged.
type Event struct {
	Type      string          `json:"type" binding:"required"`
	ProjectID uuid.UUID       `json:"project_id" binding:"required"`
	ActorID   uuid.UUID       `json:"actor_id" binding:"required"`
	TaskID    *uuid.UUID      `json:"task_id,omitempty"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Mentions  []uuid.UUID     `json:"mentions,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}
