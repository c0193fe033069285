// Package presence tracks who is currently in a room and which task
// each user is focused on. All state is advisory: every entry carries a
// TTL refreshed on heartbeat, so a crashed connection disappears on its
// own without explicit cleanup. Writes are last-writer-wins.
//
// Two implementations exist behind the Store interface: an in-process
// map for single-process deployments and a redis-backed store for
// multi-process deployments. Call sites do not change between them.
package presence

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entry is one online member of a room.
type Entry struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
	FullName string    `json:"full_name,omitempty"`
	JoinedAt time.Time `json:"joined_at"`
}

// Focus records which task a user is viewing or editing.
type Focus struct {
	UserID    uuid.UUID `json:"user_id"`
	Username  string    `json:"username"`
	TaskID    uuid.UUID `json:"task_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Store interface {
	AddOnline(ctx context.Context, roomID string, entry Entry) error
	// RefreshOnline extends the TTL of an existing entry; a missing
	// entry (already expired) is not resurrected.
	RefreshOnline(ctx context.Context, roomID string, userID uuid.UUID) error
	RemoveOnline(ctx context.Context, roomID string, userID uuid.UUID) error
	ListOnline(ctx context.Context, roomID string) ([]Entry, error)

	SetFocus(ctx context.Context, roomID string, focus Focus) error
	ClearFocus(ctx context.Context, roomID string, userID uuid.UUID) error
	ListFocus(ctx context.Context, roomID string) ([]Focus, error)
}
