package model

import (
	"time"

	"github.com/google/uuid"
)

// Notification categories. STATUS_CHANGE covers generic task status
// transitions that have no more specific category.
const (
	CategoryTaskAssigned  = "TASK_ASSIGNED"
	CategoryTaskCompleted = "TASK_COMPLETED"
	CategoryTaskComment   = "TASK_COMMENT"
	CategoryTaskDueSoon   = "TASK_DUE_SOON"
	CategoryProjectInvite = "PROJECT_INVITE"
	CategoryMention       = "MENTION"
	CategoryStatusChange  = "STATUS_CHANGE"
)

func ValidCategory(c string) bool {
	switch c {
	case CategoryTaskAssigned, CategoryTaskCompleted, CategoryTaskComment,
		CategoryTaskDueSoon, CategoryProjectInvite, CategoryMention,
		CategoryStatusChange:
		return true
	}
	return false
}

// Notification is the durable per-recipient record. Broadcast events fan
// out into one row per recipient; rows are only mutated by read-state
// transitions.
type Notification struct {
	ID          uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RecipientID uuid.UUID  `gorm:"type:uuid;not null;index:idx_recipient_read" json:"recipient_id"`
	SenderID    *uuid.UUID `gorm:"type:uuid" json:"sender_id,omitempty"`
	Category    string     `gorm:"type:varchar(50);not null" json:"category"`
	Title       string     `gorm:"type:varchar(255);not null" json:"title"`
	Message     string     `gorm:"type:text" json:"message"`
	RefType     string     `gorm:"type:varchar(50)" json:"ref_type"`
	RefID       *uuid.UUID `gorm:"type:uuid" json:"ref_id,omitempty"`
	IsRead      bool       `gorm:"default:false;index:idx_recipient_read" json:"is_read"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`

	Sender *User `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
}
