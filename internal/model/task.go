package model

import (
	"time"

	"github.com/google/uuid"
)

type Task struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ProjectID  uuid.UUID  `gorm:"type:uuid;not null;index" json:"project_id"`
	Title      string     `gorm:"type:varchar(255);not null" json:"title"`
	Status     string     `gorm:"type:varchar(50);default:'TODO'" json:"status"`
	Priority   string     `gorm:"type:varchar(50);default:'MEDIUM'" json:"priority"`
	CreatorID  uuid.UUID  `gorm:"type:uuid;not null" json:"creator_id"`
	AssigneeID *uuid.UUID `gorm:"type:uuid;index" json:"assignee_id,omitempty"`
	DueDate    *time.Time `json:"due_date,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Creator  *User `gorm:"foreignKey:CreatorID" json:"creator,omitempty"`
	Assignee *User `gorm:"foreignKey:AssigneeID" json:"assignee,omitempty"`
}
