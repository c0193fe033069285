package model

import (
	"time"

	"github.com/google/uuid"
)

type Project struct {
	ID          uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name        string     `gorm:"type:varchar(255);not null" json:"name"`
	Description string     `gorm:"type:text" json:"description"`
	Status      string     `gorm:"type:varchar(50);default:'ACTIVE'" json:"status"`
	OwnerID     uuid.UUID  `gorm:"type:uuid;not null" json:"owner_id"`
	ManagerID   *uuid.UUID `gorm:"type:uuid" json:"manager_id,omitempty"`
	IsPublic    bool       `gorm:"default:false" json:"is_public"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Owner   *User `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`
	Manager *User `gorm:"foreignKey:ManagerID" json:"manager,omitempty"`
}

type ProjectMember struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ProjectID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_project_user" json:"project_id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_project_user" json:"user_id"`
	Role      string    `gorm:"type:varchar(50);default:'member'" json:"role"`
	JoinedAt  time.Time `gorm:"autoCreateTime" json:"joined_at"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// ProjectSummary is the point-in-time room snapshot sent on connect and
// in sync responses. Not a stored row.
type ProjectSummary struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	TaskCount   int64     `json:"task_count"`
	MemberCount int64     `json:"member_count"`
}
