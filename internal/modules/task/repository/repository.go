package repository

import (
	"context"

	"anoa.com/taskhub/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TaskRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.Task, error)
	// RecentByProject returns the newest tasks for the sync snapshot,
	// capped by limit.
	RecentByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]model.Task, error)
}

type taskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) TaskRepository {
	return &taskRepository{db: db}
}

func (r *taskRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Task, error) {
	var task model.Task
	if err := r.db.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *taskRepository) RecentByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]model.Task, error) {
	var tasks []model.Task
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("updated_at desc").
		Limit(limit).
		Find(&tasks).Error
	return tasks, err
}
