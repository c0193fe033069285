package repository

import (
	"context"
	"errors"

	"anoa.com/taskhub/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ProjectRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.Project, error)
	// IsMember reports whether the user may enter the project room:
	// owner, manager, explicit member, or any user when the project is
	// public.
	IsMember(ctx context.Context, projectID, userID uuid.UUID) (bool, error)
	// MemberIDs returns owner + manager + members, deduplicated.
	MemberIDs(ctx context.Context, projectID uuid.UUID) ([]uuid.UUID, error)
	Summary(ctx context.Context, projectID uuid.UUID) (*model.ProjectSummary, error)
}

type projectRepository struct {
	db *gorm.DB
}

func NewProjectRepository(db *gorm.DB) ProjectRepository {
	return &projectRepository{db: db}
}

func (r *projectRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	var project model.Project
	if err := r.db.WithContext(ctx).First(&project, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &project, nil
}

func (r *projectRepository) IsMember(ctx context.Context, projectID, userID uuid.UUID) (bool, error) {
	project, err := r.FindByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}

	if project.IsPublic || project.OwnerID == userID {
		return true, nil
	}
	if project.ManagerID != nil && *project.ManagerID == userID {
		return true, nil
	}

	var count int64
	err = r.db.WithContext(ctx).Model(&model.ProjectMember{}).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *projectRepository) MemberIDs(ctx context.Context, projectID uuid.UUID) ([]uuid.UUID, error) {
	project, err := r.FindByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var memberIDs []uuid.UUID
	err = r.db.WithContext(ctx).Model(&model.ProjectMember{}).
		Where("project_id = ?", projectID).
		Pluck("user_id", &memberIDs).Error
	if err != nil {
		return nil, err
	}

	seen := map[uuid.UUID]bool{project.OwnerID: true}
	ids := []uuid.UUID{project.OwnerID}
	if project.ManagerID != nil && !seen[*project.ManagerID] {
		seen[*project.ManagerID] = true
		ids = append(ids, *project.ManagerID)
	}
	for _, id := range memberIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *projectRepository) Summary(ctx context.Context, projectID uuid.UUID) (*model.ProjectSummary, error) {
	project, err := r.FindByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var taskCount, memberCount int64
	if err := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("project_id = ?", projectID).
		Count(&taskCount).Error; err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Model(&model.ProjectMember{}).
		Where("project_id = ?", projectID).
		Count(&memberCount).Error; err != nil {
		return nil, err
	}

	return &model.ProjectSummary{
		ID:          project.ID,
		Name:        project.Name,
		Status:      project.Status,
		TaskCount:   taskCount,
		MemberCount: memberCount,
	}, nil
}
