package repository

import (
	"context"
	"time"

	"anoa.com/taskhub/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ListFilter narrows recent-history queries. Zero values mean "no
// filter".
type ListFilter struct {
	Limit      int
	Offset     int
	Category   string
	UnreadOnly bool
}

type NotificationRepository interface {
	Create(ctx context.Context, notification *model.Notification) error
	ListByRecipient(ctx context.Context, recipientID uuid.UUID, filter ListFilter) ([]model.Notification, error)
	MarkAsRead(ctx context.Context, id, recipientID uuid.UUID) error
	MarkAllAsRead(ctx context.Context, recipientID uuid.UUID, category string) error
	CountUnread(ctx context.Context, recipientID uuid.UUID, category string) (int64, error)
}

type notificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, notification *model.Notification) error {
	return r.db.WithContext(ctx).Create(notification).Error
}

func (r *notificationRepository) ListByRecipient(ctx context.Context, recipientID uuid.UUID, filter ListFilter) ([]model.Notification, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := r.db.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Order("created_at desc").
		Limit(limit).
		Offset(filter.Offset).
		Preload("Sender", func(db *gorm.DB) *gorm.DB {
			return db.Select("id", "username", "avatar_url")
		})

	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.UnreadOnly {
		query = query.Where("is_read = ?", false)
	}

	var notifications []model.Notification
	err := query.Find(&notifications).Error
	return notifications, err
}

// MarkAsRead is idempotent: read_at is set only on the unread -> read
// transition. The recipient scoping prevents marking another user's
// record.
func (r *notificationRepository) MarkAsRead(ctx context.Context, id, recipientID uuid.UUID) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.Notification{}).
		Where("id = ? AND recipient_id = ? AND is_read = ?", id, recipientID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": &now}).Error
}

func (r *notificationRepository) MarkAllAsRead(ctx context.Context, recipientID uuid.UUID, category string) error {
	now := time.Now()
	query := r.db.WithContext(ctx).Model(&model.Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false)
	if category != "" {
		query = query.Where("category = ?", category)
	}
	return query.Updates(map[string]interface{}{"is_read": true, "read_at": &now}).Error
}

func (r *notificationRepository) CountUnread(ctx context.Context, recipientID uuid.UUID, category string) (int64, error) {
	query := r.db.WithContext(ctx).Model(&model.Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false)
	if category != "" {
		query = query.Where("category = ?", category)
	}

	var count int64
	err := query.Count(&count).Error
	return count, err
}
