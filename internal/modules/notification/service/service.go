package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"anoa.com/taskhub/internal/model"
	notifRepo "anoa.com/taskhub/internal/modules/notification/repository"
	projectRepo "anoa.com/taskhub/internal/modules/project/repository"
	"anoa.com/taskhub/internal/modules/realtime/hub"
	taskRepo "anoa.com/taskhub/internal/modules/task/repository"
	"github.com/google/uuid"
)

// Publisher is the fan-out bus surface the coordinator pushes to; the
// hub satisfies it.
type Publisher interface {
	Publish(ctx context.Context, groupID string, payload []byte)
}

type NotificationService interface {
	// Handle consumes one domain event: computes the recipient set,
	// persists one record per recipient and pushes each to the
	// recipient's notification group. Persistence failures are
	// fail-closed per recipient: no live push, the error is returned
	// for the external retry/backfill mechanism.
	Handle(ctx context.Context, event model.Event) error

	MarkRead(ctx context.Context, recipientID, notificationID uuid.UUID) error
	MarkAllRead(ctx context.Context, recipientID uuid.UUID, category string) error
	UnreadCount(ctx context.Context, recipientID uuid.UUID, category string) (int64, error)
	ListRecent(ctx context.Context, recipientID uuid.UUID, filter notifRepo.ListFilter) ([]model.Notification, error)
}

type notificationService struct {
	repo      notifRepo.NotificationRepository
	projects  projectRepo.ProjectRepository
	tasks     taskRepo.TaskRepository
	publisher Publisher
}

func NewNotificationService(repo notifRepo.NotificationRepository, projects projectRepo.ProjectRepository, tasks taskRepo.TaskRepository, publisher Publisher) NotificationService {
	return &notificationService{
		repo:      repo,
		projects:  projects,
		tasks:     tasks,
		publisher: publisher,
	}
}

// notificationPush is the live frame pushed to notify:<recipient>.
type notificationPush struct {
	Type         string              `json:"type"`
	Notification *model.Notification `json:"notification"`
}

func (s *notificationService) Handle(ctx context.Context, event model.Event) error {
	category, recipients, err := s.recipients(ctx, event)
	if err != nil {
		return err
	}

	mentioned := make(map[uuid.UUID]bool, len(event.Mentions))
	for _, id := range event.Mentions {
		mentioned[id] = true
	}

	var errs []error
	seen := make(map[uuid.UUID]bool)
	deliver := func(recipientID uuid.UUID, category string) {
		if recipientID == uuid.Nil || recipientID == event.ActorID || seen[recipientID] {
			return
		}
		seen[recipientID] = true
		if err := s.deliverOne(ctx, event, recipientID, category); err != nil {
			errs = append(errs, err)
		}
	}

	// Mentioned users get a MENTION record instead of the event's base
	// category; everyone is excluded once they have a record. Invites
	// already address the mentioned users, so the override is skipped.
	if category != model.CategoryProjectInvite {
		for _, id := range event.Mentions {
			deliver(id, model.CategoryMention)
		}
	}
	for _, id := range recipients {
		if !mentioned[id] || category == model.CategoryProjectInvite {
			deliver(id, category)
		}
	}

	return errors.Join(errs...)
}

// deliverOne persists then publishes, in that order: a connected client
// must never see a notification that a later history query cannot
// reproduce.
func (s *notificationService) deliverOne(ctx context.Context, event model.Event, recipientID uuid.UUID, category string) error {
	refType, refID := eventRef(event)
	actorID := event.ActorID
	record := &model.Notification{
		RecipientID: recipientID,
		SenderID:    &actorID,
		Category:    category,
		Title:       event.Title,
		Message:     event.Message,
		RefType:     refType,
		RefID:       refID,
	}

	if err := s.repo.Create(ctx, record); err != nil {
		log.Printf("[notification] persist failed for recipient %s (event %s): %v", recipientID, event.Type, err)
		return fmt.Errorf("persist notification for %s: %w", recipientID, err)
	}

	payload, err := json.Marshal(notificationPush{Type: "notification", Notification: record})
	if err != nil {
		return fmt.Errorf("marshal notification %s: %w", record.ID, err)
	}
	s.publisher.Publish(ctx, hub.NotifyGroup(recipientID.String()), payload)
	return nil
}

// recipients applies the event-type-specific rules. Assignment-shaped
// task events target the people on the task; project-scoped events
// target owner + manager + members. The actor is excluded later, along
// the single delivery path.
func (s *notificationService) recipients(ctx context.Context, event model.Event) (string, []uuid.UUID, error) {
	switch event.Type {
	case model.EventTaskAssigned:
		ids, err := s.taskParticipants(ctx, event)
		return model.CategoryTaskAssigned, ids, err

	case model.EventTaskCompleted:
		ids, err := s.taskParticipants(ctx, event)
		return model.CategoryTaskCompleted, ids, err

	case model.EventTaskCreated, model.EventTaskUpdated, model.EventTaskStatus, model.EventTaskDeleted:
		ids, err := s.taskParticipants(ctx, event)
		return model.CategoryStatusChange, ids, err

	case model.EventTaskDueSoon:
		ids, err := s.taskAssignee(ctx, event)
		return model.CategoryTaskDueSoon, ids, err

	case model.EventCommentAdded:
		// The relevant set of a comment is the relevant set of the
		// commented-on object; mentions ride on top.
		ids, err := s.taskParticipants(ctx, event)
		return model.CategoryTaskComment, ids, err

	case model.EventProjectInvite:
		// Invites address the invited users explicitly.
		return model.CategoryProjectInvite, event.Mentions, nil

	case model.EventProjectUpdated, model.EventMemberJoined, model.EventMemberLeft:
		ids, err := s.projects.MemberIDs(ctx, event.ProjectID)
		if err != nil {
			return "", nil, fmt.Errorf("member ids for project %s: %w", event.ProjectID, err)
		}
		return model.CategoryStatusChange, ids, nil

	default:
		return "", nil, fmt.Errorf("unknown event type %q", event.Type)
	}
}

func (s *notificationService) taskParticipants(ctx context.Context, event model.Event) ([]uuid.UUID, error) {
	if event.TaskID == nil {
		return nil, fmt.Errorf("event %s missing task_id", event.Type)
	}
	task, err := s.tasks.FindByID(ctx, *event.TaskID)
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", *event.TaskID, err)
	}
	ids := []uuid.UUID{task.CreatorID}
	if task.AssigneeID != nil {
		ids = append(ids, *task.AssigneeID)
	}
	return ids, nil
}

func (s *notificationService) taskAssignee(ctx context.Context, event model.Event) ([]uuid.UUID, error) {
	if event.TaskID == nil {
		return nil, fmt.Errorf("event %s missing task_id", event.Type)
	}
	task, err := s.tasks.FindByID(ctx, *event.TaskID)
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", *event.TaskID, err)
	}
	if task.AssigneeID == nil {
		return nil, nil
	}
	return []uuid.UUID{*task.AssigneeID}, nil
}

func eventRef(event model.Event) (string, *uuid.UUID) {
	if event.TaskID != nil {
		return "task", event.TaskID
	}
	projectID := event.ProjectID
	return "project", &projectID
}

func (s *notificationService) MarkRead(ctx context.Context, recipientID, notificationID uuid.UUID) error {
	return s.repo.MarkAsRead(ctx, notificationID, recipientID)
}

func (s *notificationService) MarkAllRead(ctx context.Context, recipientID uuid.UUID, category string) error {
	return s.repo.MarkAllAsRead(ctx, recipientID, category)
}

func (s *notificationService) UnreadCount(ctx context.Context, recipientID uuid.UUID, category string) (int64, error) {
	return s.repo.CountUnread(ctx, recipientID, category)
}

func (s *notificationService) ListRecent(ctx context.Context, recipientID uuid.UUID, filter notifRepo.ListFilter) ([]model.Notification, error) {
	return s.repo.ListByRecipient(ctx, recipientID, filter)
}
