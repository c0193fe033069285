package service

import (
	"context"
	"time"

	"anoa.com/taskhub/internal/model"
	notifRepo "anoa.com/taskhub/internal/modules/notification/repository"
	projectRepo "anoa.com/taskhub/internal/modules/project/repository"
	"anoa.com/taskhub/internal/modules/realtime/hub"
	"anoa.com/taskhub/internal/modules/realtime/presence"
	taskRepo "anoa.com/taskhub/internal/modules/task/repository"
	"github.com/google/uuid"
)

// NotificationQueries is the slice of the notification coordinator the
// gateway's frame handlers need.
type NotificationQueries interface {
	MarkRead(ctx context.Context, recipientID, notificationID uuid.UUID) error
	MarkAllRead(ctx context.Context, recipientID uuid.UUID, category string) error
	UnreadCount(ctx context.Context, recipientID uuid.UUID, category string) (int64, error)
	ListRecent(ctx context.Context, recipientID uuid.UUID, filter notifRepo.ListFilter) ([]model.Notification, error)
}

type Options struct {
	HeartbeatInterval time.Duration
	OutboundQueueSize int
	WorkerPoolSize    int
}

// Gateway drives per-connection sessions on top of the hub: it joins
// authorized groups, wires frame handlers and owns the worker pool used
// for blocking store calls.
type Gateway struct {
	hub           *hub.Hub
	presence      presence.Store
	notifications NotificationQueries
	projects      projectRepo.ProjectRepository
	tasks         taskRepo.TaskRepository
	pool          *workerPool
	opts          Options
}

func NewGateway(
	h *hub.Hub,
	presenceStore presence.Store,
	notifications NotificationQueries,
	projects projectRepo.ProjectRepository,
	tasks taskRepo.TaskRepository,
	opts Options,
) *Gateway {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.OutboundQueueSize <= 0 {
		opts.OutboundQueueSize = 64
	}
	if opts.WorkerPoolSize <= 0 {
		opts.WorkerPoolSize = 32
	}
	return &Gateway{
		hub:           h,
		presence:      presenceStore,
		notifications: notifications,
		projects:      projects,
		tasks:         tasks,
		pool:          newWorkerPool(opts.WorkerPoolSize, 4*opts.WorkerPoolSize),
		opts:          opts,
	}
}

func (g *Gateway) Hub() *hub.Hub { return g.hub }

// Shutdown drains the worker pool. Connections close with the server.
func (g *Gateway) Shutdown() {
	g.pool.Shutdown()
}

// NewConnection wraps a freshly upgraded socket. The caller drives the
// handshake: beginAuth/reject during validation, then one of the Serve
// methods on success.
func (g *Gateway) NewConnection(conn wsConn) *Client {
	return newClient(conn, g.hub, g.pool, Identity{}, g.opts.HeartbeatInterval, g.opts.OutboundQueueSize)
}
