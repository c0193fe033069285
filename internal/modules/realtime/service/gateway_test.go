package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"anoa.com/taskhub/internal/model"
	notifRepo "anoa.com/taskhub/internal/modules/notification/repository"
	"anoa.com/taskhub/internal/modules/realtime/hub"
	"anoa.com/taskhub/internal/modules/realtime/presence"
	"anoa.com/taskhub/pkg/apperror"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueries struct {
	mu          sync.Mutex
	markedRead  []uuid.UUID
	markedAll   []string
	unreadCount int64
	recent      []model.Notification
	failing     bool
}

func (q *fakeQueries) MarkRead(_ context.Context, _, notificationID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failing {
		return apperror.ErrTransient
	}
	q.markedRead = append(q.markedRead, notificationID)
	return nil
}

func (q *fakeQueries) MarkAllRead(_ context.Context, _ uuid.UUID, category string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failing {
		return apperror.ErrTransient
	}
	q.markedAll = append(q.markedAll, category)
	return nil
}

func (q *fakeQueries) UnreadCount(context.Context, uuid.UUID, string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failing {
		return 0, apperror.ErrTransient
	}
	return q.unreadCount, nil
}

func (q *fakeQueries) ListRecent(context.Context, uuid.UUID, notifRepo.ListFilter) ([]model.Notification, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failing {
		return nil, apperror.ErrTransient
	}
	return q.recent, nil
}

type stubProjects struct {
	member  bool
	summary *model.ProjectSummary
}

func (s *stubProjects) FindByID(context.Context, uuid.UUID) (*model.Project, error) {
	return nil, apperror.ErrNotFound
}

func (s *stubProjects) IsMember(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return s.member, nil
}

func (s *stubProjects) MemberIDs(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

func (s *stubProjects) Summary(context.Context, uuid.UUID) (*model.ProjectSummary, error) {
	if s.summary != nil {
		return s.summary, nil
	}
	return &model.ProjectSummary{}, nil
}

type stubTasks struct {
	recent []model.Task
}

func (s *stubTasks) FindByID(context.Context, uuid.UUID) (*model.Task, error) {
	return nil, apperror.ErrNotFound
}

func (s *stubTasks) RecentByProject(context.Context, uuid.UUID, int) ([]model.Task, error) {
	return s.recent, nil
}

// recordingSubscriber captures frames published to a hub group.
type recordingSubscriber struct {
	id string

	mu       sync.Mutex
	received [][]byte
}

func (r *recordingSubscriber) ID() string { return r.id }

func (r *recordingSubscriber) Enqueue(payload []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, payload)
	return true
}

func (r *recordingSubscriber) ForceClose() {}

func (r *recordingSubscriber) frames() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.received))
	copy(out, r.received)
	return out
}

type gatewayFixture struct {
	gateway  *Gateway
	queries  *fakeQueries
	projects *stubProjects
	client   *Client
	conn     *fakeConn
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	queries := &fakeQueries{}
	projects := &stubProjects{member: true}
	g := NewGateway(hub.New(nil), presence.NewMemoryStore(time.Hour), queries, projects, &stubTasks{}, Options{})
	t.Cleanup(g.Shutdown)

	conn := &fakeConn{}
	client := g.NewConnection(conn)
	client.user = Identity{ID: uuid.New(), Username: "alice"}

	return &gatewayFixture{gateway: g, queries: queries, projects: projects, client: client, conn: conn}
}

func TestPingEchoesTimestamp(t *testing.T) {
	f := newGatewayFixture(t)

	f.gateway.handlePing(f.client, json.RawMessage(`{"type":"ping","timestamp":"t-123"}`))

	frame := nextFrame(t, f.client)
	assert.Equal(t, "pong", frame["type"])
	assert.Equal(t, "t-123", frame["timestamp"])
	assert.NotEmpty(t, frame["server_time"])
}

func TestMarkReadRequiresNotificationID(t *testing.T) {
	f := newGatewayFixture(t)

	f.gateway.handleMarkRead(f.client, json.RawMessage(`{"type":"mark_read"}`))

	frame := nextFrame(t, f.client)
	assert.Equal(t, "INVALID_PAYLOAD", frame["code"])
	assert.Empty(t, f.queries.markedRead)
}

func TestMarkReadAcknowledges(t *testing.T) {
	f := newGatewayFixture(t)
	id := uuid.New()

	payload, _ := json.Marshal(map[string]interface{}{"type": "mark_read", "notification_id": id})
	f.gateway.handleMarkRead(f.client, payload)

	frame := nextFrame(t, f.client)
	assert.Equal(t, "notification_marked_read", frame["type"])
	assert.Equal(t, id.String(), frame["notification_id"])
	require.Len(t, f.queries.markedRead, 1)
	assert.Equal(t, id, f.queries.markedRead[0])
}

func TestMarkReadStoreFailureAnswersError(t *testing.T) {
	f := newGatewayFixture(t)
	f.queries.failing = true

	payload, _ := json.Marshal(map[string]interface{}{"type": "mark_read", "notification_id": uuid.New()})
	f.gateway.handleMarkRead(f.client, payload)

	frame := nextFrame(t, f.client)
	assert.Equal(t, "HANDLER_ERROR", frame["code"])
}

func TestMarkAllReadRejectsUnknownCategory(t *testing.T) {
	f := newGatewayFixture(t)

	f.gateway.handleMarkAllRead(f.client, json.RawMessage(`{"type":"mark_all_read","category":"NOT_A_CATEGORY"}`))

	frame := nextFrame(t, f.client)
	assert.Equal(t, "INVALID_PAYLOAD", frame["code"])
	assert.Empty(t, f.queries.markedAll)
}

func TestUnreadCountAnswersFrame(t *testing.T) {
	f := newGatewayFixture(t)
	f.queries.unreadCount = 7

	f.gateway.handleUnreadCount(f.client, json.RawMessage(`{"type":"get_unread_count"}`))

	frame := nextFrame(t, f.client)
	assert.Equal(t, "unread_count", frame["type"])
	assert.Equal(t, float64(7), frame["count"])
}

func TestGetRecentAnswersHistory(t *testing.T) {
	f := newGatewayFixture(t)
	f.queries.recent = []model.Notification{
		{ID: uuid.New(), Category: model.CategoryMention, Title: "hi"},
	}

	f.gateway.handleGetRecent(f.client, json.RawMessage(`{"type":"get_recent","limit":5}`))

	frame := nextFrame(t, f.client)
	assert.Equal(t, "recent_notifications", frame["type"])
	notifications := frame["notifications"].([]interface{})
	require.Len(t, notifications, 1)
}

func TestSubscribeCategoriesRejectsUnknown(t *testing.T) {
	f := newGatewayFixture(t)

	f.gateway.handleSubscribeCategories(f.client, json.RawMessage(`{"type":"subscribe_categories","categories":["BOGUS"]}`))

	frame := nextFrame(t, f.client)
	assert.Equal(t, "INVALID_PAYLOAD", frame["code"])
	assert.Nil(t, f.client.categories, "filter must stay unset")
}

func TestSubscribeCategoriesInstallsFilter(t *testing.T) {
	f := newGatewayFixture(t)

	payload, _ := json.Marshal(map[string]interface{}{
		"type":       "subscribe_categories",
		"categories": []string{model.CategoryMention, model.CategoryTaskAssigned},
	})
	f.gateway.handleSubscribeCategories(f.client, payload)

	f.client.filterMu.Lock()
	defer f.client.filterMu.Unlock()
	assert.True(t, f.client.categories[model.CategoryMention])
	assert.True(t, f.client.categories[model.CategoryTaskAssigned])
	assert.False(t, f.client.categories[model.CategoryTaskDueSoon])
}

func TestAuthorizeRoomDelegatesToMembership(t *testing.T) {
	f := newGatewayFixture(t)

	ok, err := f.gateway.AuthorizeRoom(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.True(t, ok)

	f.projects.member = false
	ok, err = f.gateway.AuthorizeRoom(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFocusTaskRequiresTaskID(t *testing.T) {
	f := newGatewayFixture(t)
	f.client.room = uuid.NewString()

	f.gateway.handleFocusTask(f.client, json.RawMessage(`{"type":"focus_task"}`))

	frame := nextFrame(t, f.client)
	assert.Equal(t, "INVALID_PAYLOAD", frame["code"])
}

func TestCursorPositionRequiresPosition(t *testing.T) {
	f := newGatewayFixture(t)
	f.client.room = uuid.NewString()

	f.gateway.handleCursorPosition(f.client, json.RawMessage(`{"type":"cursor_position"}`))

	frame := nextFrame(t, f.client)
	assert.Equal(t, "INVALID_PAYLOAD", frame["code"])
}

func TestTypingIndicatorBroadcastsToRoom(t *testing.T) {
	f := newGatewayFixture(t)
	projectID := uuid.New()
	f.client.room = projectID.String()

	listener := &recordingSubscriber{id: "listener"}
	f.gateway.Hub().Join(hub.RoomGroup(projectID.String()), listener)

	f.gateway.handleTypingStart(f.client, json.RawMessage(`{"type":"typing_start","field":"description"}`))

	frames := listener.frames()
	require.Len(t, frames, 1)

	var frame typingIndicatorFrame
	require.NoError(t, json.Unmarshal(frames[0], &frame))
	assert.Equal(t, "typing_indicator", frame.Type)
	assert.Equal(t, f.client.user.ID, frame.UserID)
	assert.True(t, frame.IsTyping)
	assert.Equal(t, "description", frame.Field)
}

func TestRelayEventMapsTypesToRoomFrames(t *testing.T) {
	f := newGatewayFixture(t)
	projectID := uuid.New()
	taskID := uuid.New()

	listener := &recordingSubscriber{id: "listener"}
	f.gateway.Hub().Join(hub.RoomGroup(projectID.String()), listener)

	event := model.Event{
		Type:      model.EventTaskAssigned,
		ProjectID: projectID,
		ActorID:   uuid.New(),
		TaskID:    &taskID,
		Payload:   json.RawMessage(`{"status":"IN_PROGRESS"}`),
	}
	f.gateway.RelayEvent(context.Background(), event)

	frames := listener.frames()
	require.Len(t, frames, 1)

	var frame roomEventFrame
	require.NoError(t, json.Unmarshal(frames[0], &frame))
	assert.Equal(t, "task_update", frame.Type)
	assert.Equal(t, event.ActorID, frame.ActorID)
	require.NotNil(t, frame.TaskID)
	assert.Equal(t, taskID, *frame.TaskID)
	assert.JSONEq(t, `{"status":"IN_PROGRESS"}`, string(frame.Data))
}

// A connection force-closed through the hub's overflow path must still
// run room teardown: the close hook is installed before the client is
// reachable through the group, so there is no window where a forced
// close skips it.
func TestRoomForcedCloseRunsTeardown(t *testing.T) {
	f := newGatewayFixture(t)
	projectID := uuid.New()
	user := Identity{ID: uuid.New(), Username: "bob"}

	listener := &recordingSubscriber{id: "listener"}
	f.gateway.Hub().Join(hub.RoomGroup(projectID.String()), listener)

	f.gateway.ServeRoom(f.client, user, projectID)

	// Mirror the hub's overflow response: removal from every group,
	// then the forced close.
	f.gateway.Hub().Remove(f.client)
	f.client.ForceClose()

	require.Eventually(t, func() bool {
		for _, payload := range listener.frames() {
			var frame presenceFrame
			if json.Unmarshal(payload, &frame) == nil && frame.Type == "user_left" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "departure must be broadcast to the room")

	require.Eventually(t, func() bool {
		online, err := f.gateway.presence.ListOnline(context.Background(), projectID.String())
		return err == nil && len(online) == 0
	}, 2*time.Second, 10*time.Millisecond, "presence entry must be cleared")
}

func TestRelayEventSkipsNotificationOnlyEvents(t *testing.T) {
	f := newGatewayFixture(t)
	projectID := uuid.New()
	taskID := uuid.New()

	listener := &recordingSubscriber{id: "listener"}
	f.gateway.Hub().Join(hub.RoomGroup(projectID.String()), listener)

	f.gateway.RelayEvent(context.Background(), model.Event{
		Type:      model.EventTaskDueSoon,
		ProjectID: projectID,
		ActorID:   uuid.New(),
		TaskID:    &taskID,
	})

	assert.Empty(t, listener.frames(), "due-soon reminders have no room-facing frame")
}
