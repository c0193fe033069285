package service

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"anoa.com/taskhub/internal/model"
	"anoa.com/taskhub/internal/modules/realtime/hub"
	"anoa.com/taskhub/internal/modules/realtime/presence"
	"github.com/google/uuid"
)

// AuthorizeRoom checks project membership before a room join is
// admitted. Valid identity with no access is an authorization failure,
// not an authentication one: the caller closes with 4003.
func (g *Gateway) AuthorizeRoom(ctx context.Context, projectID, userID uuid.UUID) (bool, error) {
	return g.projects.IsMember(ctx, projectID, userID)
}

// ServeRoom admits an authorized connection to a project room: joins
// the room group, registers presence, announces the arrival and starts
// the pumps.
func (g *Gateway) ServeRoom(c *Client, user Identity, projectID uuid.UUID) {
	c.user = user
	c.room = projectID.String()
	c.handlers = roomHandlers(g)
	c.dropSelfTypes = map[string]bool{
		"typing_indicator": true,
		"cursor_update":    true,
		"user_focus":       true,
		"user_joined":      true,
		"user_left":        true,
	}
	c.state.Store(int32(StateJoined))

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	// Presence is advisory: a store failure degrades the online list,
	// never the connection.
	if err := g.presence.AddOnline(ctx, c.room, presence.Entry{
		UserID:   user.ID,
		Username: user.Username,
		FullName: user.FullName,
		JoinedAt: time.Now(),
	}); err != nil {
		log.Printf("[ws] presence add failed for room %s: %v", c.room, err)
	}

	// The teardown hook must be installed before the client is reachable
	// through the hub: a publish can overflow the queue and force-close
	// the connection the moment it joins.
	c.onClose = func(c *Client) { g.teardownRoom(c) }

	groupID := hub.RoomGroup(c.room)
	g.hub.Join(groupID, c)

	g.hub.Publish(ctx, groupID, marshalFrame(presenceFrame{Type: "user_joined", User: &user}))

	summary, err := g.projects.Summary(ctx, projectID)
	if err != nil {
		log.Printf("[ws] project summary failed for room %s: %v", c.room, err)
	}
	online, err := g.presence.ListOnline(ctx, c.room)
	if err != nil {
		log.Printf("[ws] presence list failed for room %s: %v", c.room, err)
	}

	c.sendFrame(connectionEstablishedFrame{
		Type:        "connection_established",
		Message:     "Connected to project: " + c.room,
		User:        &user,
		Project:     summary,
		OnlineUsers: online,
		Timestamp:   time.Now(),
	})

	c.run()
}

// teardownRoom runs once per connection on the shared close path
// (client disconnect, heartbeat timeout and forced close alike). The
// hub removed the client from its groups before this runs, so the
// member-left broadcast can never loop back.
func (g *Gateway) teardownRoom(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := g.presence.RemoveOnline(ctx, c.room, c.user.ID); err != nil {
		log.Printf("[ws] presence remove failed for room %s: %v", c.room, err)
	}
	if err := g.presence.ClearFocus(ctx, c.room, c.user.ID); err != nil {
		log.Printf("[ws] focus clear failed for room %s: %v", c.room, err)
	}

	g.hub.Publish(ctx, hub.RoomGroup(c.room),
		marshalFrame(presenceFrame{Type: "user_left", User: &c.user}))
}

func roomHandlers(g *Gateway) map[string]frameHandler {
	return map[string]frameHandler{
		"ping":             g.handleRoomPing,
		"typing_start":     g.handleTypingStart,
		"typing_stop":      g.handleTypingStop,
		"cursor_position":  g.handleCursorPosition,
		"focus_task":       g.handleFocusTask,
		"unfocus_task":     g.handleUnfocusTask,
		"get_online_users": g.handleGetOnlineUsers,
		"request_sync":     g.handleRequestSync,
	}
}

// handleRoomPing answers the heartbeat and refreshes the presence TTL,
// so a live connection never reads as absent.
func (g *Gateway) handleRoomPing(c *Client, payload json.RawMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := g.presence.RefreshOnline(ctx, c.room, c.user.ID); err != nil {
		log.Printf("[ws] presence refresh failed for room %s: %v", c.room, err)
	}
	g.handlePing(c, payload)
}

func (g *Gateway) handleTypingStart(c *Client, payload json.RawMessage) {
	g.broadcastTyping(c, payload, true)
}

func (g *Gateway) handleTypingStop(c *Client, payload json.RawMessage) {
	g.broadcastTyping(c, payload, false)
}

// Typing indicators are rebroadcast only, never persisted.
func (g *Gateway) broadcastTyping(c *Client, payload json.RawMessage, typing bool) {
	var p typingPayload
	json.Unmarshal(payload, &p)

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	g.hub.Publish(ctx, hub.RoomGroup(c.room), marshalFrame(typingIndicatorFrame{
		Type:     "typing_indicator",
		UserID:   c.user.ID,
		Username: c.user.Username,
		IsTyping: typing,
		Field:    p.Field,
		TaskID:   p.TaskID,
	}))
}

func (g *Gateway) handleCursorPosition(c *Client, payload json.RawMessage) {
	var p cursorPayload
	if err := json.Unmarshal(payload, &p); err != nil || len(p.Position) == 0 {
		c.sendError("position is required", "INVALID_PAYLOAD")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	g.hub.Publish(ctx, hub.RoomGroup(c.room), marshalFrame(cursorUpdateFrame{
		Type:      "cursor_update",
		UserID:    c.user.ID,
		Username:  c.user.Username,
		Position:  p.Position,
		ElementID: p.ElementID,
	}))
}

func (g *Gateway) handleFocusTask(c *Client, payload json.RawMessage) {
	var p focusPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.TaskID == uuid.Nil {
		c.sendError("task_id is required", "INVALID_PAYLOAD")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := g.presence.SetFocus(ctx, c.room, presence.Focus{
		UserID:    c.user.ID,
		Username:  c.user.Username,
		TaskID:    p.TaskID,
		UpdatedAt: time.Now(),
	}); err != nil {
		log.Printf("[ws] focus set failed for room %s: %v", c.room, err)
	}

	taskID := p.TaskID
	g.hub.Publish(ctx, hub.RoomGroup(c.room), marshalFrame(userFocusFrame{
		Type:     "user_focus",
		UserID:   c.user.ID,
		Username: c.user.Username,
		TaskID:   &taskID,
		Action:   "focus",
	}))
}

func (g *Gateway) handleUnfocusTask(c *Client, payload json.RawMessage) {
	var p focusPayload
	json.Unmarshal(payload, &p)

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := g.presence.ClearFocus(ctx, c.room, c.user.ID); err != nil {
		log.Printf("[ws] focus clear failed for room %s: %v", c.room, err)
	}

	var taskID *uuid.UUID
	if p.TaskID != uuid.Nil {
		taskID = &p.TaskID
	}
	g.hub.Publish(ctx, hub.RoomGroup(c.room), marshalFrame(userFocusFrame{
		Type:     "user_focus",
		UserID:   c.user.ID,
		Username: c.user.Username,
		TaskID:   taskID,
		Action:   "unfocus",
	}))
}

func (g *Gateway) handleGetOnlineUsers(c *Client, _ json.RawMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	online, err := g.presence.ListOnline(ctx, c.room)
	if err != nil {
		log.Printf("[ws] presence list failed for room %s: %v", c.room, err)
		c.sendError("Error processing get_online_users", "HANDLER_ERROR")
		return
	}
	c.sendFrame(onlineUsersFrame{Type: "online_users", Users: online})
}

const syncTaskLimit = 100

// handleRequestSync returns a point-in-time snapshot, not a live
// subscription: room summary plus the most recent tasks, capped.
func (g *Gateway) handleRequestSync(c *Client, _ json.RawMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	projectID, err := uuid.Parse(c.room)
	if err != nil {
		c.sendError("Error processing request_sync", "HANDLER_ERROR")
		return
	}
	summary, err := g.projects.Summary(ctx, projectID)
	if err != nil {
		log.Printf("[ws] sync summary failed for room %s: %v", c.room, err)
		c.sendError("Error processing request_sync", "HANDLER_ERROR")
		return
	}
	tasks, err := g.tasks.RecentByProject(ctx, projectID, syncTaskLimit)
	if err != nil {
		log.Printf("[ws] sync tasks failed for room %s: %v", c.room, err)
		c.sendError("Error processing request_sync", "HANDLER_ERROR")
		return
	}

	c.sendFrame(syncResponseFrame{
		Type:      "sync_response",
		Project:   summary,
		Tasks:     tasks,
		Timestamp: time.Now(),
	})
}

// RelayEvent wraps an externally-sourced domain event in the room
// envelope and publishes it unchanged to room:<project-id>. Events with
// no room-facing shape (due-soon reminders, invites) are notification
// only.
func (g *Gateway) RelayEvent(ctx context.Context, event model.Event) {
	var frameType string
	switch event.Type {
	case model.EventTaskCreated:
		frameType = "task_created"
	case model.EventTaskUpdated, model.EventTaskAssigned, model.EventTaskCompleted, model.EventTaskStatus:
		frameType = "task_update"
	case model.EventTaskDeleted:
		frameType = "task_deleted"
	case model.EventProjectUpdated:
		frameType = "project_update"
	case model.EventMemberJoined:
		frameType = "member_joined"
	case model.EventMemberLeft:
		frameType = "member_left"
	case model.EventCommentAdded:
		frameType = "comment_added"
	default:
		return
	}

	g.hub.Publish(ctx, hub.RoomGroup(event.ProjectID.String()), marshalFrame(roomEventFrame{
		Type:    frameType,
		ActorID: event.ActorID,
		TaskID:  event.TaskID,
		Data:    event.Payload,
	}))
}
