package service

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"anoa.com/taskhub/internal/model"
	notifRepo "anoa.com/taskhub/internal/modules/notification/repository"
	"anoa.com/taskhub/internal/modules/realtime/hub"
	"github.com/google/uuid"
)

const storeTimeout = 5 * time.Second

// ServeNotify admits an authenticated connection to its personal
// notification channel. Joining notify:<user-id> is unconditional for a
// valid identity; there is no further authorization step.
func (g *Gateway) ServeNotify(c *Client, user Identity) {
	c.user = user
	c.handlers = notifyHandlers(g)
	c.state.Store(int32(StateJoined))

	g.hub.Join(hub.NotifyGroup(user.ID.String()), c)

	c.sendFrame(connectionEstablishedFrame{
		Type:      "connection_established",
		Message:   "Connected to notifications for " + user.Username,
		User:      &user,
		Timestamp: time.Now(),
	})

	c.run()
}

func notifyHandlers(g *Gateway) map[string]frameHandler {
	return map[string]frameHandler{
		"ping":                 g.handlePing,
		"mark_read":            g.handleMarkRead,
		"mark_all_read":        g.handleMarkAllRead,
		"get_unread_count":     g.handleUnreadCount,
		"get_recent":           g.handleGetRecent,
		"subscribe_categories": g.handleSubscribeCategories,
	}
}

func (g *Gateway) handlePing(c *Client, payload json.RawMessage) {
	var p pingPayload
	json.Unmarshal(payload, &p)
	c.sendFrame(pongFrame{
		Type:       "pong",
		Timestamp:  p.Timestamp,
		ServerTime: time.Now().Format(time.RFC3339),
	})
}

func (g *Gateway) handleMarkRead(c *Client, payload json.RawMessage) {
	var p markReadPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.NotificationID == uuid.Nil {
		c.sendError("notification_id is required", "INVALID_PAYLOAD")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := g.notifications.MarkRead(ctx, c.user.ID, p.NotificationID); err != nil {
		log.Printf("[ws] mark_read failed for user %s: %v", c.user.ID, err)
		c.sendError("Error processing mark_read", "HANDLER_ERROR")
		return
	}
	c.sendFrame(markedReadFrame{Type: "notification_marked_read", NotificationID: p.NotificationID})
}

func (g *Gateway) handleMarkAllRead(c *Client, payload json.RawMessage) {
	var p markAllReadPayload
	json.Unmarshal(payload, &p)
	if p.Category != "" && !model.ValidCategory(p.Category) {
		c.sendError("Unknown category: "+p.Category, "INVALID_PAYLOAD")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := g.notifications.MarkAllRead(ctx, c.user.ID, p.Category); err != nil {
		log.Printf("[ws] mark_all_read failed for user %s: %v", c.user.ID, err)
		c.sendError("Error processing mark_all_read", "HANDLER_ERROR")
		return
	}
	c.sendFrame(allMarkedReadFrame{Type: "all_notifications_marked_read", Category: p.Category})
}

func (g *Gateway) handleUnreadCount(c *Client, payload json.RawMessage) {
	var p unreadCountPayload
	json.Unmarshal(payload, &p)
	if p.Category != "" && !model.ValidCategory(p.Category) {
		c.sendError("Unknown category: "+p.Category, "INVALID_PAYLOAD")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	count, err := g.notifications.UnreadCount(ctx, c.user.ID, p.Category)
	if err != nil {
		log.Printf("[ws] get_unread_count failed for user %s: %v", c.user.ID, err)
		c.sendError("Error processing get_unread_count", "HANDLER_ERROR")
		return
	}
	c.sendFrame(unreadCountFrame{Type: "unread_count", Count: count, Category: p.Category})
}

func (g *Gateway) handleGetRecent(c *Client, payload json.RawMessage) {
	var p getRecentPayload
	json.Unmarshal(payload, &p)
	if p.Category != "" && !model.ValidCategory(p.Category) {
		c.sendError("Unknown category: "+p.Category, "INVALID_PAYLOAD")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	notifications, err := g.notifications.ListRecent(ctx, c.user.ID, notifRepo.ListFilter{
		Limit:      p.Limit,
		Offset:     p.Offset,
		Category:   p.Category,
		UnreadOnly: p.UnreadOnly,
	})
	if err != nil {
		log.Printf("[ws] get_recent failed for user %s: %v", c.user.ID, err)
		c.sendError("Error processing get_recent", "HANDLER_ERROR")
		return
	}
	c.sendFrame(recentNotificationsFrame{Type: "recent_notifications", Notifications: notifications})
}

func (g *Gateway) handleSubscribeCategories(c *Client, payload json.RawMessage) {
	var p subscribeCategoriesPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.sendError("Invalid categories payload", "INVALID_PAYLOAD")
		return
	}
	for _, cat := range p.Categories {
		if !model.ValidCategory(cat) {
			c.sendError("Unknown category: "+cat, "INVALID_PAYLOAD")
			return
		}
	}
	c.subscribeCategories(p.Categories)
}
