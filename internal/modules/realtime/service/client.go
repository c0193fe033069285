package service

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"anoa.com/taskhub/internal/modules/realtime/hub"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Application close codes, mirrored by clients.
const (
	CloseUnauthenticated = 4001
	CloseForbidden       = 4003
	CloseRateLimited     = 4029
)

const writeWait = 10 * time.Second

// Connection lifecycle. Rejected is terminal and never reaches Joined.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateJoined
	StateClosing
	StateClosed
	StateRejected
)

// wsConn is the slice of *websocket.Conn the client uses; tests swap in
// a fake.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type frameHandler func(c *Client, payload json.RawMessage)

// Client owns one websocket connection for its lifetime: the read and
// write pumps, the bounded outbound queue, the heartbeat deadline and
// the typed frame dispatch. A slow or dead peer only ever costs this
// one connection.
type Client struct {
	id        string
	conn      wsConn
	hub       *hub.Hub
	pool      *workerPool
	heartbeat time.Duration

	user Identity
	// room is the project id for room sessions, empty for notification
	// sessions.
	room string

	send chan []byte
	done chan struct{}

	state atomic.Int32

	closeOnce sync.Once
	onClose   func(*Client)

	handlers map[string]frameHandler

	// dropSelfTypes lists outbound frame types that are never echoed
	// back to the user who caused them (typing, cursor, join/leave).
	dropSelfTypes map[string]bool

	// filterMu guards the category subscription filter; nil means all
	// categories.
	filterMu   sync.Mutex
	categories map[string]bool

	lastActivity atomic.Int64
}

func newClient(conn wsConn, h *hub.Hub, pool *workerPool, user Identity, heartbeat time.Duration, queueSize int) *Client {
	c := &Client{
		id:        uuid.NewString(),
		conn:      conn,
		hub:       h,
		pool:      pool,
		heartbeat: heartbeat,
		user:      user,
		send:      make(chan []byte, queueSize),
		done:      make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	c.touch()
	return c
}

func (c *Client) ID() string        { return c.id }
func (c *Client) UserID() uuid.UUID { return c.user.ID }
func (c *Client) State() State      { return State(c.state.Load()) }

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixMilli())
}

// LastActivity is the time the last inbound frame arrived.
func (c *Client) LastActivity() time.Time {
	return time.UnixMilli(c.lastActivity.Load())
}

func (c *Client) BeginAuth() {
	c.state.Store(int32(StateAuthenticating))
}

// reject closes a connection that never completed the handshake. No
// group membership exists yet, so there is nothing to unwind.
func (c *Client) Reject(code int, reason string) {
	c.state.Store(int32(StateRejected))
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		c.conn.Close()
	})
}

// Enqueue implements hub.Subscriber. It never blocks: false means the
// bounded queue is full and the hub will force-close this client.
// Frames filtered out (own echoes, unsubscribed categories) count as
// delivered.
func (c *Client) Enqueue(payload []byte) bool {
	if c.shouldDrop(payload) {
		return true
	}
	select {
	case <-c.done:
		return true // Already closing; nothing to deliver to.
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// ForceClose implements hub.Subscriber; the hub has already removed the
// client from every group when this runs.
func (c *Client) ForceClose() {
	c.closeWith(websocket.CloseTryAgainLater, "outbound queue overflow")
}

// Close is the single idempotent close path, shared by client
// disconnects, heartbeat timeouts and forced closes. Group membership
// is removed synchronously before the close completes.
func (c *Client) Close() {
	c.closeWith(websocket.CloseNormalClosure, "")
}

func (c *Client) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		c.hub.Remove(c)
		close(c.done)
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		c.conn.Close()
		c.state.Store(int32(StateClosed))
		if c.onClose != nil {
			// Session teardown (presence removal, leave broadcast) may
			// block on the store; keep it off the caller, which can be
			// a publishing goroutine.
			go c.onClose(c)
		}
	})
}

// sendFrame marshals and enqueues a frame produced by this client's own
// handlers, subject to the same overflow rule as published events.
func (c *Client) sendFrame(v interface{}) {
	if !c.Enqueue(marshalFrame(v)) {
		c.hub.Remove(c)
		c.ForceClose()
	}
}

func (c *Client) sendError(message, code string) {
	c.sendFrame(errorFrame{Type: "error", Message: message, Code: code})
}

func (c *Client) run() {
	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer c.Close()
	for {
		// Absence of any inbound frame for twice the heartbeat interval
		// means the peer is gone; the deadline error lands here and
		// takes the normal close path.
		c.conn.SetReadDeadline(time.Now().Add(2 * c.heartbeat))
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.touch()
		c.dispatch(data)
	}
}

func (c *Client) writePump() {
	for {
		select {
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// dispatch routes one inbound frame. Malformed or unknown frames answer
// with an error frame and leave the connection open. Handlers run on
// the worker pool so blocking store calls never stall the read loop.
func (c *Client) dispatch(data []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		c.sendError("Invalid JSON format", "INVALID_JSON")
		return
	}

	handler, ok := c.handlers[env.Type]
	if !ok {
		c.sendError("Unknown message type: "+env.Type, "UNKNOWN_TYPE")
		return
	}

	payload := json.RawMessage(data)
	if !c.pool.TrySubmit(func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[ws] handler %s panicked: %v", env.Type, r)
				c.sendError("Error processing "+env.Type, "HANDLER_ERROR")
			}
		}()
		handler(c, payload)
	}) {
		c.sendError("Server busy, try again", "BUSY")
	}
}

// subscribeCategories replaces the category filter. An empty list
// clears it (all categories delivered).
func (c *Client) subscribeCategories(categories []string) {
	c.filterMu.Lock()
	defer c.filterMu.Unlock()
	if len(categories) == 0 {
		c.categories = nil
		return
	}
	c.categories = make(map[string]bool, len(categories))
	for _, cat := range categories {
		c.categories[cat] = true
	}
}

// peekFrame is the minimal decode used to apply delivery-time filters
// to published payloads.
type peekFrame struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	User   struct {
		ID string `json:"id"`
	} `json:"user"`
	Notification struct {
		Category string `json:"category"`
	} `json:"notification"`
}

func (c *Client) shouldDrop(payload []byte) bool {
	c.filterMu.Lock()
	filter := c.categories
	c.filterMu.Unlock()

	if filter == nil && len(c.dropSelfTypes) == 0 {
		return false
	}

	var peek peekFrame
	if err := json.Unmarshal(payload, &peek); err != nil {
		return false
	}

	if filter != nil && peek.Type == "notification" && !filter[peek.Notification.Category] {
		return true
	}
	if c.dropSelfTypes[peek.Type] {
		self := c.user.ID.String()
		if peek.UserID == self || peek.User.ID == self {
			return true
		}
	}
	return false
}
