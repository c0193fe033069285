package service

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"anoa.com/taskhub/internal/model"
	"anoa.com/taskhub/internal/modules/realtime/hub"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu        sync.Mutex
	written   [][]byte
	closed    bool
	closeCode int
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {} // never used directly in these tests
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, data)
	return nil
}

func (f *fakeConn) WriteControl(messageType int, data []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if messageType == websocket.CloseMessage && len(data) >= 2 {
		f.closeCode = int(data[0])<<8 | int(data[1])
	}
	return nil
}

func (f *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) sentCloseCode() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode
}

// notificationFrame mirrors the wire shape the notification coordinator
// publishes; the delivery filter is the only consumer here.
type notificationFrame struct {
	Type         string              `json:"type"`
	Notification *model.Notification `json:"notification"`
}

func newTestClient(t *testing.T, queueSize int) (*Client, *fakeConn, *workerPool) {
	t.Helper()
	conn := &fakeConn{}
	pool := newWorkerPool(2, 8)
	t.Cleanup(pool.Shutdown)
	h := hub.New(nil)
	c := newClient(conn, h, pool, Identity{ID: uuid.New(), Username: "alice"}, 30*time.Second, queueSize)
	return c, conn, pool
}

// nextFrame pops the next queued outbound frame, failing after a short
// wait so asynchronous handler output is covered.
func nextFrame(t *testing.T, c *Client) map[string]interface{} {
	t.Helper()
	select {
	case payload := <-c.send:
		var frame map[string]interface{}
		require.NoError(t, json.Unmarshal(payload, &frame))
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("no frame produced")
		return nil
	}
}

func TestDispatchRejectsInvalidJSON(t *testing.T) {
	c, _, _ := newTestClient(t, 8)

	c.dispatch([]byte("{not json"))

	frame := nextFrame(t, c)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "INVALID_JSON", frame["code"])
}

func TestDispatchRejectsMissingType(t *testing.T) {
	c, _, _ := newTestClient(t, 8)

	c.dispatch([]byte(`{"payload": 1}`))

	frame := nextFrame(t, c)
	assert.Equal(t, "INVALID_JSON", frame["code"])
}

func TestDispatchRejectsUnknownType(t *testing.T) {
	c, _, _ := newTestClient(t, 8)
	c.handlers = map[string]frameHandler{}

	c.dispatch([]byte(`{"type":"no_such_frame"}`))

	frame := nextFrame(t, c)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "UNKNOWN_TYPE", frame["code"])
}

func TestDispatchRunsHandlerOnPool(t *testing.T) {
	c, _, _ := newTestClient(t, 8)
	handled := make(chan json.RawMessage, 1)
	c.handlers = map[string]frameHandler{
		"echo": func(_ *Client, payload json.RawMessage) { handled <- payload },
	}

	c.dispatch([]byte(`{"type":"echo","value":42}`))

	select {
	case payload := <-handled:
		assert.JSONEq(t, `{"type":"echo","value":42}`, string(payload))
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}
}

func TestDispatchAnswersBusyWhenPoolSaturated(t *testing.T) {
	conn := &fakeConn{}
	// One worker, zero queue slots: a single blocked task saturates it.
	pool := newWorkerPool(1, 0)
	h := hub.New(nil)
	c := newClient(conn, h, pool, Identity{ID: uuid.New()}, 30*time.Second, 8)

	block := make(chan struct{})
	started := make(chan struct{})
	require.True(t, pool.TrySubmit(func() {
		close(started)
		<-block
	}))
	<-started

	c.handlers = map[string]frameHandler{
		"work": func(*Client, json.RawMessage) {},
	}
	c.dispatch([]byte(`{"type":"work"}`))

	frame := nextFrame(t, c)
	assert.Equal(t, "BUSY", frame["code"])

	close(block)
	pool.Shutdown()
}

func TestHandlerPanicAnswersErrorFrame(t *testing.T) {
	c, _, _ := newTestClient(t, 8)
	c.handlers = map[string]frameHandler{
		"boom": func(*Client, json.RawMessage) { panic("kaput") },
	}

	c.dispatch([]byte(`{"type":"boom"}`))

	frame := nextFrame(t, c)
	assert.Equal(t, "HANDLER_ERROR", frame["code"])
}

func TestEnqueueReportsOverflow(t *testing.T) {
	c, _, _ := newTestClient(t, 1)

	assert.True(t, c.Enqueue([]byte(`{"type":"a"}`)))
	assert.False(t, c.Enqueue([]byte(`{"type":"b"}`)), "full queue must report overflow")
}

func TestEnqueueAfterCloseIsSwallowed(t *testing.T) {
	c, _, _ := newTestClient(t, 1)
	c.Close()

	assert.True(t, c.Enqueue([]byte(`{"type":"late"}`)), "closing client absorbs frames without overflow")
}

func TestCategoryFilter(t *testing.T) {
	c, _, _ := newTestClient(t, 8)
	c.subscribeCategories([]string{model.CategoryMention})

	dropped := marshalFrame(notificationFrame{
		Type:         "notification",
		Notification: &model.Notification{Category: model.CategoryTaskAssigned},
	})
	kept := marshalFrame(notificationFrame{
		Type:         "notification",
		Notification: &model.Notification{Category: model.CategoryMention},
	})

	require.True(t, c.Enqueue(dropped))
	require.True(t, c.Enqueue(kept))

	frame := nextFrame(t, c)
	notification := frame["notification"].(map[string]interface{})
	assert.Equal(t, model.CategoryMention, notification["category"])
	assert.Empty(t, c.send, "filtered frame must not be queued")
}

func TestEmptySubscriptionClearsFilter(t *testing.T) {
	c, _, _ := newTestClient(t, 8)
	c.subscribeCategories([]string{model.CategoryMention})
	c.subscribeCategories(nil)

	payload := marshalFrame(notificationFrame{
		Type:         "notification",
		Notification: &model.Notification{Category: model.CategoryTaskAssigned},
	})
	require.True(t, c.Enqueue(payload))
	assert.Len(t, c.send, 1)
}

func TestFilterIgnoresNonNotificationFrames(t *testing.T) {
	c, _, _ := newTestClient(t, 8)
	c.subscribeCategories([]string{model.CategoryMention})

	require.True(t, c.Enqueue(marshalFrame(pongFrame{Type: "pong"})))
	assert.Len(t, c.send, 1, "only notification frames pass the category filter")
}

func TestOwnEchoesAreDropped(t *testing.T) {
	c, _, _ := newTestClient(t, 8)
	c.dropSelfTypes = map[string]bool{"typing_indicator": true}

	own := marshalFrame(typingIndicatorFrame{
		Type: "typing_indicator", UserID: c.user.ID, Username: "alice", IsTyping: true,
	})
	other := marshalFrame(typingIndicatorFrame{
		Type: "typing_indicator", UserID: uuid.New(), Username: "bob", IsTyping: true,
	})

	require.True(t, c.Enqueue(own))
	require.True(t, c.Enqueue(other))

	frame := nextFrame(t, c)
	assert.Equal(t, "bob", frame["username"])
	assert.Empty(t, c.send)
}

func TestRejectClosesWithCode(t *testing.T) {
	c, conn, _ := newTestClient(t, 8)
	c.BeginAuth()

	c.Reject(CloseUnauthenticated, "expired")

	assert.Equal(t, StateRejected, c.State())
	assert.True(t, conn.closed)
	assert.Equal(t, CloseUnauthenticated, conn.sentCloseCode())
}

func TestCloseRemovesFromHubAndIsIdempotent(t *testing.T) {
	conn := &fakeConn{}
	pool := newWorkerPool(1, 4)
	defer pool.Shutdown()
	h := hub.New(nil)
	c := newClient(conn, h, pool, Identity{ID: uuid.New()}, 30*time.Second, 8)

	h.Join(hub.NotifyGroup(c.user.ID.String()), c)
	require.Len(t, h.Groups(c), 1)

	c.Close()
	c.Close()

	assert.Equal(t, StateClosed, c.State())
	assert.Empty(t, h.Groups(c))
	assert.True(t, conn.closed)
}

func TestOnCloseRunsOnce(t *testing.T) {
	conn := &fakeConn{}
	pool := newWorkerPool(1, 4)
	defer pool.Shutdown()
	h := hub.New(nil)
	c := newClient(conn, h, pool, Identity{ID: uuid.New()}, 30*time.Second, 8)

	teardowns := make(chan struct{}, 2)
	c.onClose = func(*Client) { teardowns <- struct{}{} }

	c.Close()
	c.ForceClose()

	select {
	case <-teardowns:
	case <-time.After(2 * time.Second):
		t.Fatal("teardown never ran")
	}
	select {
	case <-teardowns:
		t.Fatal("teardown ran twice")
	case <-time.After(50 * time.Millisecond):
	}
}
