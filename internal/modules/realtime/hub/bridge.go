package hub

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const channelPrefix = "ws_group:"

// bridgeEnvelope is the wire format on the shared pub/sub medium. The
// origin tag is the publishing process's instance id: local delivery
// already happened at publish time, so the publisher skips its own
// messages on receipt and each local subscriber gets exactly one copy.
// Across processes the contract stays at-least-once.
type bridgeEnvelope struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

// Bridge relays group publishes between gateway processes over redis
// pub/sub. A nil *Bridge (no redis configured) leaves the hub in
// single-process mode.
type Bridge struct {
	rdb      *redis.Client
	pubsub   *redis.PubSub
	originID string
	deliver  func(groupID string, payload []byte)

	// mu guards refs, and the pubsub subscription changes run under it
	// too: the redis subscription state must transition atomically with
	// the reference count, never from a stale emptiness check.
	mu   sync.Mutex
	refs map[string]int
}

func NewBridge(rdb *redis.Client) *Bridge {
	return &Bridge{
		rdb:      rdb,
		originID: uuid.NewString(),
		refs:     make(map[string]int),
	}
}

// Start opens the subscription connection and runs the receive loop
// until ctx is cancelled. Must be called before any Join reaches the
// hub.
func (b *Bridge) Start(ctx context.Context) {
	b.pubsub = b.rdb.Subscribe(ctx)

	go func() {
		for msg := range b.pubsub.Channel() {
			var env bridgeEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("[bridge] dropping malformed message on %s: %v", msg.Channel, err)
				continue
			}
			if env.Origin == b.originID {
				continue
			}
			groupID := strings.TrimPrefix(msg.Channel, channelPrefix)
			if b.deliver != nil {
				b.deliver(groupID, env.Payload)
			}
		}
	}()

	go func() {
		<-ctx.Done()
		b.pubsub.Close()
	}()
}

// Subscribe retains one local membership for the group and opens the
// redis subscription on the first. Every hub join pairs with exactly
// one Subscribe and every leave with one Unsubscribe, so the count
// matches local membership no matter how racing joins and leaves on
// the same group interleave.
func (b *Bridge) Subscribe(groupID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refs[groupID]++
	if b.refs[groupID] > 1 || b.pubsub == nil {
		return
	}
	if err := b.pubsub.Subscribe(context.Background(), channelPrefix+groupID); err != nil {
		log.Printf("[bridge] subscribe %s failed: %v", groupID, err)
	}
}

// Unsubscribe releases one membership; the redis subscription closes
// when the last local member of the group is gone.
func (b *Bridge) Unsubscribe(groupID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refs[groupID] == 0 {
		return
	}
	b.refs[groupID]--
	if b.refs[groupID] > 0 {
		return
	}
	delete(b.refs, groupID)
	if b.pubsub == nil {
		return
	}
	if err := b.pubsub.Unsubscribe(context.Background(), channelPrefix+groupID); err != nil {
		log.Printf("[bridge] unsubscribe %s failed: %v", groupID, err)
	}
}

func (b *Bridge) Publish(ctx context.Context, groupID string, payload []byte) {
	env, err := json.Marshal(bridgeEnvelope{Origin: b.originID, Payload: payload})
	if err != nil {
		log.Printf("[bridge] marshal failed for %s: %v", groupID, err)
		return
	}
	if err := b.rdb.Publish(ctx, channelPrefix+groupID, env).Err(); err != nil {
		// Cross-process delivery is degraded, local delivery already
		// happened. Logged for operators, not surfaced to clients.
		log.Printf("[bridge] publish %s failed: %v", groupID, err)
	}
}
