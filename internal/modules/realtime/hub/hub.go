// Package hub maps logical group ids ("notify:<user-id>",
// "room:<project-id>") to the connections subscribed to them in this
// process, and bridges publishes to sibling gateway processes over
// redis pub/sub. Ordering is per subscriber only; nothing is ordered
// across groups or connections.
package hub

import (
	"context"
	"log"
	"sync"
)

// Group id prefixes.
const (
	NotifyPrefix = "notify:"
	RoomPrefix   = "room:"
)

func NotifyGroup(userID string) string  { return NotifyPrefix + userID }
func RoomGroup(projectID string) string { return RoomPrefix + projectID }

// Subscriber is one connection's inbox. Enqueue must never block: it
// reports false when the bounded queue is full, and the hub responds by
// removing the subscriber from every group and force-closing it, so a
// stalled consumer can never delay delivery to its siblings.
type Subscriber interface {
	ID() string
	Enqueue(payload []byte) bool
	ForceClose()
}

type group struct {
	mu      sync.Mutex
	members map[string]Subscriber
}

type Hub struct {
	mu     sync.RWMutex
	groups map[string]*group
	// joined tracks subscriber id -> group ids, so removal on close or
	// overflow leaves every group atomically.
	joined map[string]map[string]bool

	bridge *Bridge
}

func New(bridge *Bridge) *Hub {
	h := &Hub{
		groups: make(map[string]*group),
		joined: make(map[string]map[string]bool),
		bridge: bridge,
	}
	if bridge != nil {
		bridge.deliver = h.deliverLocal
	}
	return h
}

func (h *Hub) Join(groupID string, sub Subscriber) {
	h.mu.Lock()
	g, ok := h.groups[groupID]
	if !ok {
		g = &group{members: make(map[string]Subscriber)}
		h.groups[groupID] = g
	}
	if h.joined[sub.ID()] == nil {
		h.joined[sub.ID()] = make(map[string]bool)
	}
	h.joined[sub.ID()][groupID] = true
	h.mu.Unlock()

	g.mu.Lock()
	_, already := g.members[sub.ID()]
	g.members[sub.ID()] = sub
	g.mu.Unlock()

	// The bridge refcounts memberships per group: the shared medium is
	// subscribed exactly while this process has local members, even when
	// a leave of the last member races a join of the next.
	if !already && h.bridge != nil {
		h.bridge.Subscribe(groupID)
	}
}

func (h *Hub) Leave(groupID string, sub Subscriber) {
	h.mu.Lock()
	g := h.groups[groupID]
	if set := h.joined[sub.ID()]; set != nil {
		delete(set, groupID)
		if len(set) == 0 {
			delete(h.joined, sub.ID())
		}
	}
	h.mu.Unlock()

	if g == nil {
		return
	}
	g.mu.Lock()
	_, present := g.members[sub.ID()]
	delete(g.members, sub.ID())
	g.mu.Unlock()

	if present && h.bridge != nil {
		h.bridge.Unsubscribe(groupID)
	}
}

// Remove leaves every group the subscriber joined. It is idempotent and
// returns only after the subscriber can no longer be referenced by any
// publish.
func (h *Hub) Remove(sub Subscriber) {
	h.mu.Lock()
	groupIDs := make([]string, 0, len(h.joined[sub.ID()]))
	for id := range h.joined[sub.ID()] {
		groupIDs = append(groupIDs, id)
	}
	h.mu.Unlock()

	for _, id := range groupIDs {
		h.Leave(id, sub)
	}
}

// Groups returns the group ids the subscriber is currently joined to.
func (h *Hub) Groups(sub Subscriber) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.joined[sub.ID()]))
	for id := range h.joined[sub.ID()] {
		ids = append(ids, id)
	}
	return ids
}

// Publish delivers payload to every local member of the group and, when
// bridged, to every other gateway process subscribed to it.
func (h *Hub) Publish(ctx context.Context, groupID string, payload []byte) {
	h.deliverLocal(groupID, payload)
	if h.bridge != nil {
		h.bridge.Publish(ctx, groupID, payload)
	}
}

func (h *Hub) deliverLocal(groupID string, payload []byte) {
	h.mu.RLock()
	g := h.groups[groupID]
	h.mu.RUnlock()
	if g == nil {
		return
	}

	// Enqueue under the group lock so a completed Leave can never be
	// followed by another enqueue. Overflowed subscribers are closed
	// after the lock is released: closing leaves other groups and must
	// not nest group locks.
	var overflowed []Subscriber
	g.mu.Lock()
	for _, sub := range g.members {
		if !sub.Enqueue(payload) {
			overflowed = append(overflowed, sub)
		}
	}
	g.mu.Unlock()

	for _, sub := range overflowed {
		log.Printf("[hub] subscriber %s outbound queue full, force closing", sub.ID())
		h.Remove(sub)
		sub.ForceClose()
	}
}
