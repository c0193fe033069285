package presence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type timedEntry struct {
	entry     Entry
	expiresAt time.Time
}

type timedFocus struct {
	focus     Focus
	expiresAt time.Time
}

// MemoryStore is the single-process Store. Expired entries read as
// absent; they are pruned lazily on access so repeated reads after
// expiry stay consistent.
type MemoryStore struct {
	mu     sync.Mutex
	online map[string]map[uuid.UUID]timedEntry
	focus  map[string]map[uuid.UUID]timedFocus
	ttl    time.Duration
	now    func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		online: make(map[string]map[uuid.UUID]timedEntry),
		focus:  make(map[string]map[uuid.UUID]timedFocus),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (s *MemoryStore) AddOnline(_ context.Context, roomID string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.online[roomID]
	if !ok {
		room = make(map[uuid.UUID]timedEntry)
		s.online[roomID] = room
	}
	room[entry.UserID] = timedEntry{entry: entry, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) RefreshOnline(_ context.Context, roomID string, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.online[roomID]
	if !ok {
		return nil
	}
	te, ok := room[userID]
	if !ok || s.now().After(te.expiresAt) {
		delete(room, userID)
		return nil
	}
	te.expiresAt = s.now().Add(s.ttl)
	room[userID] = te
	return nil
}

func (s *MemoryStore) RemoveOnline(_ context.Context, roomID string, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.online[roomID]; ok {
		delete(room, userID)
	}
	return nil
}

func (s *MemoryStore) ListOnline(_ context.Context, roomID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room := s.online[roomID]
	now := s.now()
	entries := make([]Entry, 0, len(room))
	for id, te := range room {
		if now.After(te.expiresAt) {
			delete(room, id)
			continue
		}
		entries = append(entries, te.entry)
	}
	return entries, nil
}

func (s *MemoryStore) SetFocus(_ context.Context, roomID string, focus Focus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.focus[roomID]
	if !ok {
		room = make(map[uuid.UUID]timedFocus)
		s.focus[roomID] = room
	}
	room[focus.UserID] = timedFocus{focus: focus, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) ClearFocus(_ context.Context, roomID string, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.focus[roomID]; ok {
		delete(room, userID)
	}
	return nil
}

func (s *MemoryStore) ListFocus(_ context.Context, roomID string) ([]Focus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room := s.focus[roomID]
	now := s.now()
	focuses := make([]Focus, 0, len(room))
	for id, tf := range room {
		if now.After(tf.expiresAt) {
			delete(room, id)
			continue
		}
		focuses = append(focuses, tf.focus)
	}
	return focuses, nil
}
