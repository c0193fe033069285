package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ResultCache holds successful validation results. Misses and store
// errors both read as "not cached"; correctness never depends on a hit.
type ResultCache interface {
	Get(ctx context.Context, key string) (uuid.UUID, bool)
	Set(ctx context.Context, key string, userID uuid.UUID, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

// RevocationList is the shared set of revoked credential ids.
type RevocationList interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
}

// --- redis implementations ---

type redisResultCache struct {
	rdb *redis.Client
}

func NewRedisResultCache(rdb *redis.Client) ResultCache {
	return &redisResultCache{rdb: rdb}
}

func (c *redisResultCache) Get(ctx context.Context, key string) (uuid.UUID, bool) {
	val, err := c.rdb.Get(ctx, "ws_token:"+key).Result()
	if err != nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func (c *redisResultCache) Set(ctx context.Context, key string, userID uuid.UUID, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.rdb.Set(ctx, "ws_token:"+key, userID.String(), ttl)
}

func (c *redisResultCache) Delete(ctx context.Context, key string) {
	c.rdb.Del(ctx, "ws_token:"+key)
}

type redisRevocationList struct {
	rdb *redis.Client
}

func NewRedisRevocationList(rdb *redis.Client) RevocationList {
	return &redisRevocationList{rdb: rdb}
}

func (l *redisRevocationList) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := l.rdb.Exists(ctx, "revoked_jti:"+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (l *redisRevocationList) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	return l.rdb.Set(ctx, "revoked_jti:"+jti, "1", ttl).Err()
}

// --- in-process implementations (single-process deployments, tests) ---

type memoryEntry struct {
	userID    uuid.UUID
	expiresAt time.Time
}

type MemoryResultCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryResultCache() *MemoryResultCache {
	return &MemoryResultCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryResultCache) Get(_ context.Context, key string) (uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return uuid.Nil, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return uuid.Nil, false
	}
	return entry.userID, true
}

func (c *MemoryResultCache) Set(_ context.Context, key string, userID uuid.UUID, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{userID: userID, expiresAt: c.now().Add(ttl)}
}

func (c *MemoryResultCache) Delete(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

type MemoryRevocationList struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

func NewMemoryRevocationList() *MemoryRevocationList {
	return &MemoryRevocationList{
		revoked: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (l *MemoryRevocationList) IsRevoked(_ context.Context, jti string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	deadline, ok := l.revoked[jti]
	if !ok {
		return false, nil
	}
	if l.now().After(deadline) {
		delete(l.revoked, jti)
		return false, nil
	}
	return true, nil
}

func (l *MemoryRevocationList) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.revoked[jti] = l.now().Add(ttl)
	return nil
}
