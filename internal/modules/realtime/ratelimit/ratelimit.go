// Package ratelimit guards the websocket handshake with a fixed-window
// counter per source address. The check runs before any token work so
// expensive auth retries cannot bypass it.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Limiter interface {
	// Allow counts an attempt from addr and reports whether it is
	// within the window's ceiling.
	Allow(ctx context.Context, addr string) (bool, error)
}

type redisLimiter struct {
	rdb    *redis.Client
	window time.Duration
	max    int
}

func NewRedisLimiter(rdb *redis.Client, window time.Duration, max int) Limiter {
	return &redisLimiter{rdb: rdb, window: window, max: max}
}

func (l *redisLimiter) Allow(ctx context.Context, addr string) (bool, error) {
	key := fmt.Sprintf("ws_ratelimit:%s", addr)

	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check rate limit in redis: %w", err)
	}
	if count == 1 {
		// First attempt in this window starts the clock.
		l.rdb.Expire(ctx, key, l.window)
	}

	return count <= int64(l.max), nil
}

type memoryWindow struct {
	count   int
	resetAt time.Time
}

type memoryLimiter struct {
	mu      sync.Mutex
	windows map[string]memoryWindow
	window  time.Duration
	max     int
	now     func() time.Time
}

// NewMemoryLimiter is the single-process fallback used when no redis is
// configured.
func NewMemoryLimiter(window time.Duration, max int) Limiter {
	return &memoryLimiter{
		windows: make(map[string]memoryWindow),
		window:  window,
		max:     max,
		now:     time.Now,
	}
}

func (l *memoryLimiter) Allow(_ context.Context, addr string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[addr]
	if !ok || now.After(w.resetAt) {
		w = memoryWindow{resetAt: now.Add(l.window)}
	}
	w.count++
	l.windows[addr] = w

	return w.count <= l.max, nil
}
