package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(window time.Duration, max int) (*memoryLimiter, *time.Time) {
	l := NewMemoryLimiter(window, max).(*memoryLimiter)
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return current }
	return l, &current
}

func TestAllowWithinCeiling(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(time.Minute, 10)

	for i := 0; i < 10; i++ {
		ok, err := l.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok, "attempt %d should be allowed", i+1)
	}
}

func TestDeniesOverCeiling(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(time.Minute, 10)

	for i := 0; i < 10; i++ {
		_, err := l.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
	}

	ok, err := l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok, "11th attempt in the window must be denied")
}

func TestWindowResets(t *testing.T) {
	ctx := context.Background()
	l, clock := newTestLimiter(time.Minute, 2)

	for i := 0; i < 3; i++ {
		l.Allow(ctx, "10.0.0.1")
	}
	ok, _ := l.Allow(ctx, "10.0.0.1")
	require.False(t, ok)

	*clock = clock.Add(time.Minute + time.Second)

	ok, err := l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok, "fresh window starts a new count")
}

func TestAddressesCountedIndependently(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(time.Minute, 1)

	ok, err := l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, ok, "a different address has its own window")

	ok, _ = l.Allow(ctx, "10.0.0.1")
	assert.False(t, ok)
}
