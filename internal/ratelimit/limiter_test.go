package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCounter is an in-memory counter store with TTL support.
type fakeCounter struct {
	mu        sync.Mutex
	values    map[string]string
	expiresAt map[string]time.Time
	connected bool
	failIncr  bool
}

func newFakeCounter() *fakeCounter {
	return &fakeCounter{
		values:    make(map[string]string),
		expiresAt: make(map[string]time.Time),
		connected: true,
	}
}

func (s *fakeCounter) Get(_ context.Context, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return "", false
	}
	val, ok := s.values[key]
	if !ok {
		return "", false
	}
	if exp, hasTTL := s.expiresAt[key]; hasTTL && time.Now().After(exp) {
		delete(s.values, key)
		delete(s.expiresAt, key)
		return "", false
	}
	return val, true
}

func (s *fakeCounter) SetEx(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.expiresAt[key] = time.Now().Add(ttl)
	return nil
}

func (s *fakeCounter) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failIncr {
		return 0, assert.AnError
	}
	n, _ := strconv.ParseInt(s.values[key], 10, 64)
	n++
	s.values[key] = strconv.FormatInt(n, 10)
	return n, nil
}

func (s *fakeCounter) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func TestLimiter_AllowsUpToMaxThenDenies(t *testing.T) {
	ctx := context.Background()
	store := newFakeCounter()
	limiter := NewFixedWindowLimiter(store, true, 3, time.Minute)

	for i := 1; i <= 3; i++ {
		allowed, count := limiter.Check(ctx, "user-1")
		require.True(t, allowed, "request %d should be allowed", i)
		assert.Equal(t, i, count)
	}

	allowed, count := limiter.Check(ctx, "user-1")
	assert.False(t, allowed)
	assert.Equal(t, 3, count)
}

func TestLimiter_DeniedCallsDoNotIncrement(t *testing.T) {
	ctx := context.Background()
	store := newFakeCounter()
	limiter := NewFixedWindowLimiter(store, true, 2, time.Minute)

	limiter.Check(ctx, "user-1")
	limiter.Check(ctx, "user-1")

	// Repeated denials keep reporting the same count.
	for i := 0; i < 5; i++ {
		allowed, count := limiter.Check(ctx, "user-1")
		assert.False(t, allowed)
		assert.Equal(t, 2, count)
	}
}

func TestLimiter_WindowExpiryResetsCount(t *testing.T) {
	ctx := context.Background()
	store := newFakeCounter()
	limiter := NewFixedWindowLimiter(store, true, 1, 20*time.Millisecond)

	allowed, _ := limiter.Check(ctx, "user-1")
	require.True(t, allowed)
	allowed, _ = limiter.Check(ctx, "user-1")
	require.False(t, allowed)

	time.Sleep(30 * time.Millisecond)

	allowed, count := limiter.Check(ctx, "user-1")
	assert.True(t, allowed)
	assert.Equal(t, 1, count)
}

func TestLimiter_IdentifiersAreIndependent(t *testing.T) {
	ctx := context.Background()
	limiter := NewFixedWindowLimiter(newFakeCounter(), true, 1, time.Minute)

	allowed, _ := limiter.Check(ctx, "user-1")
	require.True(t, allowed)
	allowed, _ = limiter.Check(ctx, "user-1")
	require.False(t, allowed)

	allowed, count := limiter.Check(ctx, "user-2")
	assert.True(t, allowed)
	assert.Equal(t, 1, count)
}

func TestLimiter_FailsOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("Disabled", func(t *testing.T) {
		limiter := NewFixedWindowLimiter(newFakeCounter(), false, 1, time.Minute)
		for i := 0; i < 5; i++ {
			allowed, count := limiter.Check(ctx, "user-1")
			assert.True(t, allowed)
			assert.Equal(t, 0, count)
		}
	})

	t.Run("StoreDown", func(t *testing.T) {
		store := newFakeCounter()
		store.connected = false
		limiter := NewFixedWindowLimiter(store, true, 1, time.Minute)
		allowed, count := limiter.Check(ctx, "user-1")
		assert.True(t, allowed)
		assert.Equal(t, 0, count)
	})

	t.Run("IncrementError", func(t *testing.T) {
		store := newFakeCounter()
		limiter := NewFixedWindowLimiter(store, true, 5, time.Minute)
		limiter.Check(ctx, "user-1")

		store.failIncr = true
		allowed, count := limiter.Check(ctx, "user-1")
		assert.True(t, allowed)
		assert.Equal(t, 0, count)
	})
}
