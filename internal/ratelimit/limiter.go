// Package ratelimit implements fixed-window request counting backed by the
// shared redis store.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/Jamolkhon5/chatbot/internal/cache"
	"github.com/Jamolkhon5/chatbot/internal/logging"
)

const keyPrefix = "rate_limit:"

// FixedWindowLimiter counts requests per identifier inside a fixed window.
// The counter lives in redis and expires with the window; the limiter fails
// open when disabled or when the store is unreachable, so the chat path
// never depends on the quota store being up.
type FixedWindowLimiter struct {
	store       cache.Store
	enabled     bool
	maxRequests int
	window      time.Duration
}

// NewFixedWindowLimiter builds a limiter over the given store.
func NewFixedWindowLimiter(store cache.Store, enabled bool, maxRequests int, window time.Duration) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		store:       store,
		enabled:     enabled,
		maxRequests: maxRequests,
		window:      window,
	}
}

// MaxRequests returns the configured per-window limit.
func (l *FixedWindowLimiter) MaxRequests() int { return l.maxRequests }

// Window returns the configured window duration.
func (l *FixedWindowLimiter) Window() time.Duration { return l.window }

// Check reports whether identifier may make another request and the current
// count inside the window. A denied request does not increment the counter,
// so repeated blocked calls do not extend the penalty.
//
// The read-then-create on first request races under concurrent bursts from
// one identifier; the limit may be off by a small constant for one window,
// which is accepted.
func (l *FixedWindowLimiter) Check(ctx context.Context, identifier string) (allowed bool, count int) {
	if !l.enabled || !l.store.Connected() {
		return true, 0
	}

	key := keyPrefix + identifier

	current, ok := l.store.Get(ctx, key)
	if !ok {
		if err := l.store.SetEx(ctx, key, "1", l.window); err != nil {
			return true, 0
		}
		return true, 1
	}

	n, err := strconv.Atoi(current)
	if err != nil {
		logging.Warnf("unparsable rate counter for %s: %q", identifier, current)
		return true, 0
	}

	if n >= l.maxRequests {
		return false, n
	}

	next, err := l.store.Incr(ctx, key)
	if err != nil {
		return true, 0
	}
	return true, int(next)
}
