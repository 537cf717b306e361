// Package cache provides the redis-backed key/value store used for response
// caching and rate-limit counters, degrading gracefully when redis is
// unreachable or disabled.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Jamolkhon5/chatbot/internal/logging"
)

// Store is the minimal counter/value surface the response cache and the rate
// limiter build on. Production uses RedisStore; tests substitute fakes.
type Store interface {
	// Get returns the value for key, or ok=false on miss, store error or
	// disconnected store.
	Get(ctx context.Context, key string) (value string, ok bool)
	// SetEx stores value under key with the given TTL.
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	// Incr atomically increments the integer stored at key.
	Incr(ctx context.Context, key string) (int64, error)
	// Connected reports whether the store is reachable.
	Connected() bool
}

// RedisOptions configures the redis connection.
type RedisOptions struct {
	Enabled  bool
	Host     string
	Port     string
	DB       int
	Password string
}

// RedisStore implements Store on top of a redis client.
type RedisStore struct {
	client    *redis.Client
	enabled   bool
	connected bool
}

// NewRedisStore builds the store. When disabled, all operations are no-ops
// and the chat path runs without caching or rate limiting.
func NewRedisStore(opts RedisOptions) *RedisStore {
	s := &RedisStore{enabled: opts.Enabled}
	if !opts.Enabled {
		return s
	}
	s.client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", opts.Host, opts.Port),
		Password: opts.Password,
		DB:       opts.DB,
	})
	return s
}

// Connect verifies connectivity. A failure leaves the store disconnected
// rather than aborting startup; the service runs in degraded mode.
func (s *RedisStore) Connect(ctx context.Context) error {
	if !s.enabled {
		logging.Infof("redis disabled in configuration")
		return nil
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		logging.Warnf("redis connection failed, caching and rate limiting disabled: %v", err)
		s.connected = false
		return err
	}
	s.connected = true
	logging.Infof("connected to redis")
	return nil
}

// Close releases the redis connection.
func (s *RedisStore) Close() error {
	s.connected = false
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Connected reports whether the store is usable.
func (s *RedisStore) Connected() bool {
	return s.enabled && s.connected
}

// Healthy pings redis.
func (s *RedisStore) Healthy(ctx context.Context) bool {
	if !s.Connected() {
		return false
	}
	return s.client.Ping(ctx).Err() == nil
}

// Enabled reports whether redis is enabled in configuration.
func (s *RedisStore) Enabled() bool {
	return s.enabled
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool) {
	if !s.Connected() {
		return "", false
	}
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		logging.Warnf("redis get %s: %v", key, err)
		return "", false
	}
	return val, true
}

func (s *RedisStore) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	if !s.Connected() {
		return nil
	}
	if err := s.client.SetEx(ctx, key, value, ttl).Err(); err != nil {
		logging.Warnf("redis setex %s: %v", key, err)
		return err
	}
	return nil
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	if !s.Connected() {
		return 0, fmt.Errorf("redis not connected")
	}
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		logging.Warnf("redis incr %s: %v", key, err)
		return 0, err
	}
	return n, nil
}
