package cache

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jamolkhon5/chatbot/internal/models"
)

// fakeStore is an in-memory Store with TTL support for tests.
type fakeStore struct {
	mu        sync.Mutex
	values    map[string]string
	expiresAt map[string]time.Time
	connected bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		values:    make(map[string]string),
		expiresAt: make(map[string]time.Time),
		connected: true,
	}
}

func (s *fakeStore) Get(_ context.Context, key string) (string, bool) {
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

func (s *fakeStore) SetEx(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	s.values[key] = value
	s.expiresAt[key] = time.Now().Add(ttl)
	return nil
}

func (s *fakeStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, _ := strconv.ParseInt(s.values[key], 10, 64)
	n++
	s.values[key] = strconv.FormatInt(n, 10)
	return n, nil
}

func (s *fakeStore) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func msg(role, content string) models.Message {
	return models.Message{Role: role, Content: content, Timestamp: time.Now().UTC()}
}

func TestFingerprint_Deterministic(t *testing.T) {
	c := NewResponseCache(newFakeStore(), true, time.Hour, "1.0")

	history := []models.Message{
		msg(models.RoleUser, "Hello"),
		msg(models.RoleAssistant, "Hi! How can I help?"),
	}

	key1 := c.Fingerprint("What services do you offer?", history)
	key2 := c.Fingerprint("What services do you offer?", history)
	assert.Equal(t, key1, key2)

	// Timestamps do not participate in the key.
	later := []models.Message{
		{Role: models.RoleUser, Content: "Hello", Timestamp: time.Now().Add(time.Hour)},
		{Role: models.RoleAssistant, Content: "Hi! How can I help?", Timestamp: time.Now().Add(time.Hour)},
	}
	assert.Equal(t, key1, c.Fingerprint("What services do you offer?", later))
}

func TestFingerprint_NormalizesMessage(t *testing.T) {
	c := NewResponseCache(newFakeStore(), true, time.Hour, "1.0")

	key1 := c.Fingerprint("What services do you offer?", nil)
	key2 := c.Fingerprint("  WHAT Services DO you offer?  ", nil)
	assert.Equal(t, key1, key2)

	assert.NotEqual(t, key1, c.Fingerprint("What products do you offer?", nil))
}

func TestFingerprint_UsesLastThreeHistoryMessages(t *testing.T) {
	c := NewResponseCache(newFakeStore(), true, time.Hour, "1.0")

	tail := []models.Message{
		msg(models.RoleUser, "b"),
		msg(models.RoleAssistant, "c"),
		msg(models.RoleUser, "d"),
	}
	longer := append([]models.Message{msg(models.RoleUser, "a")}, tail...)

	// Only the last three entries participate; an older prefix is ignored.
	assert.Equal(t, c.Fingerprint("question", tail), c.Fingerprint("question", longer))

	// A change inside the tail changes the key.
	changed := append([]models.Message{}, tail...)
	changed[2] = msg(models.RoleUser, "different")
	assert.NotEqual(t, c.Fingerprint("question", tail), c.Fingerprint("question", changed))
}

func TestFingerprint_KnowledgebaseVersion(t *testing.T) {
	store := newFakeStore()
	v1 := NewResponseCache(store, true, time.Hour, "1.0")
	v2 := NewResponseCache(store, true, time.Hour, "2.0")

	assert.NotEqual(t, v1.Fingerprint("question", nil), v2.Fingerprint("question", nil))
}

func TestResponseCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewResponseCache(newFakeStore(), true, time.Hour, "1.0")

	tokens := 150
	entry := models.CacheEntry{
		Response:   "We offer AI consulting.",
		TokensUsed: &tokens,
		Model:      "anthropic/claude-3-haiku",
	}

	key := c.Fingerprint("What services do you offer?", nil)

	_, ok := c.Lookup(ctx, key)
	require.False(t, ok)

	c.Store(ctx, key, entry)

	got, ok := c.Lookup(ctx, key)
	require.True(t, ok)
	assert.Equal(t, entry, *got)
}

func TestResponseCache_ExpiredEntryMisses(t *testing.T) {
	ctx := context.Background()
	c := NewResponseCache(newFakeStore(), true, 10*time.Millisecond, "1.0")

	key := c.Fingerprint("question", nil)
	c.Store(ctx, key, models.CacheEntry{Response: "answer"})

	time.Sleep(20 * time.Millisecond)

	_, ok := c.Lookup(ctx, key)
	assert.False(t, ok)
}

func TestResponseCache_MalformedPayloadMisses(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	c := NewResponseCache(store, true, time.Hour, "1.0")

	key := c.Fingerprint("question", nil)
	require.NoError(t, store.SetEx(ctx, key, "{not json", time.Hour))

	_, ok := c.Lookup(ctx, key)
	assert.False(t, ok)
}

func TestResponseCache_DisabledOrDisconnected(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()

	disabled := NewResponseCache(store, false, time.Hour, "1.0")
	assert.False(t, disabled.Enabled())
	_, ok := disabled.Lookup(ctx, "any")
	assert.False(t, ok)

	store.connected = false
	enabled := NewResponseCache(store, true, time.Hour, "1.0")
	assert.False(t, enabled.Enabled())
}
