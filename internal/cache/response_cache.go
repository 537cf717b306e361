package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/Jamolkhon5/chatbot/internal/logging"
	"github.com/Jamolkhon5/chatbot/internal/models"
)

const keyPrefix = "chat_response:"

// fingerprintHistory is how many trailing history messages participate in
// the cache key. Kept small so near-identical requests still hit.
const fingerprintHistory = 3

// ResponseCache maps a deterministic fingerprint of a chat request to a
// previously generated answer. It is an optimization only: misses, malformed
// payloads and store failures all fall through to a live completion.
type ResponseCache struct {
	store     Store
	enabled   bool
	ttl       time.Duration
	kbVersion string
}

// NewResponseCache builds a response cache over the given store.
func NewResponseCache(store Store, enabled bool, ttl time.Duration, kbVersion string) *ResponseCache {
	return &ResponseCache{store: store, enabled: enabled, ttl: ttl, kbVersion: kbVersion}
}

// Enabled reports whether lookups should be attempted at all.
func (c *ResponseCache) Enabled() bool {
	return c.enabled && c.store.Connected()
}

type fingerprintMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type fingerprintPayload struct {
	Message   string               `json:"message"`
	History   []fingerprintMessage `json:"history"`
	KbVersion string               `json:"kb_version"`
}

// Fingerprint derives the cache key for a message and its history. The key
// is stable across processes: the message is normalized, only the last few
// history entries participate (role and content, no timestamps), and the
// payload marshals with a fixed field order before hashing.
func (c *ResponseCache) Fingerprint(message string, history []models.Message) string {
	recent := history
	if len(recent) > fingerprintHistory {
		recent = recent[len(recent)-fingerprintHistory:]
	}

	payload := fingerprintPayload{
		Message:   strings.ToLower(strings.TrimSpace(message)),
		History:   make([]fingerprintMessage, 0, len(recent)),
		KbVersion: c.kbVersion,
	}
	for _, msg := range recent {
		payload.History = append(payload.History, fingerprintMessage{Role: msg.Role, Content: msg.Content})
	}

	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Lookup returns the cached entry for key, or ok=false on miss, malformed
// payload or store failure.
func (c *ResponseCache) Lookup(ctx context.Context, key string) (*models.CacheEntry, bool) {
	if !c.Enabled() {
		return nil, false
	}
	raw, ok := c.store.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var entry models.CacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		logging.Warnf("invalid cached payload for %s, fetching fresh response", key)
		return nil, false
	}
	return &entry, true
}

// Store writes entry under key, best effort. Write failures are logged and
// swallowed.
func (c *ResponseCache) Store(ctx context.Context, key string, entry models.CacheEntry) {
	if !c.Enabled() {
		return
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		logging.Warnf("marshal cache entry for %s: %v", key, err)
		return
	}
	if err := c.store.SetEx(ctx, key, string(raw), c.ttl); err != nil {
		logging.Warnf("store cache entry for %s: %v", key, err)
	}
}
