package models

import (
	"fmt"
	"time"
)

// Message roles accepted throughout the service.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single chat message. Immutable once created.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage builds a message with the current timestamp. The role must be
// one of user, assistant or system.
func NewMessage(role, content string) (Message, error) {
	if !ValidRole(role) {
		return Message{}, fmt.Errorf("invalid message role: %q", role)
	}
	return Message{Role: role, Content: content, Timestamp: time.Now().UTC()}, nil
}

// ValidRole reports whether role is one of the allowed message roles.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ChatRequest is the inbound payload for chat and stream endpoints.
type ChatRequest struct {
	Message   string    `json:"message"`
	History   []Message `json:"history"`
	UserID    string    `json:"user_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
}

// ChatResponse is returned by the chat endpoint.
type ChatResponse struct {
	Response       string    `json:"response"`
	ConversationID string    `json:"conversation_id"`
	SessionID      string    `json:"session_id,omitempty"`
	Cached         bool      `json:"cached"`
	TokensUsed     *int      `json:"tokens_used,omitempty"`
	Model          string    `json:"model,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// StreamChunk is a single server-sent event frame.
type StreamChunk struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
	Error   string `json:"error,omitempty"`
}

// Conversation is the persisted record of one request/response exchange
// together with the history window that produced it.
type Conversation struct {
	ConversationID string                 `json:"conversation_id" db:"conversation_id"`
	SessionID      string                 `json:"session_id" db:"session_id"`
	UserID         string                 `json:"user_id,omitempty" db:"user_id"`
	Messages       []Message              `json:"messages"`
	CreatedAt      time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at" db:"updated_at"`
	Metadata       map[string]interface{} `json:"metadata"`
}

// ConversationHistoryResponse aggregates all messages of a session.
type ConversationHistoryResponse struct {
	SessionID    string     `json:"session_id"`
	Messages     []Message  `json:"messages"`
	MessageCount int        `json:"message_count"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

// CacheEntry is the value stored in the response cache.
type CacheEntry struct {
	Response   string `json:"response"`
	TokensUsed *int   `json:"tokens_used,omitempty"`
	Model      string `json:"model,omitempty"`
}

// HealthResponse reports composite service health.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Services  map[string]interface{} `json:"services"`
}
