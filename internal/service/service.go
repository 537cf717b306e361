// Package service contains the chat orchestration pipeline: cache probe,
// prompt assembly, completion, cache write-back and persistence.
package service

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Jamolkhon5/chatbot/internal/llm"
	"github.com/Jamolkhon5/chatbot/internal/logging"
	"github.com/Jamolkhon5/chatbot/internal/models"
)

// sessionHistoryLimit bounds how many conversations a single history read
// aggregates.
const sessionHistoryLimit = 50

// persistTimeout bounds the conversation save that runs after a stream has
// drained, detached from the request context.
const persistTimeout = 10 * time.Second

// defaultKnowledgebase is used when the knowledgebase file is unreadable.
const defaultKnowledgebase = "BIGFAT AI Labs is an enterprise AI company providing AI solutions."

// CompletionClient generates answers from the upstream LLM provider.
type CompletionClient interface {
	Complete(ctx context.Context, messages []models.Message) (*llm.Completion, error)
	StreamComplete(ctx context.Context, messages []models.Message) (<-chan string, <-chan error)
	Model() string
}

// ConversationRepository persists and retrieves conversations.
type ConversationRepository interface {
	SaveConversation(ctx context.Context, conv *models.Conversation) error
	GetSessionHistory(ctx context.Context, sessionID string, limit int) ([]models.Conversation, error)
	DeleteSessionHistory(ctx context.Context, sessionID string) (int64, error)
}

// Cache is the response cache surface the orchestrator needs.
type Cache interface {
	Enabled() bool
	Fingerprint(message string, history []models.Message) string
	Lookup(ctx context.Context, key string) (*models.CacheEntry, bool)
	Store(ctx context.Context, key string, entry models.CacheEntry)
}

// Options configures the chat service.
type Options struct {
	MaxConversationHistory int
	KnowledgebasePath      string
}

// ChatService orchestrates a chat request across the cache, the completion
// client and the conversation store.
type ChatService struct {
	client     CompletionClient
	repo       ConversationRepository
	cache      Cache
	maxHistory int

	// Loaded once at construction and shared read-only by all requests.
	systemPrompt string
}

// NewChatService builds the orchestrator. The knowledgebase is read once
// here and reused for every request.
func NewChatService(client CompletionClient, repo ConversationRepository, cache Cache, opts Options) *ChatService {
	kb := loadKnowledgebase(opts.KnowledgebasePath)
	return &ChatService{
		client:       client,
		repo:         repo,
		cache:        cache,
		maxHistory:   opts.MaxConversationHistory,
		systemPrompt: buildSystemPrompt(kb),
	}
}

func loadKnowledgebase(path string) string {
	raw, err := os.ReadFile(path)
	if err != nil {
		logging.Errorf("loading knowledgebase from %s: %v", path, err)
		return defaultKnowledgebase
	}
	logging.Infof("knowledgebase loaded from %s", path)
	return string(raw)
}

func buildSystemPrompt(knowledgebase string) string {
	return fmt.Sprintf(`You are a helpful AI assistant for BIGFAT AI Labs, an enterprise AI company specializing in Generative AI solutions, custom development, and AI partnerships.

Your role is to provide comprehensive, accurate, and helpful responses about:
- AI services and technical capabilities
- Products and platforms
- Technology stack and implementation details
- Enterprise AI solutions and integration
- Development processes and methodologies
- Features and scope of solutions

Guidelines for responses:
1. For pricing questions: Politely decline and focus on features, scope, and capabilities instead
2. For technical questions: Provide detailed, specific answers using technical knowledge in your context
3. For service inquiries: Explain capabilities clearly and suggest next steps
4. For implementation questions: Explain our approach and technical capabilities
5. If information is not in context: Politely say you don't know and offer to connect to human experts
6. Use clear, professional language with appropriate technical depth
7. Keep ALL responses under 100 words maximum
8. For complex technical questions, provide structured answers with bullet points
9. Always include relevant contact information when appropriate
10. Suggest appointment booking for detailed consultations: https://cal.com/bigfat-ai-tasbkl

IMPORTANT: Never discuss pricing, costs, or financial information. Focus only on features, scope, and technical capabilities.

Context about BIGFAT AI Labs:
%s

Remember: You are representing a professional AI company. Be helpful, accurate, maintain a professional tone, and keep responses concise (under 30 words).`, knowledgebase)
}

// recentHistory returns at most the last maxHistory messages.
func (s *ChatService) recentHistory(history []models.Message) []models.Message {
	if len(history) > s.maxHistory {
		return history[len(history)-s.maxHistory:]
	}
	return history
}

// buildPrompt assembles system prompt, truncated history and the new user
// message in that order.
func (s *ChatService) buildPrompt(message string, recent []models.Message) []models.Message {
	messages := make([]models.Message, 0, len(recent)+2)
	messages = append(messages, models.Message{Role: models.RoleSystem, Content: s.systemPrompt})
	messages = append(messages, recent...)
	messages = append(messages, models.Message{Role: models.RoleUser, Content: message})
	return messages
}

// Chat processes a chat request: cache probe, prompt assembly, completion,
// best-effort cache write-back and persistence. Admission control runs in
// the handler before this is called.
func (s *ChatService) Chat(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error) {
	conversationID := uuid.NewString()
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	// The fingerprint is computed exactly once per request; the same key
	// spans lookup and write-back.
	var cacheKey string
	if s.cache.Enabled() {
		cacheKey = s.cache.Fingerprint(req.Message, req.History)
		if entry, ok := s.cache.Lookup(ctx, cacheKey); ok {
			logging.Infof("cache hit for message: %.50s", req.Message)
			return &models.ChatResponse{
				Response:       entry.Response,
				ConversationID: conversationID,
				SessionID:      sessionID,
				Cached:         true,
				TokensUsed:     entry.TokensUsed,
				Model:          entry.Model,
				Timestamp:      time.Now().UTC(),
			}, nil
		}
	}

	recent := s.recentHistory(req.History)
	prompt := s.buildPrompt(req.Message, recent)

	logging.Infof("calling LLM for user message: %.50s", req.Message)
	completion, err := s.client.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	if cacheKey != "" {
		s.cache.Store(ctx, cacheKey, models.CacheEntry{
			Response:   completion.Text,
			TokensUsed: completion.TokensUsed,
			Model:      completion.Model,
		})
	}

	s.persist(ctx, conversationID, sessionID, req, recent, completion.Text, map[string]interface{}{
		"model":       completion.Model,
		"tokens_used": tokensValue(completion.TokensUsed),
		"cached":      false,
	})

	return &models.ChatResponse{
		Response:       completion.Text,
		ConversationID: conversationID,
		SessionID:      sessionID,
		Cached:         false,
		TokensUsed:     completion.TokensUsed,
		Model:          completion.Model,
		Timestamp:      time.Now().UTC(),
	}, nil
}

func tokensValue(tokens *int) interface{} {
	if tokens == nil {
		return nil
	}
	return *tokens
}

// persist stores the conversation: truncated history window, the new user
// message and the assistant answer. A save failure loses history but never
// fails the chat response.
func (s *ChatService) persist(ctx context.Context, conversationID, sessionID string, req *models.ChatRequest, recent []models.Message, answer string, metadata map[string]interface{}) {
	now := time.Now().UTC()
	messages := make([]models.Message, 0, len(recent)+2)
	messages = append(messages, recent...)
	messages = append(messages,
		models.Message{Role: models.RoleUser, Content: req.Message, Timestamp: now},
		models.Message{Role: models.RoleAssistant, Content: answer, Timestamp: now},
	)

	conv := &models.Conversation{
		ConversationID: conversationID,
		SessionID:      sessionID,
		UserID:         req.UserID,
		Messages:       messages,
		Metadata:       metadata,
	}
	if err := s.repo.SaveConversation(ctx, conv); err != nil {
		logging.Errorf("saving conversation %s: %v", conversationID, err)
	}
}

// StreamChat streams the completion for a chat request. Fragments are
// forwarded to the caller as they arrive and accumulated into the assistant
// message that is persisted once the stream drains. A stream that errors
// mid-flight still persists whatever text was accumulated; the error is
// delivered after the last content fragment.
func (s *ChatService) StreamChat(ctx context.Context, req *models.ChatRequest) (<-chan string, <-chan error) {
	out := make(chan string)
	errOut := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errOut)

		recent := s.recentHistory(req.History)
		prompt := s.buildPrompt(req.Message, recent)

		logging.Infof("starting streaming chat for message: %.50s", req.Message)
		contentCh, errCh := s.client.StreamComplete(ctx, prompt)

		var full strings.Builder
		for chunk := range contentCh {
			full.WriteString(chunk)
			select {
			case out <- chunk:
			case <-ctx.Done():
				// Client gone; keep draining so the partial answer is
				// still persisted below.
			}
		}
		streamErr := <-errCh

		if full.Len() > 0 || streamErr == nil {
			conversationID := uuid.NewString()
			sessionID := req.SessionID
			if sessionID == "" {
				sessionID = uuid.NewString()
			}

			// Detached from the request context: a disconnect must not
			// lose the generated text.
			saveCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			defer cancel()
			s.persist(saveCtx, conversationID, sessionID, req, recent, full.String(), map[string]interface{}{
				"model":     s.client.Model(),
				"streaming": true,
			})
		}

		if streamErr != nil {
			logging.Errorf("streaming chat: %v", streamErr)
			errOut <- streamErr
		}
	}()

	return out, errOut
}

// GetSessionHistory returns every message across a session's conversations,
// oldest first. Store failures degrade to an empty history.
func (s *ChatService) GetSessionHistory(ctx context.Context, sessionID string) []models.Message {
	conversations, err := s.repo.GetSessionHistory(ctx, sessionID, sessionHistoryLimit)
	if err != nil {
		logging.Errorf("getting session history %s: %v", sessionID, err)
		return nil
	}

	var all []models.Message
	for _, conv := range conversations {
		all = append(all, conv.Messages...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})
	return all
}

// ClearSessionHistory deletes all conversations for a session and returns
// the number deleted.
func (s *ChatService) ClearSessionHistory(ctx context.Context, sessionID string) int64 {
	deleted, err := s.repo.DeleteSessionHistory(ctx, sessionID)
	if err != nil {
		logging.Errorf("clearing session history %s: %v", sessionID, err)
		return 0
	}
	logging.Infof("cleared %d conversations for session %s", deleted, sessionID)
	return deleted
}
