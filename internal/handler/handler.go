package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Jamolkhon5/chatbot/internal/logging"
	"github.com/Jamolkhon5/chatbot/internal/models"
	"github.com/Jamolkhon5/chatbot/internal/validator"
)

// ChatService is the orchestration surface the handlers call into.
type ChatService interface {
	Chat(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error)
	StreamChat(ctx context.Context, req *models.ChatRequest) (<-chan string, <-chan error)
	GetSessionHistory(ctx context.Context, sessionID string) []models.Message
	ClearSessionHistory(ctx context.Context, sessionID string) int64
}

// Limiter admits or denies a request for an identifier.
type Limiter interface {
	Check(ctx context.Context, identifier string) (allowed bool, count int)
	MaxRequests() int
	Window() time.Duration
}

// Storage is the persistence surface used directly by handlers.
type Storage interface {
	Ping(ctx context.Context) error
	SaveEnquiry(ctx context.Context, enq *models.ContactEnquiry) error
}

// CacheHealth reports cache store state for the health endpoint.
type CacheHealth interface {
	Enabled() bool
	Healthy(ctx context.Context) bool
}

type Handler struct {
	svc           ChatService
	limiter       Limiter
	storage       Storage
	cacheHealth   CacheHealth
	llmConfigured bool
}

func NewHandler(svc ChatService, limiter Limiter, storage Storage, cacheHealth CacheHealth, llmConfigured bool) *Handler {
	return &Handler{
		svc:           svc,
		limiter:       limiter,
		storage:       storage,
		cacheHealth:   cacheHealth,
		llmConfigured: llmConfigured,
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Errorf("encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// admit runs the rate-limit check for a request. The identifier is the
// caller-supplied user id, falling back to a shared anonymous bucket.
func (h *Handler) admit(w http.ResponseWriter, r *http.Request, req *models.ChatRequest) bool {
	identifier := req.UserID
	if identifier == "" {
		identifier = "anonymous"
	}
	allowed, _ := h.limiter.Check(r.Context(), identifier)
	if !allowed {
		writeError(w, http.StatusTooManyRequests,
			fmt.Sprintf("Rate limit exceeded. Max %d requests per %d seconds.",
				h.limiter.MaxRequests(), int(h.limiter.Window().Seconds())))
		return false
	}
	return true
}

// Chat handles POST /api/v1/chatbot/chat.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validator.ValidateChatRequest(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.admit(w, r, &req) {
		return
	}

	resp, err := h.svc.Chat(r.Context(), &req)
	if err != nil {
		logging.Errorf("processing chat request: %v", err)
		writeError(w, http.StatusInternalServerError, "error processing chat request")
		return
	}

	logging.Infof("chat request processed (cached: %t)", resp.Cached)
	writeJSON(w, http.StatusOK, resp)
}

// Stream handles POST /api/v1/chatbot/stream with server-sent events.
// Every stream terminates with a done frame: {"content":"","done":true}
// after success, {"error":...,"done":true} after a mid-stream failure.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validator.ValidateChatRequest(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.admit(w, r, &req) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	contentCh, errCh := h.svc.StreamChat(r.Context(), &req)

	for chunk := range contentCh {
		writeChunk(w, flusher, models.StreamChunk{Content: chunk})
	}

	if err := <-errCh; err != nil {
		writeChunk(w, flusher, models.StreamChunk{Error: err.Error(), Done: true})
		return
	}
	writeChunk(w, flusher, models.StreamChunk{Done: true})
}

func writeChunk(w http.ResponseWriter, flusher http.Flusher, chunk models.StreamChunk) {
	raw, err := json.Marshal(chunk)
	if err != nil {
		logging.Errorf("marshal stream chunk: %v", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", raw)
	flusher.Flush()
}

// History handles GET /api/v1/chatbot/history/{sessionID}.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	messages := h.svc.GetSessionHistory(r.Context(), sessionID)

	resp := models.ConversationHistoryResponse{
		SessionID:    sessionID,
		Messages:     messages,
		MessageCount: len(messages),
	}
	if len(messages) > 0 {
		resp.CreatedAt = &messages[0].Timestamp
		resp.UpdatedAt = &messages[len(messages)-1].Timestamp
	}
	if resp.Messages == nil {
		resp.Messages = []models.Message{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ClearHistory handles DELETE /api/v1/chatbot/history/{sessionID}.
func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	deleted := h.svc.ClearSessionHistory(r.Context(), sessionID)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":    sessionID,
		"deleted_count": deleted,
		"message":       fmt.Sprintf("Cleared %d conversations for session %s", deleted, sessionID),
	})
}

// Health handles GET /api/v1/chatbot/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	services := map[string]interface{}{}

	storageHealthy := h.storage.Ping(r.Context()) == nil
	if storageHealthy {
		services["postgres"] = map[string]string{"status": "connected"}
	} else {
		services["postgres"] = map[string]string{"status": "disconnected"}
	}

	if h.cacheHealth.Enabled() {
		status := "disconnected"
		if h.cacheHealth.Healthy(r.Context()) {
			status = "connected"
		}
		services["redis"] = map[string]string{"status": status}
	} else {
		services["redis"] = map[string]string{
			"status": "disabled",
			"reason": "redis not enabled in configuration",
		}
	}

	if h.llmConfigured {
		services["openrouter"] = map[string]string{"status": "configured"}
	} else {
		services["openrouter"] = map[string]string{"status": "missing_api_key"}
	}

	status := "healthy"
	if !storageHealthy {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, models.HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Services:  services,
	})
}

// Contact handles POST /api/v1/contact.
func (h *Handler) Contact(w http.ResponseWriter, r *http.Request) {
	var enq models.ContactEnquiry
	if err := json.NewDecoder(r.Body).Decode(&enq); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validator.ValidateContactEnquiry(&enq); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	enq.Timestamp = time.Now().UTC()

	if err := h.storage.SaveEnquiry(r.Context(), &enq); err != nil {
		logging.Errorf("submitting enquiry: %v", err)
		writeError(w, http.StatusInternalServerError, "error submitting enquiry")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": "Enquiry submitted successfully"})
}
