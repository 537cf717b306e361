package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/Jamolkhon5/chatbot/internal/models"
)

// Repository persists conversations and contact enquiries in postgres.
// Messages and metadata are stored as JSONB documents; the repository does
// no business logic beyond marshaling.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

type conversationRow struct {
	ConversationID string          `db:"conversation_id"`
	SessionID      string          `db:"session_id"`
	UserID         string          `db:"user_id"`
	Messages       json.RawMessage `db:"messages"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
	Metadata       json.RawMessage `db:"metadata"`
}

// SaveConversation upserts a conversation keyed by conversation_id.
// created_at is set only on first insert; updated_at refreshes every save.
func (r *Repository) SaveConversation(ctx context.Context, conv *models.Conversation) error {
	messages, err := json.Marshal(conv.Messages)
	if err != nil {
		return errors.Wrap(err, "marshal messages")
	}
	metadata, err := json.Marshal(conv.Metadata)
	if err != nil {
		return errors.Wrap(err, "marshal metadata")
	}

	query := `
        INSERT INTO conversations (conversation_id, session_id, user_id, messages, metadata, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
        ON CONFLICT (conversation_id) DO UPDATE
        SET session_id = EXCLUDED.session_id,
            user_id    = EXCLUDED.user_id,
            messages   = EXCLUDED.messages,
            metadata   = EXCLUDED.metadata,
            updated_at = NOW()`

	_, err = r.db.ExecContext(ctx, query, conv.ConversationID, conv.SessionID, conv.UserID, messages, metadata)
	return errors.Wrapf(err, "save conversation %s", conv.ConversationID)
}

// GetSessionHistory returns conversations for a session, most recently
// updated first.
func (r *Repository) GetSessionHistory(ctx context.Context, sessionID string, limit int) ([]models.Conversation, error) {
	query := `
        SELECT conversation_id, session_id, user_id, messages, metadata, created_at, updated_at
        FROM conversations
        WHERE session_id = $1
        ORDER BY updated_at DESC
        LIMIT $2`

	var rows []conversationRow
	if err := r.db.SelectContext(ctx, &rows, query, sessionID, limit); err != nil {
		return nil, errors.Wrapf(err, "get session history %s", sessionID)
	}

	conversations := make([]models.Conversation, 0, len(rows))
	for _, row := range rows {
		conv := models.Conversation{
			ConversationID: row.ConversationID,
			SessionID:      row.SessionID,
			UserID:         row.UserID,
			CreatedAt:      row.CreatedAt,
			UpdatedAt:      row.UpdatedAt,
		}
		if err := json.Unmarshal(row.Messages, &conv.Messages); err != nil {
			return nil, errors.Wrapf(err, "unmarshal messages for %s", row.ConversationID)
		}
		if len(row.Metadata) > 0 {
			if err := json.Unmarshal(row.Metadata, &conv.Metadata); err != nil {
				return nil, errors.Wrapf(err, "unmarshal metadata for %s", row.ConversationID)
			}
		}
		conversations = append(conversations, conv)
	}
	return conversations, nil
}

// DeleteSessionHistory removes all conversations for a session and returns
// the number deleted.
func (r *Repository) DeleteSessionHistory(ctx context.Context, sessionID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, errors.Wrapf(err, "delete session history %s", sessionID)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// SaveEnquiry inserts a contact-form submission.
func (r *Repository) SaveEnquiry(ctx context.Context, enq *models.ContactEnquiry) error {
	query := `
        INSERT INTO enquiries (name, email, mobile, requirement, message, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query, enq.Name, enq.Email, enq.Mobile, enq.Requirement, enq.Message, enq.Timestamp)
	return errors.Wrap(err, "save enquiry")
}
