package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/meshchat/meshchat-service/internal/chatmodel"
)

// MessageRepository is C7's message contract: create-returns-id and
// history reads, each transactional at call granularity.
type MessageRepository struct {
	db *sql.DB
}

func NewMessageRepository(db *sql.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create persists a message and returns the stored record, including its
// minted id. Returns ErrInvalidRole if role isn't one of {user, assistant,
// system}.
func (r *MessageRepository) Create(ctx context.Context, chatID string, role chatmodel.Role, content string) (*chatmodel.Message, error) {
	return r.CreateWithID(ctx, uuid.NewString(), chatID, role, content)
}

// CreateWithID persists a message under a caller-chosen id. The
// orchestrator uses this after generation to persist the assistant message
// under the id it seeded onto the stream handle at create_message time
// (spec.md §3, "seeded assistant-message id").
func (r *MessageRepository) CreateWithID(ctx context.Context, id, chatID string, role chatmodel.Role, content string) (*chatmodel.Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	msg := &chatmodel.Message{
		ID:      id,
		ChatID:  chatID,
		Role:    role,
		Content: content,
	}

	row := r.db.QueryRowContext(ctx,
		`INSERT INTO messages (id, chat_id, role, content) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		msg.ID, msg.ChatID, string(msg.Role), msg.Content,
	)
	if err := row.Scan(&msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("repository: create message: %w", err)
	}
	return msg, nil
}

// LastN returns the most recent n messages for chatID, oldest first. Used
// by the orchestrator to build the request history for a new stream —
// spec.md preserves the source's single-last-turn behavior, so the
// orchestrator calls this with n=1, but the contract itself is general.
func (r *MessageRepository) LastN(ctx context.Context, chatID string, n int) ([]chatmodel.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, chat_id, role, content, created_at FROM messages
		 WHERE chat_id = $1 ORDER BY created_at DESC LIMIT $2`,
		chatID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: last_n messages: %w", err)
	}
	defer rows.Close()

	var out []chatmodel.Message
	for rows.Next() {
		var m chatmodel.Message
		var role string
		if err := rows.Scan(&m.ID, &m.ChatID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository: scan message: %w", err)
		}
		m.Role = chatmodel.Role(role)
		out = append(out, m)
	}

	// Reverse to chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// ListByChat returns every message for chatID, oldest first.
func (r *MessageRepository) ListByChat(ctx context.Context, chatID string) ([]chatmodel.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, chat_id, role, content, created_at FROM messages
		 WHERE chat_id = $1 ORDER BY created_at ASC`,
		chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: list messages: %w", err)
	}
	defer rows.Close()

	var out []chatmodel.Message
	for rows.Next() {
		var m chatmodel.Message
		var role string
		if err := rows.Scan(&m.ID, &m.ChatID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository: scan message: %w", err)
		}
		m.Role = chatmodel.Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}
