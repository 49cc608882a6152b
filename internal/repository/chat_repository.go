package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/meshchat/meshchat-service/internal/chatmodel"
)

// ChatRepository backs the chats-as-parent-resource feature supplemented
// from _examples/original_source/src/repository/chat.py.
type ChatRepository struct {
	db *sql.DB
}

func NewChatRepository(db *sql.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

func (r *ChatRepository) Create(ctx context.Context, ownerID, title string) (*chatmodel.Chat, error) {
	c := &chatmodel.Chat{ID: uuid.NewString(), OwnerID: ownerID, Title: title}
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO chats (id, owner_id, title) VALUES ($1, $2, $3) RETURNING created_at`,
		c.ID, c.OwnerID, c.Title,
	)
	if err := row.Scan(&c.CreatedAt); err != nil {
		return nil, fmt.Errorf("repository: create chat: %w", err)
	}
	return c, nil
}

func (r *ChatRepository) GetByID(ctx context.Context, chatID string) (*chatmodel.Chat, error) {
	var c chatmodel.Chat
	row := r.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, created_at FROM chats WHERE id = $1`, chatID)
	if err := row.Scan(&c.ID, &c.OwnerID, &c.Title, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("repository: get chat: %w", err)
	}
	return &c, nil
}

func (r *ChatRepository) ListByOwner(ctx context.Context, ownerID string) ([]chatmodel.Chat, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, owner_id, title, created_at FROM chats WHERE owner_id = $1 ORDER BY created_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: list chats: %w", err)
	}
	defer rows.Close()

	var out []chatmodel.Chat
	for rows.Next() {
		var c chatmodel.Chat
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Title, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository: scan chat: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// IsOwner mirrors original_source's dependencies.validate_chat_id ownership
// check used to authorize the nested message routes.
func (r *ChatRepository) IsOwner(ctx context.Context, chatID, ownerID string) (bool, error) {
	chat, err := r.GetByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return chat.OwnerID == ownerID, nil
}
