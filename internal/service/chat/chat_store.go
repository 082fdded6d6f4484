package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"streamchat/internal/models"
)

// SaveChat inserts a new chat.
func (s *Service) SaveChat(ctx context.Context, chat *models.Chat) error {
	if chat == nil || chat.ID == "" {
		return errors.New("chat id is required")
	}
	if chat.UserID <= 0 {
		return errors.New("user_id is required")
	}
	if chat.Visibility == "" {
		chat.Visibility = models.VisibilityPrivate
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (id, user_id, title, visibility, created_at) VALUES (?, ?, ?, ?, ?)`,
		chat.ID, chat.UserID, strings.TrimSpace(chat.Title), chat.Visibility, chat.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create chat: %w", err)
	}
	return nil
}

// GetChatByID returns the chat or sql.ErrNoRows.
func (s *Service) GetChatByID(ctx context.Context, id string) (*models.Chat, error) {
	var c models.Chat
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, visibility, created_at FROM chats WHERE id = ?`, id,
	).Scan(&c.ID, &c.UserID, &c.Title, &c.Visibility, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return &c, nil
}

// ListChats returns the user's chats, newest first.
func (s *Service) ListChats(ctx context.Context, userID int64, limit int) ([]models.Chat, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, visibility, created_at FROM chats WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	chats := make([]models.Chat, 0)
	for rows.Next() {
		var c models.Chat
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.Visibility, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// DeleteChatByID removes a chat with its messages and stream records and
// returns the deleted row.
func (s *Service) DeleteChatByID(ctx context.Context, id string) (deleted *models.Chat, err error) {
	chat, err := s.GetChatByID(ctx, id)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete messages: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM streams WHERE chat_id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete streams: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("delete chat: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("chat rows affected: %w", err)
	}
	if affected == 0 {
		err = sql.ErrNoRows
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete chat: %w", err)
	}
	s.cache.invalidate(ctx, id)
	return chat, nil
}
