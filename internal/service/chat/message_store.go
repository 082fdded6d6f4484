package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"streamchat/internal/models"
)

// SaveMessages appends messages to their chats in one transaction.
func (s *Service) SaveMessages(ctx context.Context, msgs ...*models.Message) (err error) {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	touched := make(map[string]struct{}, 1)
	for _, m := range msgs {
		if m == nil || m.ID == "" || m.ChatID == "" {
			return errors.New("message id and chat id are required")
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}
		if m.Parts == nil {
			m.Parts = []models.Part{}
		}
		if m.Attachments == nil {
			m.Attachments = []models.Attachment{}
		}
		parts, err := json.Marshal(m.Parts)
		if err != nil {
			return fmt.Errorf("encode parts: %w", err)
		}
		attachments, err := json.Marshal(m.Attachments)
		if err != nil {
			return fmt.Errorf("encode attachments: %w", err)
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO messages (id, chat_id, role, parts, attachments, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			m.ID, m.ChatID, m.Role, string(parts), string(attachments), m.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		touched[m.ChatID] = struct{}{}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit messages: %w", err)
	}
	for chatID := range touched {
		s.cache.invalidate(ctx, chatID)
	}
	return nil
}

// GetMessagesByChatID returns the chat history ordered by creation.
func (s *Service) GetMessagesByChatID(ctx context.Context, chatID string) ([]*models.Message, error) {
	if cached, ok := s.cache.load(ctx, chatID); ok {
		return cached, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, role, parts, attachments, created_at FROM messages WHERE chat_id = ? ORDER BY created_at ASC`,
		chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*models.Message, 0)
	for rows.Next() {
		var (
			m                  models.Message
			parts, attachments string
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &parts, &attachments, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if err := json.Unmarshal([]byte(parts), &m.Parts); err != nil {
			return nil, fmt.Errorf("decode parts of %s: %w", m.ID, err)
		}
		if err := json.Unmarshal([]byte(attachments), &m.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments of %s: %w", m.ID, err)
		}
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s.cache.store(ctx, chatID, messages)
	return messages, nil
}

// CountUserMessagesSince counts user-role messages across the user's chats
// created at or after since.
func (s *Service) CountUserMessagesSince(ctx context.Context, userID int64, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages m JOIN chats c ON c.id = m.chat_id
		 WHERE c.user_id = ? AND m.role = ? AND m.created_at >= ?`,
		userID, models.RoleUser, since.UTC(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}
