package chat

import (
	"context"
	"fmt"
	"time"
)

// CreateStreamID records a new stream for the chat.
func (s *Service) CreateStreamID(ctx context.Context, streamID, chatID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO streams (id, chat_id, created_at) VALUES (?, ?, ?)`,
		streamID, chatID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	return nil
}

// GetStreamIDsByChatID lists stream ids oldest first; the last one is the
// stream to resume.
func (s *Service) GetStreamIDsByChatID(ctx context.Context, chatID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM streams WHERE chat_id = ? ORDER BY created_at ASC`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stream: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
