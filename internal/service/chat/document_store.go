package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"streamchat/internal/models"
)

// SaveDocument stores a new version of a document.
func (s *Service) SaveDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil || doc.ID == "" || doc.UserID <= 0 {
		return errors.New("document id and user id are required")
	}
	if doc.Kind == "" {
		doc.Kind = models.DocumentText
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, created_at, title, kind, content, user_id) VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.CreatedAt, doc.Title, doc.Kind, doc.Content, doc.UserID,
	)
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

// GetDocumentByID returns the latest version or sql.ErrNoRows.
func (s *Service) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	var d models.Document
	var content sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, title, kind, content, user_id FROM documents WHERE id = ? ORDER BY created_at DESC LIMIT 1`, id,
	).Scan(&d.ID, &d.CreatedAt, &d.Title, &d.Kind, &content, &d.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	d.Content = content.String
	return &d, nil
}

// SaveSuggestions stores suggestions for a document version.
func (s *Service) SaveSuggestions(ctx context.Context, suggestions []*models.Suggestion) error {
	for _, sg := range suggestions {
		if sg == nil {
			continue
		}
		if sg.ID == "" {
			sg.ID = uuid.NewString()
		}
		if sg.CreatedAt.IsZero() {
			sg.CreatedAt = time.Now().UTC()
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO suggestions (id, document_id, document_created_at, original_text, suggested_text, description, is_resolved, user_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sg.ID, sg.DocumentID, sg.DocumentCreatedAt, sg.OriginalText, sg.SuggestedText, sg.Description, sg.IsResolved, sg.UserID, sg.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("save suggestion: %w", err)
		}
	}
	return nil
}

// GetSuggestionsByDocumentID lists suggestions across all versions of a document.
func (s *Service) GetSuggestionsByDocumentID(ctx context.Context, documentID string) ([]*models.Suggestion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, document_created_at, original_text, suggested_text, description, is_resolved, user_id, created_at
		 FROM suggestions WHERE document_id = ? ORDER BY created_at ASC`, documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list suggestions: %w", err)
	}
	defer rows.Close()

	var out []*models.Suggestion
	for rows.Next() {
		var sg models.Suggestion
		var desc sql.NullString
		if err := rows.Scan(&sg.ID, &sg.DocumentID, &sg.DocumentCreatedAt, &sg.OriginalText, &sg.SuggestedText, &desc, &sg.IsResolved, &sg.UserID, &sg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		sg.Description = desc.String
		out = append(out, &sg)
	}
	return out, rows.Err()
}
