package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"streamchat/internal/models"
)

// GetPersona returns a persona or sql.ErrNoRows.
func (s *Service) GetPersona(ctx context.Context, id string) (*models.Persona, error) {
	var p models.Persona
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, system_prompt FROM personas WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.SystemPrompt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get persona: %w", err)
	}
	return &p, nil
}

// SavePersona inserts or replaces a persona.
func (s *Service) SavePersona(ctx context.Context, p models.Persona) error {
	if p.ID == "" {
		return errors.New("persona id is required")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM personas WHERE id = ?`, p.ID); err != nil {
		return fmt.Errorf("replace persona: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO personas (id, name, system_prompt) VALUES (?, ?, ?)`, p.ID, p.Name, p.SystemPrompt,
	); err != nil {
		return fmt.Errorf("save persona: %w", err)
	}
	return nil
}
