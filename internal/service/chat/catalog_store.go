package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"streamchat/internal/models"
)

// SaveProvider inserts or updates a provider keyed by slug and returns its id.
func (s *Service) SaveProvider(ctx context.Context, p models.ProviderRecord) (string, error) {
	p.Slug = strings.ToLower(strings.TrimSpace(p.Slug))
	if p.Slug == "" {
		return "", errors.New("provider slug is required")
	}
	if p.Name == "" {
		p.Name = p.Slug
	}
	sealed, err := s.sealKey(p.APIKey)
	if err != nil {
		return "", fmt.Errorf("seal provider key: %w", err)
	}

	var id string
	err = s.db.QueryRowContext(ctx, `SELECT id FROM providers WHERE slug = ?`, p.Slug).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		id = uuid.NewString()
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO providers (id, slug, name, base_url, api_key) VALUES (?, ?, ?, ?, ?)`,
			id, p.Slug, p.Name, p.BaseURL, sealed,
		)
	case err == nil:
		_, err = s.db.ExecContext(ctx,
			`UPDATE providers SET name = ?, base_url = ?, api_key = ? WHERE id = ?`,
			p.Name, p.BaseURL, sealed, id,
		)
	}
	if err != nil {
		return "", fmt.Errorf("save provider: %w", err)
	}
	return id, nil
}

// SaveProviderModel inserts a model for a provider, assigning an id when empty.
func (s *Service) SaveProviderModel(ctx context.Context, m *models.ProviderModel) error {
	if m == nil || m.ProviderID == "" || m.ModelID == "" {
		return errors.New("provider id and model id are required")
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Name == "" {
		m.Name = m.ModelID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provider_models (id, provider_id, model_id, name, is_chat, is_image, enabled) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ProviderID, m.ModelID, m.Name, m.IsChat, m.IsImage, m.Enabled,
	)
	if err != nil {
		return fmt.Errorf("save provider model: %w", err)
	}
	return nil
}

const providerModelColumns = `pm.id, pm.provider_id, p.slug, p.name, pm.model_id, pm.name, pm.is_chat, pm.is_image, pm.enabled`

// GetEnabledProviderModel returns an enabled model row with its provider
// slug, or sql.ErrNoRows.
func (s *Service) GetEnabledProviderModel(ctx context.Context, id string) (*models.ProviderModel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+providerModelColumns+` FROM provider_models pm JOIN providers p ON p.id = pm.provider_id
		 WHERE pm.id = ? AND pm.enabled = 1`, id,
	)
	var m models.ProviderModel
	if err := row.Scan(&m.ID, &m.ProviderID, &m.ProviderSlug, &m.ProviderName, &m.ModelID, &m.Name, &m.IsChat, &m.IsImage, &m.Enabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get provider model: %w", err)
	}
	return &m, nil
}

// ListEnabledProviderModels returns every enabled model ordered by provider then name.
func (s *Service) ListEnabledProviderModels(ctx context.Context) ([]models.ProviderModel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+providerModelColumns+` FROM provider_models pm JOIN providers p ON p.id = pm.provider_id
		 WHERE pm.enabled = 1 ORDER BY p.slug, pm.name`,
	)
	if err != nil {
		return nil, fmt.Errorf("list provider models: %w", err)
	}
	defer rows.Close()

	var out []models.ProviderModel
	for rows.Next() {
		var m models.ProviderModel
		if err := rows.Scan(&m.ID, &m.ProviderID, &m.ProviderSlug, &m.ProviderName, &m.ModelID, &m.Name, &m.IsChat, &m.IsImage, &m.Enabled); err != nil {
			return nil, fmt.Errorf("scan provider model: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetProviderBySlug returns the provider with its api key decrypted.
func (s *Service) GetProviderBySlug(ctx context.Context, slug string) (*models.ProviderRecord, error) {
	var p models.ProviderRecord
	var key string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, slug, name, base_url, api_key FROM providers WHERE slug = ?`,
		strings.ToLower(strings.TrimSpace(slug)),
	).Scan(&p.ID, &p.Slug, &p.Name, &p.BaseURL, &key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get provider: %w", err)
	}
	p.APIKey = s.openKey(key)
	return &p, nil
}

// ListProviders returns every provider with decrypted keys.
func (s *Service) ListProviders(ctx context.Context) ([]models.ProviderRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, slug, name, base_url, api_key FROM providers ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	var out []models.ProviderRecord
	for rows.Next() {
		var p models.ProviderRecord
		var key string
		if err := rows.Scan(&p.ID, &p.Slug, &p.Name, &p.BaseURL, &key); err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		p.APIKey = s.openKey(key)
		out = append(out, p)
	}
	return out, rows.Err()
}
