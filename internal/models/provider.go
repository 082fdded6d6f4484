package models

// ProviderRecord is a persisted provider account.
type ProviderRecord struct {
	ID      string `json:"id"`
	Slug    string `json:"slug"`
	Name    string `json:"name"`
	BaseURL string `json:"baseUrl,omitempty"`
	APIKey  string `json:"-"`
}

// ProviderModel is a persisted model offered by a provider.
type ProviderModel struct {
	ID           string `json:"id"`
	ProviderID   string `json:"providerId"`
	ProviderSlug string `json:"providerSlug"`
	ProviderName string `json:"providerName"`
	ModelID      string `json:"modelId"`
	Name         string `json:"name"`
	IsChat       bool   `json:"isChat"`
	IsImage      bool   `json:"isImage"`
	Enabled      bool   `json:"enabled"`
}

// Persona supplies an alternate system prompt.
type Persona struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SystemPrompt string `json:"systemPrompt"`
}
