package provider

import (
	"streamchat/internal/config"
	"streamchat/internal/models"

	"go.uber.org/zap"
)

// StaticModel is one of the built-in model tags clients may select.
type StaticModel struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Provider    string `json:"provider"`
	NativeID    string `json:"-"`
	Reasoning   bool   `json:"reasoning"`
}

// StaticModels is the fixed tag table, in display order.
var StaticModels = []StaticModel{
	{ID: "chat-model", Name: "Chat model", Description: "Primary model for all-purpose chat", Provider: SlugOpenAI, NativeID: "gpt-4o-mini"},
	{ID: "chat-model-reasoning", Name: "Reasoning model", Description: "Uses advanced reasoning", Provider: SlugOpenAI, NativeID: "o4-mini", Reasoning: true},
	{ID: "openai-gpt4o", Name: "GPT-4o", Description: "OpenAI flagship multimodal model", Provider: SlugOpenAI, NativeID: "gpt-4o"},
	{ID: "openai-reasoning", Name: "OpenAI o3-mini", Description: "OpenAI reasoning model", Provider: SlugOpenAI, NativeID: "o3-mini", Reasoning: true},
	{ID: "xai-grok2-vision", Name: "Grok 2 Vision", Description: "xAI model with image input", Provider: SlugXAI, NativeID: "grok-2-vision-1212"},
	{ID: "xai-grok3-mini", Name: "Grok 3 Mini", Description: "xAI reasoning model", Provider: SlugXAI, NativeID: "grok-3-mini-beta", Reasoning: true},
	{ID: "anthropic-claude-sonnet", Name: "Claude 3.5 Sonnet", Description: "Anthropic model with document input", Provider: SlugAnthropic, NativeID: "claude-3-5-sonnet-latest"},
	{ID: "google-gemini-flash", Name: "Gemini 2.0 Flash", Description: "Google fast multimodal model", Provider: SlugGoogle, NativeID: "gemini-2.0-flash"},
}

var staticIndex = func() map[string]StaticModel {
	idx := make(map[string]StaticModel, len(StaticModels))
	for _, m := range StaticModels {
		idx[m.ID] = m
	}
	return idx
}()

// LookupStatic finds a built-in tag.
func LookupStatic(id string) (StaticModel, bool) {
	m, ok := staticIndex[id]
	return m, ok
}

// IsReasoning reports whether id names a reasoning model. Reasoning models
// run without tools.
func IsReasoning(id string) bool {
	m, ok := staticIndex[id]
	return ok && m.Reasoning
}

// Build registers a provider for every configured vendor, then lets persisted
// provider rows override or extend them.
func Build(providers map[string]config.ProviderConfig, records []models.ProviderRecord, defaults config.ModelsConfig, log *zap.Logger) *Registry {
	reg := NewRegistry(defaults.DefaultProvider, defaults.DefaultModel, log)
	for _, slug := range []string{SlugOpenAI, SlugAnthropic, SlugGoogle, SlugXAI} {
		pc := providers[slug]
		p, _ := ForSlug(slug, Credentials{BaseURL: pc.BaseURL, APIKey: pc.APIKey})
		reg.Register(p)
	}
	for slug, pc := range providers {
		if p, ok := ForSlug(slug, Credentials{BaseURL: pc.BaseURL, APIKey: pc.APIKey}); ok {
			reg.Register(p)
		}
	}
	for _, rec := range records {
		creds := Credentials{BaseURL: rec.BaseURL, APIKey: rec.APIKey}
		if creds.APIKey == "" {
			if pc, ok := providers[normalize(rec.Slug)]; ok {
				creds.APIKey = pc.APIKey
			} else if pc, ok := providers[rec.Slug]; ok {
				creds.APIKey = pc.APIKey
			}
		}
		if p, ok := ForSlug(rec.Slug, creds); ok {
			reg.Register(p)
		} else {
			reg.log.Warn("skip persisted provider", zap.String("slug", rec.Slug))
		}
	}
	return reg
}
