package provider

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"
)

const (
	SlugOpenAI    = "openai"
	SlugAnthropic = "anthropic"
	SlugGoogle    = "google"
	SlugXAI       = "xai"

	xaiBaseURL         = "https://api.x.ai/v1"
	anthropicMaxTokens = 4096
)

// Credentials carries what a vendor needs to authenticate.
type Credentials struct {
	BaseURL string
	APIKey  string
}

// OpenAI talks to the OpenAI chat completions API, or any compatible endpoint
// when BaseURL is set.
type OpenAI struct {
	slug  string
	creds Credentials
}

func NewOpenAI(creds Credentials) *OpenAI {
	return &OpenAI{slug: SlugOpenAI, creds: creds}
}

// NewOpenAICompatible serves slug through an OpenAI compatible endpoint.
func NewOpenAICompatible(slug string, creds Credentials) *OpenAI {
	return &OpenAI{slug: normalize(slug), creds: creds}
}

// NewXAI points the OpenAI client at xAI's compatible endpoint.
func NewXAI(creds Credentials) *OpenAI {
	if creds.BaseURL == "" {
		creds.BaseURL = xaiBaseURL
	}
	return &OpenAI{slug: SlugXAI, creds: creds}
}

func (p *OpenAI) Slug() string { return p.slug }

func (p *OpenAI) ConstructModel(ctx context.Context, nativeID string) (model.ToolCallingChatModel, error) {
	if p.creds.APIKey == "" {
		return nil, fmt.Errorf("%s: api key not configured", p.slug)
	}
	return openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL: p.creds.BaseURL,
		Model:   nativeID,
		APIKey:  p.creds.APIKey,
	})
}

// Anthropic builds Claude models.
type Anthropic struct {
	creds Credentials
}

func NewAnthropic(creds Credentials) *Anthropic {
	return &Anthropic{creds: creds}
}

func (p *Anthropic) Slug() string { return SlugAnthropic }

func (p *Anthropic) ConstructModel(ctx context.Context, nativeID string) (model.ToolCallingChatModel, error) {
	if p.creds.APIKey == "" {
		return nil, fmt.Errorf("%s: api key not configured", SlugAnthropic)
	}
	var baseURL *string
	if p.creds.BaseURL != "" {
		u := p.creds.BaseURL
		baseURL = &u
	}
	return claude.NewChatModel(ctx, &claude.Config{
		APIKey:    p.creds.APIKey,
		Model:     nativeID,
		BaseURL:   baseURL,
		MaxTokens: anthropicMaxTokens,
	})
}

// Google builds Gemini models through the genai client.
type Google struct {
	creds Credentials
}

func NewGoogle(creds Credentials) *Google {
	return &Google{creds: creds}
}

func (p *Google) Slug() string { return SlugGoogle }

func (p *Google) ConstructModel(ctx context.Context, nativeID string) (model.ToolCallingChatModel, error) {
	if p.creds.APIKey == "" {
		return nil, fmt.Errorf("%s: api key not configured", SlugGoogle)
	}
	cc := &genai.ClientConfig{
		APIKey:  p.creds.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if p.creds.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: p.creds.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return gemini.NewChatModel(ctx, &gemini.Config{
		Client: client,
		Model:  nativeID,
	})
}

// ForSlug returns the vendor implementation that serves slug. Unknown slugs
// with a base URL are treated as OpenAI compatible.
func ForSlug(slug string, creds Credentials) (Provider, bool) {
	switch normalize(slug) {
	case SlugOpenAI:
		return NewOpenAI(creds), true
	case SlugAnthropic:
		return NewAnthropic(creds), true
	case SlugGoogle:
		return NewGoogle(creds), true
	case SlugXAI:
		return NewXAI(creds), true
	}
	if creds.BaseURL != "" {
		return NewOpenAICompatible(slug, creds), true
	}
	return nil, false
}
