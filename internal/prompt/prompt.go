package prompt

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"streamchat/internal/models"
)

const (
	regularPrompt = "You are a friendly assistant! Keep your responses concise and helpful."

	artifactsPrompt = `Artifacts is a special user interface mode that helps users with writing, editing, and other content creation tasks. When artifact is open, it is on the right side of the screen, while the conversation is on the left side. When creating or updating documents, changes are reflected in real-time on the artifacts and visible to the user.

Use createDocument for substantial content (more than 10 lines) or content users will likely save or reuse, and when explicitly asked to create a document. Do not use it for informational or conversational content.
Use updateDocument only after the user asks for changes, and never immediately after creating a document; wait for user feedback first.`

	personaCacheTTL = 10 * time.Minute
)

// Hints describe where the request came from.
type Hints struct {
	Latitude  string
	Longitude string
	City      string
	Country   string
}

// HintsFromHeaders reads geolocation hints set by the edge proxy.
func HintsFromHeaders(h http.Header) Hints {
	return Hints{
		Latitude:  h.Get("X-Geo-Latitude"),
		Longitude: h.Get("X-Geo-Longitude"),
		City:      h.Get("X-Geo-City"),
		Country:   h.Get("X-Geo-Country"),
	}
}

func (h Hints) empty() bool {
	return h.Latitude == "" && h.Longitude == "" && h.City == "" && h.Country == ""
}

func (h Hints) String() string {
	return fmt.Sprintf(`About the origin of user's request:
- lat: %s
- lon: %s
- city: %s
- country: %s`, h.Latitude, h.Longitude, h.City, h.Country)
}

// PersonaStore loads personas by id.
type PersonaStore interface {
	GetPersona(ctx context.Context, id string) (*models.Persona, error)
}

// Builder assembles system prompts.
type Builder struct {
	personas PersonaStore
	cache    *cache.Cache
	log      *zap.Logger
}

func NewBuilder(personas PersonaStore, log *zap.Logger) *Builder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{
		personas: personas,
		cache:    cache.New(personaCacheTTL, 2*personaCacheTTL),
		log:      log.Named("prompt"),
	}
}

// Request carries the per-request inputs to the system prompt.
type Request struct {
	Hints     Hints
	PersonaID string
	// Tools is false for reasoning models, which do not see the artifacts section.
	Tools bool
}

// Build returns the system prompt. A failed persona lookup falls back to the
// regular prompt.
func (b *Builder) Build(ctx context.Context, req Request) string {
	base := regularPrompt
	if p := b.persona(ctx, req.PersonaID); p != nil && strings.TrimSpace(p.SystemPrompt) != "" {
		base = p.SystemPrompt
	}
	sections := []string{base}
	if !req.Hints.empty() {
		sections = append(sections, req.Hints.String())
	}
	if req.Tools {
		sections = append(sections, artifactsPrompt)
	}
	return strings.Join(sections, "\n\n")
}

func (b *Builder) persona(ctx context.Context, id string) *models.Persona {
	if id == "" || b.personas == nil {
		return nil
	}
	if v, ok := b.cache.Get(id); ok {
		return v.(*models.Persona)
	}
	p, err := b.personas.GetPersona(ctx, id)
	if err != nil {
		b.log.Warn("persona lookup failed", zap.String("persona_id", id), zap.Error(err))
		return nil
	}
	b.cache.Set(id, p, cache.DefaultExpiration)
	return p
}
