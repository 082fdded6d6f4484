package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Registry selects a Provider by slug.
type Registry struct {
	mu           sync.RWMutex
	providers    map[string]Provider
	defaultSlug  string
	defaultModel string
	log          *zap.Logger
}

// NewRegistry creates a registry whose fallback is defaultSlug/defaultModel.
func NewRegistry(defaultSlug, defaultModel string, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		providers:    make(map[string]Provider),
		defaultSlug:  normalize(defaultSlug),
		defaultModel: defaultModel,
		log:          log.Named("provider"),
	}
}

// Register adds or replaces a provider under its slug.
func (r *Registry) Register(p Provider) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[normalize(p.Slug())] = p
}

// Get returns the provider registered under slug.
func (r *Registry) Get(slug string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[normalize(slug)]
	return p, ok
}

// Slugs lists registered provider slugs in sorted order.
func (r *Registry) Slugs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for slug := range r.providers {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}

// Construct builds a handle for slug/nativeID and reports any failure.
func (r *Registry) Construct(ctx context.Context, slug, nativeID string) (Handle, error) {
	p, ok := r.Get(slug)
	if !ok {
		return Handle{}, fmt.Errorf("unknown provider: %s", slug)
	}
	if strings.TrimSpace(nativeID) == "" {
		return Handle{}, fmt.Errorf("provider %s: model id is required", slug)
	}
	m, err := p.ConstructModel(ctx, nativeID)
	if err != nil {
		return Handle{}, fmt.Errorf("construct %s/%s: %w", slug, nativeID, err)
	}
	return Handle{Provider: normalize(slug), NativeID: nativeID, Model: m}, nil
}

// Lookup is Construct with the default handle substituted on failure.
func (r *Registry) Lookup(ctx context.Context, slug, nativeID string) Handle {
	h, err := r.Construct(ctx, slug, nativeID)
	if err != nil {
		r.log.Warn("provider lookup fell back to default", zap.String("slug", slug), zap.String("model", nativeID), zap.Error(err))
		return r.Default(ctx)
	}
	return h
}

// Default returns the hard-coded fallback handle. It never fails: when the
// default itself cannot be built, the handle's model reports that error on use.
func (r *Registry) Default(ctx context.Context) Handle {
	h, err := r.Construct(ctx, r.defaultSlug, r.defaultModel)
	if err != nil {
		r.log.Error("default model unavailable", zap.String("slug", r.defaultSlug), zap.String("model", r.defaultModel), zap.Error(err))
		return Handle{
			Provider: r.defaultSlug,
			NativeID: r.defaultModel,
			Model:    unavailableModel{err: fmt.Errorf("%w: %v", errNoDefault, err)},
		}
	}
	return h
}

// slugAliases maps vendor nicknames found in persisted rows to the slug
// the vendor registers under.
var slugAliases = map[string]string{
	"claude": SlugAnthropic,
	"gemini": SlugGoogle,
	"grok":   SlugXAI,
}

func normalize(slug string) string {
	s := strings.ToLower(strings.TrimSpace(slug))
	if canonical, ok := slugAliases[s]; ok {
		return canonical
	}
	return s
}
