// Package catalog lists the models a client can pick, grouped by provider.
package catalog

import (
	"context"
	"sort"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"streamchat/internal/models"
	"streamchat/internal/provider"
)

const (
	cacheTTL = time.Hour
	cacheKey = "catalog"
)

var providerNames = map[string]string{
	provider.SlugOpenAI:    "OpenAI",
	provider.SlugAnthropic: "Anthropic",
	provider.SlugGoogle:    "Google",
	provider.SlugXAI:       "xAI",
}

// Store lists the persisted models that are switched on.
type Store interface {
	ListEnabledProviderModels(ctx context.Context) ([]models.ProviderModel, error)
}

type Model struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Reasoning   bool   `json:"reasoning,omitempty"`
	Image       bool   `json:"image,omitempty"`
}

type Group struct {
	Provider string  `json:"provider"`
	Name     string  `json:"name"`
	Models   []Model `json:"models"`
}

type Catalog struct {
	store Store
	cache *cache.Cache
	log   *zap.Logger
}

func New(store Store, log *zap.Logger) *Catalog {
	if log == nil {
		log = zap.NewNop()
	}
	return &Catalog{
		store: store,
		cache: cache.New(cacheTTL, 10*time.Minute),
		log:   log.Named("catalog"),
	}
}

// Groups returns the persisted chat models, or the built-in tags when none
// are persisted or the store fails.
func (c *Catalog) Groups(ctx context.Context) []Group {
	if v, ok := c.cache.Get(cacheKey); ok {
		return v.([]Group)
	}
	groups := c.load(ctx)
	c.cache.Set(cacheKey, groups, cache.DefaultExpiration)
	return groups
}

func (c *Catalog) load(ctx context.Context) []Group {
	if c.store != nil {
		rows, err := c.store.ListEnabledProviderModels(ctx)
		if err != nil {
			c.log.Warn("list persisted models, using built-in list", zap.Error(err))
		} else if groups := groupPersisted(rows); len(groups) > 0 {
			return groups
		}
	}
	return groupStatic()
}

func groupPersisted(rows []models.ProviderModel) []Group {
	var groups []Group
	index := make(map[string]int)
	for _, row := range rows {
		if !row.Enabled || !row.IsChat {
			continue
		}
		i, ok := index[row.ProviderSlug]
		if !ok {
			name := row.ProviderName
			if name == "" {
				name = displayName(row.ProviderSlug)
			}
			groups = append(groups, Group{Provider: row.ProviderSlug, Name: name})
			i = len(groups) - 1
			index[row.ProviderSlug] = i
		}
		groups[i].Models = append(groups[i].Models, Model{ID: row.ID, Name: row.Name, Image: row.IsImage})
	}
	sort.SliceStable(groups, func(a, b int) bool { return groups[a].Name < groups[b].Name })
	return groups
}

func groupStatic() []Group {
	var groups []Group
	index := make(map[string]int)
	for _, m := range provider.StaticModels {
		i, ok := index[m.Provider]
		if !ok {
			groups = append(groups, Group{Provider: m.Provider, Name: displayName(m.Provider)})
			i = len(groups) - 1
			index[m.Provider] = i
		}
		groups[i].Models = append(groups[i].Models, Model{
			ID:          m.ID,
			Name:        m.Name,
			Description: m.Description,
			Reasoning:   m.Reasoning,
		})
	}
	return groups
}

func displayName(slug string) string {
	if n, ok := providerNames[slug]; ok {
		return n
	}
	return slug
}
