package resolver

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"streamchat/internal/models"
	"streamchat/internal/provider"
)

// Strategy tries to resolve a model; ok=false passes to the next strategy.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, modelID string, msg *models.Message) (h provider.Handle, ok bool)
}

// ModelStore looks up persisted provider models.
type ModelStore interface {
	GetEnabledProviderModel(ctx context.Context, id string) (*models.ProviderModel, error)
}

// Resolver folds an ordered strategy list, ending with the registry default.
type Resolver struct {
	registry   *provider.Registry
	strategies []Strategy
	log        *zap.Logger
}

// Options configure the built-in strategy chain.
type Options struct {
	DocumentProvider string
	DocumentModel    string
	Store            ModelStore
	Logger           *zap.Logger
}

// New builds the document, static, persisted chain.
func New(reg *provider.Registry, opts Options) *Resolver {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("resolver")
	strategies := []Strategy{
		documentStrategy{reg: reg, slug: opts.DocumentProvider, nativeID: opts.DocumentModel, log: log},
		staticStrategy{reg: reg, log: log},
	}
	if opts.Store != nil {
		strategies = append(strategies, persistedStrategy{reg: reg, store: opts.Store, log: log})
	}
	return NewWithStrategies(reg, log, strategies...)
}

// NewWithStrategies uses a caller-supplied chain.
func NewWithStrategies(reg *provider.Registry, log *zap.Logger, strategies ...Strategy) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{registry: reg, strategies: strategies, log: log}
}

// Resolve returns the first successful handle, or the default. It never fails.
func (r *Resolver) Resolve(ctx context.Context, modelID string, msg *models.Message) provider.Handle {
	for _, s := range r.strategies {
		if h, ok := s.Resolve(ctx, modelID, msg); ok {
			h.ModelID = modelID
			r.log.Debug("model resolved", zap.String("strategy", s.Name()), zap.String("model_id", modelID), zap.Stringer("handle", h))
			return h
		}
	}
	h := r.registry.Default(ctx)
	h.ModelID = modelID
	r.log.Info("model resolved to default", zap.String("model_id", modelID), zap.Stringer("handle", h))
	return h
}

type documentStrategy struct {
	reg      *provider.Registry
	slug     string
	nativeID string
	log      *zap.Logger
}

func (documentStrategy) Name() string { return "document" }

func (s documentStrategy) Resolve(ctx context.Context, _ string, msg *models.Message) (provider.Handle, bool) {
	if s.slug == "" || !msg.HasAttachmentType(models.ContentTypePDF) {
		return provider.Handle{}, false
	}
	h, err := s.reg.Construct(ctx, s.slug, s.nativeID)
	if err != nil {
		s.log.Warn("document provider unavailable", zap.Error(err))
		return provider.Handle{}, false
	}
	return h, true
}

type staticStrategy struct {
	reg *provider.Registry
	log *zap.Logger
}

func (staticStrategy) Name() string { return "static" }

func (s staticStrategy) Resolve(ctx context.Context, modelID string, _ *models.Message) (provider.Handle, bool) {
	m, ok := provider.LookupStatic(modelID)
	if !ok {
		return provider.Handle{}, false
	}
	h, err := s.reg.Construct(ctx, m.Provider, m.NativeID)
	if err != nil {
		s.log.Warn("static model unavailable", zap.String("model_id", modelID), zap.Error(err))
		return provider.Handle{}, false
	}
	return h, true
}

type persistedStrategy struct {
	reg   *provider.Registry
	store ModelStore
	log   *zap.Logger
}

func (persistedStrategy) Name() string { return "persisted" }

func (s persistedStrategy) Resolve(ctx context.Context, modelID string, _ *models.Message) (provider.Handle, bool) {
	if len(modelID) != 36 {
		return provider.Handle{}, false
	}
	id, err := uuid.Parse(modelID)
	if err != nil {
		return provider.Handle{}, false
	}
	pm, err := s.store.GetEnabledProviderModel(ctx, id.String())
	if err != nil {
		s.log.Debug("persisted model not found", zap.String("model_id", modelID), zap.Error(err))
		return provider.Handle{}, false
	}
	h, err := s.reg.Construct(ctx, pm.ProviderSlug, pm.ModelID)
	if err != nil {
		s.log.Warn("persisted model unavailable", zap.String("model_id", modelID), zap.Error(err))
		return provider.Handle{}, false
	}
	return h, true
}
