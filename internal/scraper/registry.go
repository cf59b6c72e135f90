package scraper

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/canary-data/docharvester/internal/harvest"
	"github.com/canary-data/docharvester/internal/retry"
)

// Variant tags bound to concrete scraper implementations.
const (
	VariantHacienda     = "hacienda"
	VariantGobcan       = "gobcan"
	VariantCabildo      = "cabildo"
	VariantAyuntamiento = "ayuntamiento"
	VariantSegSocial    = "seguridad_social"
)

// Deps are the shared collaborators injected into every scraper.
type Deps struct {
	Fetcher harvest.Fetcher
	Policy  retry.Policy
	Logger  *zap.Logger
}

type factory func(cfg harvest.SourceConfig, deps Deps) harvest.Scraper

var factories = map[string]factory{
	VariantHacienda: func(cfg harvest.SourceConfig, d Deps) harvest.Scraper {
		return &Hacienda{newBase(cfg, d.Fetcher, d.Policy, d.Logger)}
	},
	VariantGobcan: func(cfg harvest.SourceConfig, d Deps) harvest.Scraper {
		return &Gobcan{newBase(cfg, d.Fetcher, d.Policy, d.Logger)}
	},
	VariantCabildo: func(cfg harvest.SourceConfig, d Deps) harvest.Scraper {
		return &Cabildo{newBase(cfg, d.Fetcher, d.Policy, d.Logger)}
	},
	VariantAyuntamiento: func(cfg harvest.SourceConfig, d Deps) harvest.Scraper {
		return &Ayuntamiento{newBase(cfg, d.Fetcher, d.Policy, d.Logger)}
	},
	VariantSegSocial: func(cfg harvest.SourceConfig, d Deps) harvest.Scraper {
		return &SegSocial{newBase(cfg, d.Fetcher, d.Policy, d.Logger)}
	},
}

// Registry binds institution identifiers to scraper variants and their
// static configuration. Construction fails fast on a variant tag with no
// implementation; that is a configuration error, not a transient one.
type Registry struct {
	sources map[string]harvest.SourceConfig
	deps    Deps
}

// NewRegistry validates the source table and builds a Registry.
func NewRegistry(sources map[string]harvest.SourceConfig, deps Deps) (*Registry, error) {
	for id, src := range sources {
		if src.BaseURL == "" {
			return nil, fmt.Errorf("institution %s: base_url is required", id)
		}
		if _, ok := factories[src.Variant]; !ok {
			return nil, fmt.Errorf("institution %s: no scraper variant %q", id, src.Variant)
		}
	}
	return &Registry{sources: sources, deps: deps}, nil
}

// Resolve returns the scraper for the institution identifier.
func (r *Registry) Resolve(institutionID string) (harvest.Scraper, error) {
	src, ok := r.sources[institutionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", harvest.ErrUnknownInstitution, institutionID)
	}
	build := factories[src.Variant]
	return build(src, r.deps), nil
}

// Institutions lists the registered identifiers ordered by priority, then
// name for stability.
func (r *Registry) Institutions() []string {
	ids := make([]string, 0, len(r.sources))
	for id := range r.sources {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := r.sources[ids[i]], r.sources[ids[j]]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return ids[i] < ids[j]
	})
	return ids
}

// Source returns the static configuration for an institution.
func (r *Registry) Source(institutionID string) (harvest.SourceConfig, bool) {
	src, ok := r.sources[institutionID]
	return src, ok
}
