package scraper

import (
	"context"

	"go.uber.org/zap"

	"github.com/canary-data/docharvester/internal/harvest"
)

// cabildoSectionKeywords identify business-facing sections on island
// council sites.
var cabildoSectionKeywords = []string{
	"empresa", "empleo", "economia", "desarrollo", "subvencion",
	"ayuda", "tramite", "licencia", "actividad",
}

const cabildoMaxSections = 8

// Cabildo scrapes island council sites. The same variant serves every
// cabildo because their portals share the navigation pattern even though
// the markup differs in detail.
type Cabildo struct {
	base
}

// Discover implements harvest.Scraper.
func (s *Cabildo) Discover(ctx context.Context, docTypes []string) (harvest.Discovery, error) {
	doc, finalURL, err := s.fetchPage(ctx, s.cfg.BaseURL)
	if err != nil {
		return harvest.Discovery{}, err
	}

	var all []harvest.CandidateLink
	skipped := 0

	for _, section := range s.sectionLinks(doc, finalURL, cabildoSectionKeywords, cabildoMaxSections) {
		if ctx.Err() != nil {
			return harvest.Discovery{}, ctx.Err()
		}
		sectionDoc, sectionURL, err := s.fetchPage(ctx, section.url)
		if err != nil {
			s.logger.Warn("section fetch failed", zap.String("section", section.name), zap.Error(err))
			skipped++
			continue
		}
		links, sk := s.documentLinks(sectionDoc, sectionURL)
		all = append(all, links...)
		skipped += sk
	}

	return harvest.Discovery{
		Links:   dedupeByURL(filterByType(all, docTypes)),
		Skipped: skipped,
	}, nil
}
