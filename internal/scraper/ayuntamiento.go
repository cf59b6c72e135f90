package scraper

import (
	"context"

	"go.uber.org/zap"

	"github.com/canary-data/docharvester/internal/harvest"
)

// ayuntamientoSectionKeywords identify business-procedure pages on
// municipal sites.
var ayuntamientoSectionKeywords = []string{
	"licencia", "tramite", "empresa", "actividad", "apertura",
	"municipal", "impuesto", "tasa", "registro",
}

const ayuntamientoMaxSections = 6

// Ayuntamiento scrapes municipal government sites, following their
// business-procedure pages.
type Ayuntamiento struct {
	base
}

// Discover implements harvest.Scraper.
func (s *Ayuntamiento) Discover(ctx context.Context, docTypes []string) (harvest.Discovery, error) {
	doc, finalURL, err := s.fetchPage(ctx, s.cfg.BaseURL)
	if err != nil {
		return harvest.Discovery{}, err
	}

	var all []harvest.CandidateLink
	skipped := 0

	for _, section := range s.sectionLinks(doc, finalURL, ayuntamientoSectionKeywords, ayuntamientoMaxSections) {
		if ctx.Err() != nil {
			return harvest.Discovery{}, ctx.Err()
		}
		pageDoc, pageURL, err := s.fetchPage(ctx, section.url)
		if err != nil {
			s.logger.Warn("procedure page fetch failed", zap.String("page", section.name), zap.Error(err))
			skipped++
			continue
		}
		links, sk := s.documentLinks(pageDoc, pageURL)
		all = append(all, links...)
		skipped += sk
	}

	return harvest.Discovery{
		Links:   dedupeByURL(filterByType(all, docTypes)),
		Skipped: skipped,
	}, nil
}
