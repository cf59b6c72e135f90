package scraper

import (
	"context"

	"go.uber.org/zap"

	"github.com/canary-data/docharvester/internal/harvest"
)

// haciendaSectionKeywords identify tax-form sections on the Hacienda
// Canarias portal.
var haciendaSectionKeywords = []string{"modelo", "impreso", "formulario", "declaracion", "liquidacion"}

const haciendaMaxSections = 10

// Hacienda scrapes the regional tax authority. It walks the portal's main
// page, follows sections whose link text names tax forms, and collects
// document links from both the sections and the main page itself.
type Hacienda struct {
	base
}

// Discover implements harvest.Scraper.
func (s *Hacienda) Discover(ctx context.Context, docTypes []string) (harvest.Discovery, error) {
	doc, finalURL, err := s.fetchPage(ctx, s.cfg.BaseURL)
	if err != nil {
		return harvest.Discovery{}, err
	}

	var all []harvest.CandidateLink
	skipped := 0

	for _, section := range s.sectionLinks(doc, finalURL, haciendaSectionKeywords, haciendaMaxSections) {
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

	mainLinks, sk := s.documentLinks(doc, finalURL)
	all = append(all, mainLinks...)
	skipped += sk

	return harvest.Discovery{
		Links:   dedupeByURL(filterByType(all, docTypes)),
		Skipped: skipped,
	}, nil
}
