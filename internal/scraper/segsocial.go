package scraper

import (
	"context"

	"go.uber.org/zap"

	"github.com/canary-data/docharvester/internal/harvest"
)

// segSocialSectionHints identify form-and-download containers on the
// social-security portal.
var segSocialSectionHints = []string{"documento", "formulario", "modelo", "descarga"}

// SegSocial scrapes the social-security agency portal. Its configured areas
// map onto fixed path segments under the base URL.
type SegSocial struct {
	base
}

// Discover implements harvest.Scraper.
func (s *SegSocial) Discover(ctx context.Context, docTypes []string) (harvest.Discovery, error) {
	var all []harvest.CandidateLink
	skipped := 0
	var firstErr error

	for _, area := range s.cfg.Areas {
		if ctx.Err() != nil {
			return harvest.Discovery{}, ctx.Err()
		}
		pageURL := areaURL(s.cfg.BaseURL, area)
		doc, finalURL, err := s.fetchPage(ctx, pageURL)
		if err != nil {
			s.logger.Warn("area fetch failed", zap.String("area", area), zap.Error(err))
			skipped++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		links, sk := s.classFilteredLinks(doc, finalURL, segSocialSectionHints)
		all = append(all, links...)
		skipped += sk
	}

	if len(all) == 0 && firstErr != nil {
		return harvest.Discovery{}, firstErr
	}
	return harvest.Discovery{
		Links:   dedupeByURL(filterByType(all, docTypes)),
		Skipped: skipped,
	}, nil
}
