package scraper

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/canary-data/docharvester/internal/harvest"
)

// gobcanSectionHints identify downloadable-content containers on the
// regional government portal.
var gobcanSectionHints = []string{"documento", "descarga", "archivo", "pdf"}

// Gobcan scrapes the regional government portal. Each configured area is a
// path segment under the base URL; documents live inside containers whose
// class names hint at downloads.
type Gobcan struct {
	base
}

// Discover implements harvest.Scraper.
func (s *Gobcan) Discover(ctx context.Context, docTypes []string) (harvest.Discovery, error) {
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
		links, sk := s.classFilteredLinks(doc, finalURL, gobcanSectionHints)
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

// classFilteredLinks collects document links inside div/section containers
// whose class attribute mentions any of the hints.
func (b *base) classFilteredLinks(doc *goquery.Document, baseURL string, hints []string) ([]harvest.CandidateLink, int) {
	var links []harvest.CandidateLink
	skipped := 0
	doc.Find("div[class], section[class]").Each(func(_ int, sel *goquery.Selection) {
		class, _ := sel.Attr("class")
		lower := strings.ToLower(class)
		for _, hint := range hints {
			if strings.Contains(lower, hint) {
				found, sk := b.documentLinksIn(sel, baseURL)
				links = append(links, found...)
				skipped += sk
				break
			}
		}
	})
	return links, skipped
}
