// Package scraper implements the per-institution document scrapers.
//
// All variants share one contract (Discover, Materialize) and the same
// helpers; they differ only in how they walk an institution's site to find
// document links.
package scraper

import (
	"bytes"
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/canary-data/docharvester/internal/categorize"
	"github.com/canary-data/docharvester/internal/harvest"
	"github.com/canary-data/docharvester/internal/retry"
)

// documentExtensions are the file extensions treated as downloadable
// documents.
var documentExtensions = []string{".pdf", ".doc", ".docx", ".xls", ".xlsx", ".txt", ".rtf"}

// documentURLHints mark document pages that lack an extension.
var documentURLHints = []string{"documento", "formulario", "modelo", "impreso", "download"}

// datePattern matches dd/mm/yyyy or dd-mm-yyyy near a link.
var datePattern = regexp.MustCompile(`\b(\d{2})[/-](\d{2})[/-](\d{4})\b`)

type sectionLink struct {
	url  string
	name string
}

// base carries the shared dependencies and helpers of every variant.
type base struct {
	cfg     harvest.SourceConfig
	fetcher harvest.Fetcher
	policy  retry.Policy
	logger  *zap.Logger
}

func newBase(cfg harvest.SourceConfig, fetcher harvest.Fetcher, policy retry.Policy, logger *zap.Logger) base {
	// Per-source politeness settings take precedence over the global policy.
	if cfg.MaxRetries > 0 {
		policy.MaxAttempts = cfg.MaxRetries
	}
	return base{
		cfg:     cfg,
		fetcher: fetcher,
		policy:  policy,
		logger:  logger.With(zap.String("institution", cfg.ID)),
	}
}

// Institution returns the configured institution identifier.
func (b *base) Institution() string { return b.cfg.ID }

// fetch runs one retried fetch, bounding every attempt by the source's own
// timeout when one is configured.
func (b *base) fetch(ctx context.Context, rawURL string) (harvest.FetchResult, error) {
	return retry.Do(ctx, b.policy, func(ctx context.Context) (harvest.FetchResult, error) {
		if b.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
			defer cancel()
		}
		return b.fetcher.Fetch(ctx, rawURL)
	})
}

// fetchPage fetches an HTML page with retries and parses it.
func (b *base) fetchPage(ctx context.Context, pageURL string) (*goquery.Document, string, error) {
	res, err := b.fetch(ctx, pageURL)
	if err != nil {
		return nil, "", err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return nil, "", &harvest.ParseError{URL: pageURL, Reason: err.Error()}
	}
	return doc, res.FinalURL, nil
}

// Materialize fetches the candidate's bytes, delegating to the fetcher with
// retries, and validates that the body looks like a real document rather
// than an HTML error page.
func (b *base) Materialize(ctx context.Context, link harvest.CandidateLink) (harvest.RawDocument, error) {
	res, err := b.fetch(ctx, link.URL)
	if err != nil {
		return harvest.RawDocument{}, err
	}
	contentType := res.Headers.Get("Content-Type")
	if err := validateBody(link.URL, res.Body); err != nil {
		return harvest.RawDocument{}, err
	}
	return harvest.RawDocument{
		Bytes:           res.Body,
		ContentType:     contentType,
		FinalURL:        res.FinalURL,
		PublicationDate: link.PublicationDate,
	}, nil
}

// validateBody rejects empty downloads and HTML error pages masquerading as
// documents.
func validateBody(rawURL string, body []byte) error {
	if len(body) == 0 {
		return &harvest.ParseError{URL: rawURL, Reason: "empty body"}
	}
	ext := urlExtension(rawURL)
	if ext == ".pdf" && !bytes.HasPrefix(body, []byte("%PDF-")) {
		return &harvest.ParseError{URL: rawURL, Reason: "not a pdf"}
	}
	if ext != "" && ext != ".txt" {
		head := bytes.ToLower(body[:min(len(body), 256)])
		if bytes.Contains(head, []byte("<html")) || bytes.Contains(head, []byte("<!doctype")) {
			return &harvest.ParseError{URL: rawURL, Reason: "html error page"}
		}
	}
	return nil
}

// documentLinks extracts candidate document links from a parsed page.
// Malformed links are skipped and counted, never fatal.
func (b *base) documentLinks(doc *goquery.Document, baseURL string) ([]harvest.CandidateLink, int) {
	return b.documentLinksIn(doc.Selection, baseURL)
}

func (b *base) documentLinksIn(sel *goquery.Selection, baseURL string) ([]harvest.CandidateLink, int) {
	var links []harvest.CandidateLink
	skipped := 0
	sel.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		full, err := resolveURL(baseURL, href)
		if err != nil {
			skipped++
			b.logger.Debug("skipping malformed link", zap.String("href", href), zap.Error(err))
			return
		}
		if !isDocumentURL(full) {
			return
		}
		title := strings.TrimSpace(a.Text())
		if title == "" {
			title, _ = a.Attr("title")
		}
		if title == "" {
			skipped++
			return
		}
		links = append(links, harvest.CandidateLink{
			URL:             full,
			Title:           title,
			DeclaredType:    declaredType(full),
			PublicationDate: publicationDateNear(a),
			SourceURL:       baseURL,
		})
	})
	return links, skipped
}

// sectionLinks finds in-site navigation links whose text matches any of the
// given keywords, capped at limit.
func (b *base) sectionLinks(doc *goquery.Document, baseURL string, keywords []string, limit int) []sectionLink {
	var sections []sectionLink
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		text := categorize.Normalize(strings.TrimSpace(a.Text()))
		if text == "" {
			return true
		}
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				href, _ := a.Attr("href")
				full, err := resolveURL(baseURL, href)
				if err != nil {
					break
				}
				sections = append(sections, sectionLink{url: full, name: strings.TrimSpace(a.Text())})
				break
			}
		}
		return len(sections) < limit
	})
	return sections
}

// publicationDateNear sniffs a dd/mm/yyyy date from the link's parent
// markup, normalizing it to ISO form.
func publicationDateNear(a *goquery.Selection) string {
	parent := a.Parent()
	if parent == nil {
		return ""
	}
	m := datePattern.FindStringSubmatch(parent.Text())
	if m == nil {
		return ""
	}
	return m[3] + "-" + m[2] + "-" + m[1]
}

// filterByType keeps only candidates whose declared type matches one of
// docTypes. A nil or empty docTypes means all types.
func filterByType(links []harvest.CandidateLink, docTypes []string) []harvest.CandidateLink {
	if len(docTypes) == 0 {
		return links
	}
	var out []harvest.CandidateLink
	for _, link := range links {
		declared := strings.ToLower(link.DeclaredType)
		for _, dt := range docTypes {
			if strings.Contains(declared, strings.ToLower(dt)) {
				out = append(out, link)
				break
			}
		}
	}
	return out
}

// dedupeByURL drops repeated candidates, preserving first-seen order.
func dedupeByURL(links []harvest.CandidateLink) []harvest.CandidateLink {
	seen := make(map[string]struct{}, len(links))
	out := links[:0]
	for _, link := range links {
		if _, ok := seen[link.URL]; ok {
			continue
		}
		seen[link.URL] = struct{}{}
		out = append(out, link)
	}
	return out
}

func resolveURL(baseURL, href string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	resolved := base.ResolveReference(ref)
	resolved.Fragment = ""
	return resolved.String(), nil
}

// isDocumentURL reports whether the URL points at a downloadable document.
func isDocumentURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	if urlExtension(lower) != "" {
		return true
	}
	for _, hint := range documentURLHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// urlExtension returns the document extension of the URL path, or "".
func urlExtension(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	lower := strings.ToLower(parsed.Path)
	for _, ext := range documentExtensions {
		if strings.HasSuffix(lower, ext) {
			return ext
		}
	}
	return ""
}

// declaredType derives the source-declared document type from the URL.
func declaredType(rawURL string) string {
	switch urlExtension(rawURL) {
	case ".pdf":
		return "PDF"
	case ".doc", ".docx":
		return "Word"
	case ".xls", ".xlsx":
		return "Excel"
	case ".txt", ".rtf":
		return "Texto"
	default:
		return ""
	}
}

func areaURL(baseURL, area string) string {
	return strings.TrimRight(baseURL, "/") + "/" + strings.Trim(area, "/") + "/"
}
