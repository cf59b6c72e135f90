// Package pipeline runs the harvest: it resolves scrapers, fans out across
// institutions under a bounded worker pool, and funnels every fetched
// document through deduplication, categorization and storage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/canary-data/docharvester/internal/categorize"
	"github.com/canary-data/docharvester/internal/dedup"
	"github.com/canary-data/docharvester/internal/harvest"
	"github.com/canary-data/docharvester/internal/metrics"
	"github.com/canary-data/docharvester/internal/scraper"
	"github.com/canary-data/docharvester/internal/storage"
)

// Options tune one pipeline run.
type Options struct {
	// Institutions selects which sources to harvest. Empty means all
	// registered, in priority order.
	Institutions []string
	// DocTypes filters candidates by declared type. Empty means all.
	DocTypes []string
	// Concurrency bounds how many institutions are harvested in parallel.
	Concurrency int
}

// Orchestrator wires the run-scoped collaborators together.
type Orchestrator struct {
	registry    *scraper.Registry
	index       *dedup.Index
	categorizer *categorize.Categorizer
	store       *storage.Store
	logger      *zap.Logger
}

// New builds an Orchestrator.
func New(reg *scraper.Registry, index *dedup.Index, cat *categorize.Categorizer, store *storage.Store, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		registry:    reg,
		index:       index,
		categorizer: cat,
		store:       store,
		logger:      logger,
	}
}

// tally accumulates run counters under a single mutex. Workers touch it
// briefly per document, never while holding a network call open.
type tally struct {
	mu           sync.Mutex
	documents    int
	duplicates   int
	categories   map[string]int
	institutions map[string]int
	errors       map[string]int
}

func newTally() *tally {
	return &tally{
		categories:   make(map[string]int),
		institutions: make(map[string]int),
		errors:       make(map[string]int),
	}
}

func (t *tally) document(institution, category string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.documents++
	t.categories[category]++
	t.institutions[institution]++
}

func (t *tally) duplicate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.duplicates++
}

func (t *tally) failure(kind string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errors[kind]++
}

// Run executes one harvest. Every selected institution is resolved before
// any network traffic so that a misconfigured selection fails fast. Partial
// failures inside a run are counted, logged and never abort the run; the
// summary and metadata are flushed even when ctx is cancelled mid-flight.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (harvest.RunSummary, error) {
	ids := opts.Institutions
	if len(ids) == 0 {
		ids = o.registry.Institutions()
	}

	scrapers := make([]harvest.Scraper, 0, len(ids))
	for _, id := range ids {
		s, err := o.registry.Resolve(id)
		if err != nil {
			return harvest.RunSummary{}, fmt.Errorf("resolve institutions: %w", err)
		}
		scrapers = append(scrapers, s)
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	summary := harvest.RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	o.logger.Info("run started",
		zap.String("run_id", summary.RunID),
		zap.Strings("institutions", ids),
		zap.Int("concurrency", concurrency),
	)

	counters := newTally()
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for _, s := range scrapers {
		wg.Add(1)
		go func(s harvest.Scraper) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			o.harvestInstitution(ctx, s, opts.DocTypes, counters)
		}(s)
	}
	wg.Wait()

	counters.mu.Lock()
	summary.FinishedAt = time.Now().UTC()
	summary.TotalDocuments = counters.documents
	summary.DuplicatesSkipped = counters.duplicates
	summary.Categories = counters.categories
	summary.Institutions = counters.institutions
	summary.Errors = counters.errors
	counters.mu.Unlock()

	if err := o.store.Flush(summary); err != nil {
		return summary, fmt.Errorf("flush run output: %w", err)
	}

	o.logger.Info("run finished",
		zap.String("run_id", summary.RunID),
		zap.Int("documents", summary.TotalDocuments),
		zap.Int("duplicates_skipped", summary.DuplicatesSkipped),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)),
	)
	return summary, nil
}

func (o *Orchestrator) harvestInstitution(ctx context.Context, s harvest.Scraper, docTypes []string, counters *tally) {
	id := s.Institution()
	log := o.logger.With(zap.String("institution", id))

	discovery, err := s.Discover(ctx, docTypes)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn("discovery interrupted")
			return
		}
		log.Error("discovery failed", zap.Error(err))
		kind := harvest.ErrorKind(err)
		counters.failure(kind)
		metrics.ObserveError(id, kind)
		return
	}
	for range discovery.Skipped {
		counters.failure("parse_error")
		metrics.ObserveError(id, "parse_error")
	}
	log.Info("discovery complete",
		zap.Int("candidates", len(discovery.Links)),
		zap.Int("skipped", discovery.Skipped),
	)

	maxDocs := 0
	if src, ok := o.registry.Source(id); ok {
		maxDocs = src.MaxDocuments
	}

	persisted := 0
	for _, link := range discovery.Links {
		if ctx.Err() != nil {
			log.Warn("harvest interrupted", zap.Int("persisted", persisted))
			return
		}
		if maxDocs > 0 && persisted >= maxDocs {
			log.Info("document cap reached", zap.Int("cap", maxDocs))
			return
		}
		if o.processCandidate(ctx, s, link, counters, log) {
			persisted++
		}
	}
}

// processCandidate takes one candidate from fetch to durable record. It
// reports whether a new document was persisted.
func (o *Orchestrator) processCandidate(ctx context.Context, s harvest.Scraper, link harvest.CandidateLink, counters *tally, log *zap.Logger) bool {
	id := s.Institution()

	raw, err := s.Materialize(ctx, link)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false
		}
		log.Warn("document fetch failed", zap.String("url", link.URL), zap.Error(err))
		kind := harvest.ErrorKind(err)
		counters.failure(kind)
		metrics.ObserveError(id, kind)
		return false
	}

	admission := o.index.Admit(raw.Bytes)
	if !admission.Admitted {
		log.Debug("duplicate skipped",
			zap.String("url", link.URL),
			zap.String("digest", admission.Digest),
		)
		counters.duplicate()
		metrics.ObserveDuplicate(id)
		return false
	}

	category := o.categorizer.Categorize(link.Title, urlPath(link.URL), id, link.DeclaredType)
	ext := storage.FileExtension(raw.FinalURL, raw.ContentType)
	filename := storage.Filename(link.Title, admission.Digest, ext)

	localPath, err := o.store.SaveDocument(category, filename, raw.Bytes)
	if err != nil {
		// Nothing was persisted, so the digest must not shadow a later
		// identical body as a duplicate.
		o.index.Release(admission.Digest)
		log.Error("document write failed", zap.String("url", link.URL), zap.Error(err))
		counters.failure("storage_error")
		metrics.ObserveError(id, "storage_error")
		return false
	}

	rec := harvest.DocumentRecord{
		ID:           admission.Digest,
		Title:        link.Title,
		Institution:  id,
		DocumentType: link.DeclaredType,
		Category:     category,
		DownloadURL:  link.URL,
		LocalPath:    localPath,
		SourceURL:    link.SourceURL,
		FetchedAt:    time.Now().UTC(),
		Metadata: harvest.DocumentMetadata{
			PublicationDate: firstNonEmpty(raw.PublicationDate, link.PublicationDate),
			FileType:        ext,
		},
	}
	o.index.Bind(rec)
	o.store.Append(rec)

	counters.document(id, category)
	metrics.ObserveDocument(id, category)
	log.Info("document persisted",
		zap.String("title", link.Title),
		zap.String("category", category),
		zap.String("path", localPath),
	)
	return true
}

func urlPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Path
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
