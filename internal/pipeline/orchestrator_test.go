package pipeline

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/canary-data/docharvester/internal/categorize"
	"github.com/canary-data/docharvester/internal/dedup"
	"github.com/canary-data/docharvester/internal/harvest"
	"github.com/canary-data/docharvester/internal/retry"
	"github.com/canary-data/docharvester/internal/scraper"
	"github.com/canary-data/docharvester/internal/storage"
)

// stubFetcher serves canned responses by URL and counts fetches.
type stubFetcher struct {
	mu      sync.Mutex
	pages   map[string]harvest.FetchResult
	fetches atomic.Int32
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{pages: make(map[string]harvest.FetchResult)}
}

func (f *stubFetcher) add(url, contentType string, body []byte) {
	f.pages[url] = harvest.FetchResult{
		StatusCode: http.StatusOK,
		Body:       body,
		FinalURL:   url,
		Headers:    http.Header{"Content-Type": []string{contentType}},
	}
}

func (f *stubFetcher) Fetch(_ context.Context, rawURL string) (harvest.FetchResult, error) {
	f.fetches.Add(1)
	f.mu.Lock()
	res, ok := f.pages[rawURL]
	f.mu.Unlock()
	if !ok {
		return harvest.FetchResult{}, &harvest.FetchError{
			Kind:       harvest.FetchHTTPError,
			StatusCode: http.StatusNotFound,
			URL:        rawURL,
		}
	}
	return res, nil
}

func testSources(maxDocs int) map[string]harvest.SourceConfig {
	return map[string]harvest.SourceConfig{
		"hacienda_canarias": {
			ID:              "hacienda_canarias",
			BaseURL:         "https://hacienda.test/",
			Variant:         "hacienda",
			DefaultCategory: "fiscal",
			Priority:        1,
			MaxDocuments:    maxDocs,
		},
	}
}

func buildTestOrchestrator(t *testing.T, f harvest.Fetcher, sources map[string]harvest.SourceConfig) (*Orchestrator, string) {
	t.Helper()

	reg, err := scraper.NewRegistry(sources, scraper.Deps{
		Fetcher: f,
		Policy:  retry.Policy{MaxAttempts: 1},
		Logger:  zap.NewNop(),
	})
	require.NoError(t, err)

	dir := t.TempDir()
	store, err := storage.New(dir, zap.NewNop())
	require.NoError(t, err)

	orch := New(reg, dedup.NewIndex(), categorize.New(categorize.DefaultsFromSources(sources)), store, zap.NewNop())
	return orch, dir
}

func haciendaFixture() *stubFetcher {
	f := newStubFetcher()
	f.add("https://hacienda.test/", "text/html", []byte(`<html><body>
		<a href="/docs/modelo-420.pdf">Modelo 420 IGIC</a>
		<a href="/docs/roto.pdf">Impreso roto</a>
		<a href="/docs/copia.pdf">Modelo 420 copia</a>
		<a href="/docs/guia-licencias.pdf">Guia de licencia de apertura municipal</a>
	</body></html>`))
	f.add("https://hacienda.test/docs/modelo-420.pdf", "application/pdf", []byte("%PDF-1.4 contenido modelo"))
	f.add("https://hacienda.test/docs/roto.pdf", "text/html", []byte("<!DOCTYPE html><html>404</html>"))
	// Same bytes as modelo-420, so content dedup rejects it.
	f.add("https://hacienda.test/docs/copia.pdf", "application/pdf", []byte("%PDF-1.4 contenido modelo"))
	f.add("https://hacienda.test/docs/guia-licencias.pdf", "application/pdf", []byte("%PDF-1.4 guia licencias"))
	return f
}

func TestRun_PartialFailuresDoNotAbort(t *testing.T) {
	t.Parallel()

	f := haciendaFixture()
	orch, dir := buildTestOrchestrator(t, f, testSources(50))

	summary, err := orch.Run(context.Background(), Options{Concurrency: 2})
	require.NoError(t, err)

	require.Equal(t, 2, summary.TotalDocuments)
	require.Equal(t, 1, summary.DuplicatesSkipped)
	require.Equal(t, 1, summary.Errors["parse_error"])
	require.Equal(t, 2, summary.Institutions["hacienda_canarias"])
	require.NotEmpty(t, summary.RunID)
	require.False(t, summary.FinishedAt.Before(summary.StartedAt))

	// The failed candidate must not stop the later ones from persisting.
	records, err := storage.LoadRecords(dir)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "Modelo 420 IGIC", records[0].Title)
	require.Equal(t, "Guia de licencia de apertura municipal", records[1].Title)
	require.Equal(t, "fiscal", records[0].Category)
	require.Equal(t, "municipal", records[1].Category)

	for _, rec := range records {
		_, err := os.Stat(filepath.Join(dir, rec.LocalPath))
		require.NoError(t, err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "summary.json"))
	require.NoError(t, err)
	require.Contains(t, string(raw), summary.RunID)
}

func TestRun_UnknownInstitutionFailsBeforeAnyFetch(t *testing.T) {
	t.Parallel()

	f := haciendaFixture()
	orch, _ := buildTestOrchestrator(t, f, testSources(50))

	_, err := orch.Run(context.Background(), Options{
		Institutions: []string{"hacienda_canarias", "sepe_canarias"},
	})
	require.ErrorIs(t, err, harvest.ErrUnknownInstitution)
	require.Equal(t, int32(0), f.fetches.Load())
}

func TestRun_DocumentCapRespected(t *testing.T) {
	t.Parallel()

	f := haciendaFixture()
	orch, _ := buildTestOrchestrator(t, f, testSources(1))

	summary, err := orch.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, 1, summary.TotalDocuments)
}

func TestRun_CancelledContextStillWritesSummary(t *testing.T) {
	t.Parallel()

	f := haciendaFixture()
	orch, dir := buildTestOrchestrator(t, f, testSources(50))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := orch.Run(ctx, Options{})
	require.NoError(t, err)
	require.Equal(t, 0, summary.TotalDocuments)

	_, err = os.Stat(filepath.Join(dir, "summary.json"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "metadata.jsonl"))
	require.NoError(t, err)
}

func TestRun_FailedPersistDoesNotCountLaterIdenticalBodyAsDuplicate(t *testing.T) {
	t.Parallel()

	f := newStubFetcher()
	f.add("https://hacienda.test/", "text/html", []byte(`<html><body>
		<a href="/docs/modelo-a.pdf">Modelo A</a>
		<a href="/docs/modelo-b.pdf">Modelo B</a>
	</body></html>`))
	// Identical bytes, so only a persisted first copy may shadow the second.
	f.add("https://hacienda.test/docs/modelo-a.pdf", "application/pdf", []byte("%PDF-1.4 mismo contenido"))
	f.add("https://hacienda.test/docs/modelo-b.pdf", "application/pdf", []byte("%PDF-1.4 mismo contenido"))

	orch, dir := buildTestOrchestrator(t, f, testSources(50))

	// A file where the category directory should go makes every persist fail.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fiscal"), []byte("x"), 0o600))

	summary, err := orch.Run(context.Background(), Options{})
	require.NoError(t, err)

	require.Equal(t, 0, summary.TotalDocuments)
	require.Equal(t, 0, summary.DuplicatesSkipped)
	require.Equal(t, 2, summary.Errors["storage_error"])
}

func TestRun_SeededIndexMakesRerunIdempotent(t *testing.T) {
	t.Parallel()

	f := haciendaFixture()
	sources := testSources(50)

	reg, err := scraper.NewRegistry(sources, scraper.Deps{
		Fetcher: f,
		Policy:  retry.Policy{MaxAttempts: 1},
		Logger:  zap.NewNop(),
	})
	require.NoError(t, err)

	dir := t.TempDir()
	cat := categorize.New(categorize.DefaultsFromSources(sources))

	firstStore, err := storage.New(dir, zap.NewNop())
	require.NoError(t, err)
	first := New(reg, dedup.NewIndex(), cat, firstStore, zap.NewNop())
	firstSummary, err := first.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, 2, firstSummary.TotalDocuments)

	prior, err := storage.LoadRecords(dir)
	require.NoError(t, err)
	seeded := dedup.NewIndex()
	seeded.Seed(prior)

	secondStore, err := storage.New(dir, zap.NewNop())
	require.NoError(t, err)
	second := New(reg, seeded, cat, secondStore, zap.NewNop())
	secondSummary, err := second.Run(context.Background(), Options{})
	require.NoError(t, err)

	require.Equal(t, 0, secondSummary.TotalDocuments)
	require.Equal(t, 3, secondSummary.DuplicatesSkipped)
}
