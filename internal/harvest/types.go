// Package harvest defines core types shared across subsystems.
package harvest

import (
	"context"
	"net/http"
	"time"
)

// SourceConfig is the static per-institution configuration. It is owned by
// the configuration layer and read-only to the pipeline.
type SourceConfig struct {
	ID              string        `mapstructure:"id" json:"id"`
	BaseURL         string        `mapstructure:"base_url" json:"base_url"`
	Areas           []string      `mapstructure:"areas" json:"areas"`
	Variant         string        `mapstructure:"variant" json:"variant"`
	DefaultCategory string        `mapstructure:"default_category" json:"default_category"`
	Priority        int           `mapstructure:"priority" json:"priority"`
	MaxDocuments    int           `mapstructure:"max_documents" json:"max_documents"`
	Delay           time.Duration `mapstructure:"delay" json:"delay"`
	Timeout         time.Duration `mapstructure:"timeout" json:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries" json:"max_retries"`
}

// CandidateLink is a discovered document URL plus the metadata the source
// page declared for it. It has not been fetched yet.
type CandidateLink struct {
	URL             string
	Title           string
	DeclaredType    string
	PublicationDate string
	SourceURL       string
}

// Discovery is the result of a scraper's link-discovery pass. Malformed
// links are skipped, never fatal, and surface only in Skipped.
type Discovery struct {
	Links   []CandidateLink
	Skipped int
}

// RawDocument holds the fetched bytes of a candidate plus source metadata.
type RawDocument struct {
	Bytes           []byte
	ContentType     string
	FinalURL        string
	PublicationDate string
}

// FetchResult is the outcome of a single successful HTTP GET.
type FetchResult struct {
	StatusCode int
	Body       []byte
	FinalURL   string
	Headers    http.Header
}

// Fetcher issues a single polite HTTP GET.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (FetchResult, error)
}

// Scraper is the polymorphic per-institution contract. Variants differ only
// in their link-extraction rules; the output shape is shared.
type Scraper interface {
	// Institution returns the configured institution identifier.
	Institution() string
	// Discover walks the institution's entry pages and returns candidate
	// document links, optionally filtered by declared type. A nil or empty
	// docTypes slice means all types.
	Discover(ctx context.Context, docTypes []string) (Discovery, error)
	// Materialize fetches the candidate's bytes and extracts source-specific
	// metadata.
	Materialize(ctx context.Context, link CandidateLink) (RawDocument, error)
}

// DocumentMetadata is the nested metadata block persisted per record.
type DocumentMetadata struct {
	PublicationDate string `json:"publication_date,omitempty"`
	LastUpdated     string `json:"last_updated,omitempty"`
	FileType        string `json:"file_type"`
}

// DocumentRecord is the unit of output. Its ID is the content digest of the
// document bytes, so two records with equal bytes have equal IDs. Records
// are immutable once created.
type DocumentRecord struct {
	ID           string           `json:"document_id"`
	Title        string           `json:"title"`
	Institution  string           `json:"institution"`
	DocumentType string           `json:"document_type"`
	Category     string           `json:"category"`
	DownloadURL  string           `json:"download_url"`
	LocalPath    string           `json:"local_path"`
	SourceURL    string           `json:"source_url,omitempty"`
	FetchedAt    time.Time        `json:"fetched_at"`
	Metadata     DocumentMetadata `json:"metadata"`
}

// RunSummary aggregates the counters of one pipeline run. It is written
// once, at run end.
type RunSummary struct {
	RunID             string         `json:"run_id"`
	StartedAt         time.Time      `json:"started_at"`
	FinishedAt        time.Time      `json:"finished_at"`
	TotalDocuments    int            `json:"total_documents"`
	DuplicatesSkipped int            `json:"duplicates_skipped"`
	Categories        map[string]int `json:"categories"`
	Institutions      map[string]int `json:"institutions"`
	Errors            map[string]int `json:"errors"`
}
