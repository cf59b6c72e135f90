// Package storage persists document bytes and run metadata to disk.
//
// Document bytes land under a directory named for their category. Metadata
// records are buffered in memory and flushed once, at run end, as one JSON
// object per line; the run summary is a single JSON object written next to
// them. No partial metadata file is ever left behind.
package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/canary-data/docharvester/internal/harvest"
)

const (
	metadataFile = "metadata.jsonl"
	summaryFile  = "summary.json"
)

// mimeExtensions maps Content-Type values onto document extensions when the
// URL path carries none.
var mimeExtensions = map[string]string{
	"application/pdf":    ".pdf",
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
	"application/vnd.ms-excel": ".xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": ".xlsx",
	"text/plain":      ".txt",
	"application/rtf": ".rtf",
	"text/csv":        ".csv",
}

var unsafeFilenameChars = regexp.MustCompile(`[^\w\s-]`)
var filenameSeparators = regexp.MustCompile(`[-\s]+`)

// Store is the run-scoped persistence layer.
type Store struct {
	root   string
	logger *zap.Logger

	mu      sync.Mutex
	records []harvest.DocumentRecord
}

// New validates the output directory and returns a Store. An unwritable
// directory is a configuration error and fails before any fetching starts.
func New(root string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create output directory %s: %w", root, err)
	}
	probe := filepath.Join(root, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("output directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up writability probe: %w", err)
	}
	return &Store{root: root, logger: logger}, nil
}

// SaveDocument writes document bytes under the category directory and
// returns the path relative to the store root.
func (s *Store) SaveDocument(category, filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty document body")
	}
	dir := filepath.Join(s.root, category)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create category dir %s: %w", dir, err)
	}
	target := filepath.Join(dir, filename)
	if err := os.WriteFile(target, data, 0o600); err != nil {
		return "", fmt.Errorf("write document %s: %w", target, err)
	}
	rel, err := filepath.Rel(s.root, target)
	if err != nil {
		return "", fmt.Errorf("relativize %s: %w", target, err)
	}
	return rel, nil
}

// Append buffers a record for the final metadata flush. Records from one
// institution arrive in discovery order; interleaving across institutions
// carries no ordering guarantee.
func (s *Store) Append(rec harvest.DocumentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

// Records returns a snapshot of the buffered records.
func (s *Store) Records() []harvest.DocumentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]harvest.DocumentRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Flush writes metadata.jsonl and summary.json. This is the only point at
// which metadata becomes durable.
func (s *Store) Flush(summary harvest.RunSummary) error {
	s.mu.Lock()
	records := make([]harvest.DocumentRecord, len(s.records))
	copy(records, s.records)
	s.mu.Unlock()

	if err := s.writeMetadata(records); err != nil {
		return err
	}
	return s.writeSummary(summary)
}

func (s *Store) writeMetadata(records []harvest.DocumentRecord) error {
	target := filepath.Join(s.root, metadataFile)
	tmp := target + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return fmt.Errorf("encode record %s: %w", rec.ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("flush metadata: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close metadata: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("finalize metadata: %w", err)
	}
	s.logger.Info("metadata flushed", zap.Int("records", len(records)), zap.String("path", target))
	return nil
}

func (s *Store) writeSummary(summary harvest.RunSummary) error {
	payload, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	target := filepath.Join(s.root, summaryFile)
	if err := os.WriteFile(target, payload, 0o600); err != nil {
		return fmt.Errorf("write summary %s: %w", target, err)
	}
	return nil
}

// LoadRecords reads a prior run's metadata.jsonl, used to seed the dedup
// index. A missing file is not an error.
func LoadRecords(root string) ([]harvest.DocumentRecord, error) {
	f, err := os.Open(filepath.Join(root, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open prior metadata: %w", err)
	}
	defer func() { _ = f.Close() }()

	var records []harvest.DocumentRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec harvest.DocumentRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			// A corrupt line should not poison the seed.
			continue
		}
		if rec.ID != "" {
			records = append(records, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read prior metadata: %w", err)
	}
	return records, nil
}

// Filename derives the on-disk name for a document from its title, digest
// and extension.
func Filename(title, digest, ext string) string {
	clean := unsafeFilenameChars.ReplaceAllString(title, "")
	clean = filenameSeparators.ReplaceAllString(strings.TrimSpace(clean), "_")
	if len(clean) > 50 {
		clean = clean[:50]
	}
	if len(clean) > 3 {
		return fmt.Sprintf("%s_%s%s", clean, shortDigest(digest, 8), ext)
	}
	return fmt.Sprintf("doc_%s%s", shortDigest(digest, 12), ext)
}

func shortDigest(digest string, n int) string {
	if len(digest) < n {
		return digest
	}
	return digest[:n]
}

// FileExtension infers the document extension from the URL path, falling
// back to the response Content-Type.
func FileExtension(rawURL, contentType string) string {
	if idx := strings.LastIndex(rawURL, "."); idx >= 0 {
		ext := strings.ToLower(rawURL[idx:])
		if cut := strings.IndexAny(ext, "?#"); cut >= 0 {
			ext = ext[:cut]
		}
		for _, known := range []string{".pdf", ".doc", ".docx", ".xls", ".xlsx", ".txt", ".rtf", ".csv"} {
			if ext == known {
				return known
			}
		}
	}
	if contentType != "" {
		mt, _, err := mime.ParseMediaType(contentType)
		if err == nil {
			if ext, ok := mimeExtensions[mt]; ok {
				return ext
			}
		}
	}
	return ".bin"
}
