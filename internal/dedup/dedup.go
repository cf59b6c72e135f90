// Package dedup provides the content-addressed admission index.
//
// Identity is the SHA-256 digest of the raw document bytes. Admission is
// atomic: under concurrent attempts for identical bytes exactly one caller
// is admitted, all others are rejected with a reference to the admitted
// record.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"sync/atomic"

	"github.com/canary-data/docharvester/internal/harvest"
)

// Admission is the outcome of an admission check.
type Admission struct {
	Digest   string
	Admitted bool
	// Existing references the first-seen record for rejected digests. It may
	// be nil if the admitting worker has not persisted its record yet.
	Existing *harvest.DocumentRecord
}

type entry struct {
	record atomic.Pointer[harvest.DocumentRecord]
}

// Index is the process-scoped digest index. Zero value is ready to use; it
// lives for one pipeline run unless seeded from prior metadata.
type Index struct {
	seen sync.Map // digest -> *entry
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{}
}

// Digest returns the hex SHA-256 digest of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Admit checks data against the index, admitting it if the digest is new.
func (i *Index) Admit(data []byte) Admission {
	digest := Digest(data)
	actual, loaded := i.seen.LoadOrStore(digest, &entry{})
	e, ok := actual.(*entry)
	if !ok {
		return Admission{Digest: digest}
	}
	if loaded {
		return Admission{Digest: digest, Existing: e.record.Load()}
	}
	return Admission{Digest: digest, Admitted: true}
}

// Release withdraws an admitted digest whose document was never persisted,
// so a later identical body can be admitted instead of counted duplicate.
// Only the admitting caller may release, and only before Bind.
func (i *Index) Release(digest string) {
	i.seen.Delete(digest)
}

// Bind attaches the persisted record to its digest so later rejections can
// reference it.
func (i *Index) Bind(rec harvest.DocumentRecord) {
	actual, _ := i.seen.LoadOrStore(rec.ID, &entry{})
	if e, ok := actual.(*entry); ok {
		e.record.Store(&rec)
	}
}

// Seed marks prior-run records as already admitted, making deduplication
// durable across runs.
func (i *Index) Seed(records []harvest.DocumentRecord) {
	for _, rec := range records {
		rec := rec
		e := &entry{}
		e.record.Store(&rec)
		i.seen.Store(rec.ID, e)
	}
}

// Len reports how many digests the index holds.
func (i *Index) Len() int {
	n := 0
	i.seen.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
