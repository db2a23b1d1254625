// Package pipeline defines core types shared across the ingestion and
// retrieval subsystems.
package pipeline

import (
	"net/http"
	"time"
)

// CrawlStatus represents the lifecycle state of one document identifier.
type CrawlStatus string

// Crawl status values persisted in the record store.
const (
	StatusPending    CrawlStatus = "pending"
	StatusFetching   CrawlStatus = "fetching"
	StatusFetched    CrawlStatus = "fetched"
	StatusExtracting CrawlStatus = "extracting"
	StatusExtracted  CrawlStatus = "extracted"
	StatusIndexing   CrawlStatus = "indexing"
	StatusIndexed    CrawlStatus = "indexed"
	StatusFailed     CrawlStatus = "failed"
)

// Terminal reports whether the status ends a document's run.
func (s CrawlStatus) Terminal() bool {
	switch s {
	case StatusIndexed, StatusFailed:
		return true
	default:
		return false
	}
}

// SourceDocument is one fetched version of a document. It is immutable once
// written; a newer fetch of the same identifier supersedes it.
type SourceDocument struct {
	Source    string      `json:"source"`
	ID        string      `json:"id"`
	Locator   string      `json:"locator"`
	FetchedAt time.Time   `json:"fetched_at"`
	RawURI    string      `json:"raw_uri"`
	Status    int         `json:"status_code"`
	Headers   http.Header `json:"-"`
	Body      []byte      `json:"-"`
}

// Section is one heading-delimited span of a normalized document.
type Section struct {
	Heading string `json:"heading"`
	Level   int    `json:"level"`
	Order   int    `json:"order"`
	Text    string `json:"text"`
}

// MediaReference points at an image or attachment associated with a section.
type MediaReference struct {
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
	Section string `json:"section,omitempty"`
}

// NormalizedDocument is the extraction result for one SourceDocument version.
// Re-extraction replaces it wholesale.
type NormalizedDocument struct {
	Source      string           `json:"source"`
	ID          string           `json:"id"`
	Locator     string           `json:"locator"`
	Title       string           `json:"title"`
	Sections    []Section        `json:"sections"`
	Media       []MediaReference `json:"media,omitempty"`
	CrossRefs   []string         `json:"cross_refs,omitempty"`
	Categories  []string         `json:"categories,omitempty"`
	License     string           `json:"license,omitempty"`
	Fingerprint string           `json:"fingerprint"`
	ExtractedAt time.Time        `json:"extracted_at"`
}

// CrawlRecord is the durable per-identifier checkpoint. It is the single
// source of truth for "has this document already been processed and is it
// unchanged".
type CrawlRecord struct {
	Source      string      `json:"source"`
	ID          string      `json:"id"`
	Status      CrawlStatus `json:"status"`
	Fingerprint string      `json:"fingerprint,omitempty"`
	LastSuccess time.Time   `json:"last_success,omitempty"`
	Retries     int         `json:"retries"`
	LastError   string      `json:"last_error,omitempty"`
}

// Chunk is one bounded span of normalized text submitted to a corpus backend.
type Chunk struct {
	DocID   string `json:"doc_id"`
	Ordinal int    `json:"ordinal"`
	Heading string `json:"heading"`
	Text    string `json:"text"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
}

// IndexEntry maps (source, doc id, chunk ordinal) to the opaque backend
// reference, plus enough context to rebuild a citation.
type IndexEntry struct {
	Source      string `json:"source"`
	DocID       string `json:"doc_id"`
	Ordinal     int    `json:"ordinal"`
	Ref         string `json:"ref"`
	Heading     string `json:"heading"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
	Fingerprint string `json:"fingerprint"`
}

// ChunkResult is one ranked hit returned by a corpus backend.
type ChunkResult struct {
	Text  string     `json:"text"`
	Score float64    `json:"score"`
	Entry IndexEntry `json:"entry"`
}

// CorpusResult is the full backend response for one corpus and one query.
type CorpusResult struct {
	Corpus  string        `json:"corpus"`
	Results []ChunkResult `json:"results"`
	Err     error         `json:"-"`
}

// Citation attributes one merged answer fragment back to its document.
type Citation struct {
	Source  string           `json:"source"`
	Title   string           `json:"title"`
	Section string           `json:"section,omitempty"`
	Locator string           `json:"locator"`
	License string           `json:"license,omitempty"`
	Score   float64          `json:"score"`
	Media   []MediaReference `json:"media,omitempty"`
}

// UnifiedAnswer is the merged, attributed response for one query.
type UnifiedAnswer struct {
	Answer    string           `json:"answer"`
	Citations []Citation       `json:"citations"`
	Media     []MediaReference `json:"media,omitempty"`
	Partial   bool             `json:"partial"`
}

// IndexedEvent is the message published after a document lands in its
// corpus, so downstream consumers can react to content changes.
type IndexedEvent struct {
	Source      string    `json:"source"`
	DocID       string    `json:"doc_id"`
	Fingerprint string    `json:"fingerprint"`
	Chunks      int       `json:"chunks"`
	IndexedAt   time.Time `json:"indexed_at"`
}

// RunCounters tracks per-run outcome totals.
type RunCounters struct {
	New       int `json:"new"`
	Changed   int `json:"changed"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
	Retries   int `json:"retries"`
}

// Total returns the number of documents accounted for in the counters.
func (c RunCounters) Total() int {
	return c.New + c.Changed + c.Unchanged + c.Failed
}

// FetchRequest captures everything needed to retrieve one document.
type FetchRequest struct {
	Source  string
	ID      string
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	FetchedAt  time.Time
}
