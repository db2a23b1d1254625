package pipeline

import (
	"context"
	"time"
)

// Fetcher retrieves a single document. Implementations never retry
// internally; retry policy belongs to the orchestrator.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// BlobStore persists raw and processed artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// RecordStore persists crawl records and index entries. It is the shared
// checkpoint between orchestrator runs and the citation source for queries.
type RecordStore interface {
	GetRecord(ctx context.Context, source, id string) (CrawlRecord, error)
	PutRecord(ctx context.Context, record CrawlRecord) error
	ListRecords(ctx context.Context, source string, status CrawlStatus) ([]CrawlRecord, error)

	PutDocument(ctx context.Context, doc NormalizedDocument) error
	GetDocument(ctx context.Context, source, id string) (NormalizedDocument, error)

	PutEntries(ctx context.Context, entries []IndexEntry) error
	DeleteEntries(ctx context.Context, source, docID string) error
	ListEntries(ctx context.Context, source, docID string) ([]IndexEntry, error)
}

// SearchBackend is the contract with one corpus's embedding/retrieval engine.
// The pipeline treats it as a black box: submit chunks, get references back;
// submit a query, get ranked chunk results.
type SearchBackend interface {
	Submit(ctx context.Context, docID string, chunks []Chunk) ([]string, error)
	Remove(ctx context.Context, docID string) error
	Search(ctx context.Context, query string, topK int) ([]ChunkResult, error)
}

// Publisher pushes indexed-document events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for fingerprinting and artifact naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// RetryPolicy decides whether and when a failed step is attempted again.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = notFoundError("not found")

type notFoundError string

func (e notFoundError) Error() string { return string(e) }
