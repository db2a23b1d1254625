package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/clinassist/kbpipeline/internal/pipeline"
)

// RecordStore provides an in-memory implementation for development/testing.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]pipeline.CrawlRecord
	docs    map[string]pipeline.NormalizedDocument
	entries map[string][]pipeline.IndexEntry
}

// NewRecordStore constructs a RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		records: make(map[string]pipeline.CrawlRecord),
		docs:    make(map[string]pipeline.NormalizedDocument),
		entries: make(map[string][]pipeline.IndexEntry),
	}
}

func key(source, id string) string { return source + "/" + id }

// GetRecord fetches a crawl record by source and document ID.
func (s *RecordStore) GetRecord(_ context.Context, source, id string) (pipeline.CrawlRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key(source, id)]
	if !ok {
		return pipeline.CrawlRecord{}, pipeline.ErrNotFound
	}
	return rec, nil
}

// PutRecord inserts or replaces a crawl record.
func (s *RecordStore) PutRecord(_ context.Context, record pipeline.CrawlRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key(record.Source, record.ID)] = record
	return nil
}

// ListRecords returns records for a source, optionally filtered by status.
// An empty status matches every record. Results are sorted by document ID.
func (s *RecordStore) ListRecords(_ context.Context, source string, status pipeline.CrawlStatus) ([]pipeline.CrawlRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []pipeline.CrawlRecord
	for _, rec := range s.records {
		if rec.Source != source {
			continue
		}
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PutDocument stores a normalized document.
func (s *RecordStore) PutDocument(_ context.Context, doc pipeline.NormalizedDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[key(doc.Source, doc.ID)] = doc
	return nil
}

// GetDocument fetches a normalized document by source and ID.
func (s *RecordStore) GetDocument(_ context.Context, source, id string) (pipeline.NormalizedDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[key(source, id)]
	if !ok {
		return pipeline.NormalizedDocument{}, pipeline.ErrNotFound
	}
	return doc, nil
}

// PutEntries appends index entries for their document.
func (s *RecordStore) PutEntries(_ context.Context, entries []pipeline.IndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		k := key(e.Source, e.DocID)
		s.entries[k] = append(s.entries[k], e)
	}
	return nil
}

// DeleteEntries removes all index entries for a document.
func (s *RecordStore) DeleteEntries(_ context.Context, source, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key(source, docID))
	return nil
}

// ListEntries returns the index entries for a document ordered by ordinal.
func (s *RecordStore) ListEntries(_ context.Context, source, docID string) ([]pipeline.IndexEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.entries[key(source, docID)]
	out := append([]pipeline.IndexEntry(nil), entries...)
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}
