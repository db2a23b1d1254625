// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinassist/kbpipeline/internal/pipeline"
)

// Config controls the Postgres connection pool used for pipeline state.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RecordStore persists crawl records, normalized documents, and index
// entries in Postgres. Expected tables:
//
//	crawl_records(source, doc_id, status, fingerprint, last_success, retries, last_error)
//	documents(source, doc_id, body jsonb, extracted_at)
//	index_entries(source, doc_id, ordinal, backend_ref, heading, start_off, end_off, fingerprint)
type RecordStore struct {
	pool querier
}

// NewRecordStore creates a Postgres-backed RecordStore using the provided config.
func NewRecordStore(ctx context.Context, cfg Config) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RecordStore{pool: pool}, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(pool querier) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RecordStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// GetRecord fetches one crawl record.
func (s *RecordStore) GetRecord(ctx context.Context, source, id string) (pipeline.CrawlRecord, error) {
	query := `
SELECT source, doc_id, status, fingerprint, last_success, retries, last_error
FROM crawl_records
WHERE source = $1 AND doc_id = $2`
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, source, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pipeline.CrawlRecord{}, pipeline.ErrNotFound
		}
		return pipeline.CrawlRecord{}, fmt.Errorf("get crawl record: %w", err)
	}
	return rec, nil
}

// PutRecord upserts a crawl record keyed by source and document ID.
func (s *RecordStore) PutRecord(ctx context.Context, record pipeline.CrawlRecord) error {
	if record.Source == "" || record.ID == "" {
		return fmt.Errorf("record source and id are required")
	}
	query := `
INSERT INTO crawl_records (source, doc_id, status, fingerprint, last_success, retries, last_error)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (source, doc_id) DO UPDATE
SET status = EXCLUDED.status,
    fingerprint = EXCLUDED.fingerprint,
    last_success = EXCLUDED.last_success,
    retries = EXCLUDED.retries,
    last_error = EXCLUDED.last_error`
	_, err := s.pool.Exec(ctx, query,
		record.Source, record.ID, string(record.Status), record.Fingerprint,
		record.LastSuccess, record.Retries, record.LastError)
	if err != nil {
		return fmt.Errorf("upsert crawl record: %w", err)
	}
	return nil
}

// ListRecords returns records for a source ordered by document ID. An empty
// status matches every record.
func (s *RecordStore) ListRecords(ctx context.Context, source string, status pipeline.CrawlStatus) ([]pipeline.CrawlRecord, error) {
	query := `
SELECT source, doc_id, status, fingerprint, last_success, retries, last_error
FROM crawl_records
WHERE source = $1 AND ($2 = '' OR status = $2)
ORDER BY doc_id`
	rows, err := s.pool.Query(ctx, query, source, string(status))
	if err != nil {
		return nil, fmt.Errorf("list crawl records: %w", err)
	}
	defer rows.Close()

	var out []pipeline.CrawlRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan crawl record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list crawl records: %w", err)
	}
	return out, nil
}

// PutDocument upserts the normalized document body as JSONB.
func (s *RecordStore) PutDocument(ctx context.Context, doc pipeline.NormalizedDocument) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	query := `
INSERT INTO documents (source, doc_id, body, extracted_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (source, doc_id) DO UPDATE
SET body = EXCLUDED.body, extracted_at = EXCLUDED.extracted_at`
	if _, err := s.pool.Exec(ctx, query, doc.Source, doc.ID, body, doc.ExtractedAt); err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

// GetDocument fetches a normalized document.
func (s *RecordStore) GetDocument(ctx context.Context, source, id string) (pipeline.NormalizedDocument, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM documents WHERE source = $1 AND doc_id = $2`, source, id).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pipeline.NormalizedDocument{}, pipeline.ErrNotFound
		}
		return pipeline.NormalizedDocument{}, fmt.Errorf("get document: %w", err)
	}
	var doc pipeline.NormalizedDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return pipeline.NormalizedDocument{}, fmt.Errorf("unmarshal document: %w", err)
	}
	return doc, nil
}

// PutEntries inserts index entries, one row per chunk.
func (s *RecordStore) PutEntries(ctx context.Context, entries []pipeline.IndexEntry) error {
	query := `
INSERT INTO index_entries (source, doc_id, ordinal, backend_ref, heading, start_off, end_off, fingerprint)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	for _, e := range entries {
		_, err := s.pool.Exec(ctx, query,
			e.Source, e.DocID, e.Ordinal, e.Ref, e.Heading, e.Start, e.End, e.Fingerprint)
		if err != nil {
			return fmt.Errorf("insert index entry %s/%s#%d: %w", e.Source, e.DocID, e.Ordinal, err)
		}
	}
	return nil
}

// DeleteEntries removes every index entry for a document.
func (s *RecordStore) DeleteEntries(ctx context.Context, source, docID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM index_entries WHERE source = $1 AND doc_id = $2`, source, docID)
	if err != nil {
		return fmt.Errorf("delete index entries: %w", err)
	}
	return nil
}

// ListEntries returns the index entries for a document ordered by ordinal.
func (s *RecordStore) ListEntries(ctx context.Context, source, docID string) ([]pipeline.IndexEntry, error) {
	query := `
SELECT source, doc_id, ordinal, backend_ref, heading, start_off, end_off, fingerprint
FROM index_entries
WHERE source = $1 AND doc_id = $2
ORDER BY ordinal`
	rows, err := s.pool.Query(ctx, query, source, docID)
	if err != nil {
		return nil, fmt.Errorf("list index entries: %w", err)
	}
	defer rows.Close()

	var out []pipeline.IndexEntry
	for rows.Next() {
		var e pipeline.IndexEntry
		if err := rows.Scan(&e.Source, &e.DocID, &e.Ordinal, &e.Ref, &e.Heading, &e.Start, &e.End, &e.Fingerprint); err != nil {
			return nil, fmt.Errorf("scan index entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list index entries: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (pipeline.CrawlRecord, error) {
	var (
		rec    pipeline.CrawlRecord
		status string
	)
	err := row.Scan(&rec.Source, &rec.ID, &status, &rec.Fingerprint, &rec.LastSuccess, &rec.Retries, &rec.LastError)
	if err != nil {
		return pipeline.CrawlRecord{}, err
	}
	rec.Status = pipeline.CrawlStatus(status)
	return rec, nil
}
