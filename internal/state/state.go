// Package state persists per-source run files: the discovery catalog, the
// crawl checkpoint, and the error ledger. Every write goes through a temp
// file and rename so a concurrently starting resume reader never observes a
// half-written record.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/clinassist/kbpipeline/internal/pipeline"
)

// Store reads and writes run files for one state directory.
type Store struct {
	dir string
}

// Catalog is the ordered universe of document identifiers for a source.
type Catalog struct {
	Source       string    `json:"source"`
	DiscoveredAt time.Time `json:"discovered_at"`
	IDs          []string  `json:"ids"`
}

// Checkpoint records run progress for resume and reporting.
type Checkpoint struct {
	Source   string               `json:"source"`
	RunID    string               `json:"run_id"`
	LastID   string               `json:"last_id"`
	Counters pipeline.RunCounters `json:"counters"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// LedgerEntry is one failed document in the error ledger.
type LedgerEntry struct {
	LastError string    `json:"last_error"`
	Retries   int       `json:"retries"`
	Transient bool      `json:"transient"`
	FailedAt  time.Time `json:"failed_at"`
}

// Ledger maps failed document identifiers to their last error.
type Ledger struct {
	Source  string                 `json:"source"`
	Entries map[string]LedgerEntry `json:"entries"`
}

// New creates a Store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// SaveCatalog persists the discovery catalog for a source.
func (s *Store) SaveCatalog(c Catalog) error {
	return s.writeAtomic(s.path(c.Source, "catalog.json"), c)
}

// LoadCatalog reads a previously discovered catalog.
func (s *Store) LoadCatalog(source string) (Catalog, error) {
	var c Catalog
	if err := s.read(s.path(source, "catalog.json"), &c); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

// SaveCheckpoint persists run progress. Called after every document.
func (s *Store) SaveCheckpoint(cp Checkpoint) error {
	return s.writeAtomic(s.path(cp.Source, "checkpoint.json"), cp)
}

// LoadCheckpoint reads the last saved progress for a source.
func (s *Store) LoadCheckpoint(source string) (Checkpoint, error) {
	var cp Checkpoint
	if err := s.read(s.path(source, "checkpoint.json"), &cp); err != nil {
		return Checkpoint{}, err
	}
	return cp, nil
}

// SaveLedger persists the error ledger for a source.
func (s *Store) SaveLedger(l Ledger) error {
	return s.writeAtomic(s.path(l.Source, "errors.json"), l)
}

// LoadLedger reads the error ledger; a missing ledger is an empty one.
func (s *Store) LoadLedger(source string) (Ledger, error) {
	var l Ledger
	err := s.read(s.path(source, "errors.json"), &l)
	if err != nil {
		if os.IsNotExist(err) {
			return Ledger{Source: source, Entries: map[string]LedgerEntry{}}, nil
		}
		return Ledger{}, err
	}
	if l.Entries == nil {
		l.Entries = map[string]LedgerEntry{}
	}
	return l, nil
}

func (s *Store) path(source, name string) string {
	return filepath.Join(s.dir, source, name)
}

func (s *Store) writeAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create source dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}

func (s *Store) read(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", filepath.Base(path), err)
	}
	return nil
}
