// Package tracker decides whether a document needs reindexing by comparing
// its content fingerprint against the last successful crawl record.
package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/clinassist/kbpipeline/internal/pipeline"
)

// Decision is the outcome of change classification for one document.
type Decision int

const (
	// DecisionNew means no prior record exists for the document.
	DecisionNew Decision = iota
	// DecisionUnchanged means the fingerprint matches a fresh record.
	DecisionUnchanged
	// DecisionChanged means the fingerprint differs from the stored one.
	DecisionChanged
	// DecisionStaleRecheck means the fingerprint matches but the record is
	// older than the staleness threshold and should be re-verified.
	DecisionStaleRecheck
)

func (d Decision) String() string {
	switch d {
	case DecisionNew:
		return "new"
	case DecisionUnchanged:
		return "unchanged"
	case DecisionChanged:
		return "changed"
	case DecisionStaleRecheck:
		return "stale_recheck"
	default:
		return "unknown"
	}
}

// NeedsIndex reports whether the decision requires a write to the search
// backend. Stale rechecks only refresh the record timestamp, so they do not
// count unless the caller found the content actually changed.
func (d Decision) NeedsIndex() bool {
	return d == DecisionNew || d == DecisionChanged
}

// Tracker classifies documents against stored crawl records.
type Tracker struct {
	records   pipeline.RecordStore
	staleness time.Duration
	overrides map[string]time.Duration
}

// New builds a tracker. A zero staleness disables stale rechecks.
func New(records pipeline.RecordStore, staleness time.Duration) *Tracker {
	return &Tracker{
		records:   records,
		staleness: staleness,
		overrides: make(map[string]time.Duration),
	}
}

// SetStaleness overrides the staleness threshold for one source. Call during
// setup, before Classify is used concurrently.
func (t *Tracker) SetStaleness(source string, staleness time.Duration) {
	t.overrides[source] = staleness
}

func (t *Tracker) thresholdFor(source string) time.Duration {
	if d, ok := t.overrides[source]; ok {
		return d
	}
	return t.staleness
}

// Classify compares the freshly computed fingerprint with the stored record
// for the document. Records that never reached indexed status are treated as
// new so interrupted work is picked up again.
func (t *Tracker) Classify(ctx context.Context, source, docID, fingerprint string, now time.Time) (Decision, error) {
	rec, err := t.records.GetRecord(ctx, source, docID)
	if err != nil {
		if errors.Is(err, pipeline.ErrNotFound) {
			return DecisionNew, nil
		}
		return DecisionNew, err
	}
	return t.ClassifyRecord(rec, fingerprint, now), nil
}

// ClassifyRecord classifies against a caller-held record snapshot. The crawl
// loop advances the live record through fetching and extracting before it can
// classify, so it must compare against the record as it stood when the run
// picked the document up, not the in-flight row.
func (t *Tracker) ClassifyRecord(rec pipeline.CrawlRecord, fingerprint string, now time.Time) Decision {
	if rec.Status != pipeline.StatusIndexed || rec.Fingerprint == "" {
		return DecisionNew
	}
	if rec.Fingerprint != fingerprint {
		return DecisionChanged
	}
	if threshold := t.thresholdFor(rec.Source); threshold > 0 && now.Sub(rec.LastSuccess) > threshold {
		return DecisionStaleRecheck
	}
	return DecisionUnchanged
}
