// Package orchestrator drives a crawl run for one source: it windows the
// catalog, fans document IDs out to a worker pool, and walks each document
// through fetch, extract, change classification, and indexing.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clinassist/kbpipeline/internal/config"
	"github.com/clinassist/kbpipeline/internal/extractor"
	"github.com/clinassist/kbpipeline/internal/indexer"
	"github.com/clinassist/kbpipeline/internal/pipeline"
	"github.com/clinassist/kbpipeline/internal/ratelimit"
	"github.com/clinassist/kbpipeline/internal/state"
	"github.com/clinassist/kbpipeline/internal/telemetry"
	"github.com/clinassist/kbpipeline/internal/tracker"
)

// Options window and tune one run.
type Options struct {
	BatchSize   int
	StartFrom   string
	Force       bool
	RetryErrors bool
	Workers     int
}

// Deps collects the collaborators the orchestrator drives.
type Deps struct {
	// SelectFetcher picks the fetcher for a profile (plain HTTP, headless
	// browser, or local file).
	SelectFetcher func(config.SourceProfile) pipeline.Fetcher
	Limiter       *ratelimit.Limiter
	Extractor     *extractor.Extractor
	Tracker       *tracker.Tracker
	Indexer       *indexer.Indexer
	Records       pipeline.RecordStore
	Blobs         pipeline.BlobStore
	Publisher     pipeline.Publisher
	States        *state.Store
	Clock         pipeline.Clock
	IDs           pipeline.IDGenerator
	Retry         pipeline.RetryPolicy
}

// Config holds the run-independent settings.
type Config struct {
	Workers   int
	RawPrefix string
	Topic     string
}

// Orchestrator executes crawl runs.
type Orchestrator struct {
	deps Deps
	cfg  Config
	log  *zap.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

// New constructs an Orchestrator.
func New(deps Deps, cfg Config, log *zap.Logger) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RawPrefix == "" {
		cfg.RawPrefix = "raw"
	}
	return &Orchestrator{
		deps: deps,
		cfg:  cfg,
		log:  log.Named("orchestrator"),
		stop: make(chan struct{}),
	}
}

// Stop asks the run to wind down: no new documents are dispatched, in-flight
// documents finish and checkpoint.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stop) })
}

// Run crawls one source and returns the outcome counters. The catalog must
// exist; run discover first.
func (o *Orchestrator) Run(ctx context.Context, profile config.SourceProfile, opts Options) (pipeline.RunCounters, error) {
	ids, err := o.workload(ctx, profile, opts)
	if err != nil {
		return pipeline.RunCounters{}, err
	}

	runID, err := o.deps.IDs.NewID()
	if err != nil {
		return pipeline.RunCounters{}, fmt.Errorf("generate run id: %w", err)
	}

	ledger, err := o.deps.States.LoadLedger(profile.Name)
	if err != nil {
		return pipeline.RunCounters{}, fmt.Errorf("load error ledger: %w", err)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = o.cfg.Workers
	}
	fetcher := o.deps.SelectFetcher(profile)
	if fetcher == nil {
		return pipeline.RunCounters{}, fmt.Errorf("no fetcher for source %q", profile.Name)
	}

	run := &runState{
		orc:     o,
		profile: profile,
		fetcher: fetcher,
		opts:    opts,
		runID:   runID,
		ledger:  ledger,
	}

	started := o.deps.Clock.Now()
	o.log.Info("run started",
		zap.String("source", profile.Name),
		zap.String("run_id", runID),
		zap.Int("documents", len(ids)),
		zap.Int("workers", workers))

	jobs := make(chan string)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			telemetry.WorkerStarted()
			defer telemetry.WorkerFinished()
			for id := range jobs {
				run.process(ctx, id)
			}
		}()
	}

dispatch:
	for _, id := range ids {
		select {
		case <-ctx.Done():
			break dispatch
		case <-o.stop:
			break dispatch
		case jobs <- id:
		}
	}
	close(jobs)
	wg.Wait()

	if err := run.flush(); err != nil {
		return run.counters, err
	}

	elapsed := o.deps.Clock.Now().Sub(started)
	rate := 0.0
	if elapsed > 0 {
		rate = float64(run.counters.Total()) / elapsed.Seconds()
	}
	o.log.Info("run finished",
		zap.String("source", profile.Name),
		zap.String("run_id", runID),
		zap.Int("new", run.counters.New),
		zap.Int("changed", run.counters.Changed),
		zap.Int("unchanged", run.counters.Unchanged),
		zap.Int("failed", run.counters.Failed),
		zap.Int("retries", run.counters.Retries),
		zap.Duration("elapsed", elapsed),
		zap.Float64("docs_per_second", rate))

	if err := ctx.Err(); err != nil {
		return run.counters, err
	}
	return run.counters, nil
}

// workload resolves the list of document IDs this run should process.
func (o *Orchestrator) workload(ctx context.Context, profile config.SourceProfile, opts Options) ([]string, error) {
	if opts.RetryErrors {
		failed, err := o.deps.Records.ListRecords(ctx, profile.Name, pipeline.StatusFailed)
		if err != nil {
			return nil, fmt.Errorf("list failed records: %w", err)
		}
		ids := make([]string, len(failed))
		for i, rec := range failed {
			ids[i] = rec.ID
		}
		return window(ids, opts), nil
	}

	catalog, err := o.deps.States.LoadCatalog(profile.Name)
	if err != nil {
		return nil, fmt.Errorf("load catalog for %s (run discover first): %w", profile.Name, err)
	}
	return window(catalog.IDs, opts), nil
}

func window(ids []string, opts Options) []string {
	if opts.StartFrom != "" {
		for i, id := range ids {
			if id >= opts.StartFrom {
				ids = ids[i:]
				break
			}
			if i == len(ids)-1 {
				ids = nil
			}
		}
	}
	if opts.BatchSize > 0 && len(ids) > opts.BatchSize {
		ids = ids[:opts.BatchSize]
	}
	return ids
}

// locator builds the fetchable address of a document.
func locator(profile config.SourceProfile, id string) (string, error) {
	if profile.Kind == config.KindDirectory {
		return id + ".md", nil
	}
	root, err := url.Parse(profile.Root)
	if err != nil {
		return "", fmt.Errorf("parse root url: %w", err)
	}
	u := url.URL{
		Scheme: root.Scheme,
		Host:   root.Host,
		Path:   profile.LinkPrefix + strings.ReplaceAll(id, " ", "_"),
	}
	return u.String(), nil
}

func rawArtifactPath(prefix string, profile config.SourceProfile, id string) string {
	ext := ".html"
	if profile.Kind == config.KindDirectory {
		ext = ".md"
	}
	return path.Join(prefix, profile.Name, id+ext)
}

func contentTypeFor(profile config.SourceProfile) string {
	if profile.Kind == config.KindDirectory {
		return "text/markdown"
	}
	return "text/html; charset=utf-8"
}

// runState is the mutable part of one run, shared by the worker pool.
type runState struct {
	orc     *Orchestrator
	profile config.SourceProfile
	fetcher pipeline.Fetcher
	opts    Options
	runID   string
	ledger  state.Ledger

	mu       sync.Mutex
	counters pipeline.RunCounters
	lastID   string
}

// process walks a single document through the pipeline. Every status
// transition is persisted so an interrupted run resumes cleanly.
func (r *runState) process(ctx context.Context, id string) {
	o := r.orc
	log := o.log.With(zap.String("source", r.profile.Name), zap.String("doc", id))

	outcome, err := r.processDocument(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn("document failed", zap.String("stage", outcome), zap.Error(err))
		telemetry.CountDocument(r.profile.Name, "failed")
		r.recordFailure(ctx, id, outcome, err)
	} else {
		telemetry.CountDocument(r.profile.Name, outcome)
		r.clearFailure(id)
	}
	r.checkpoint(ctx, id)
}

// processDocument returns the outcome label for counters ("new", "changed",
// "unchanged") or, on error, the stage that failed.
func (r *runState) processDocument(ctx context.Context, id string) (string, error) {
	o := r.orc
	now := o.deps.Clock.Now().UTC()

	loc, err := locator(r.profile, id)
	if err != nil {
		return "locate", err
	}

	prior, err := o.deps.Records.GetRecord(ctx, r.profile.Name, id)
	if err != nil && !errors.Is(err, pipeline.ErrNotFound) {
		return "record", err
	}
	rec := prior
	rec.Source = r.profile.Name
	rec.ID = id
	rec.Status = pipeline.StatusFetching
	if err := o.deps.Records.PutRecord(ctx, rec); err != nil {
		return "record", err
	}

	resp, err := r.fetchWithRetry(ctx, id, loc)
	if err != nil {
		return "fetch", err
	}
	telemetry.AddFetchBytes(r.profile.Name, len(resp.Body))

	rawPath := rawArtifactPath(o.cfg.RawPrefix, r.profile, id)
	rawURI, err := o.deps.Blobs.PutObject(ctx, rawPath, contentTypeFor(r.profile), resp.Body)
	if err != nil {
		return "store", err
	}

	rec.Status = pipeline.StatusExtracting
	if err := o.deps.Records.PutRecord(ctx, rec); err != nil {
		return "record", err
	}

	doc, err := o.deps.Extractor.Extract(r.profile, pipeline.SourceDocument{
		Source:    r.profile.Name,
		ID:        id,
		Locator:   loc,
		FetchedAt: resp.FetchedAt,
		RawURI:    rawURI,
		Headers:   resp.Headers,
		Body:      resp.Body,
	})
	if err != nil {
		return "extract", err
	}

	// Classify against the record as loaded at the top of this function:
	// the live row has already been advanced to extracting.
	decision := tracker.DecisionChanged
	if !r.opts.Force {
		decision = o.deps.Tracker.ClassifyRecord(prior, doc.Fingerprint, now)
	}

	if !decision.NeedsIndex() {
		rec.Status = pipeline.StatusIndexed
		if decision == tracker.DecisionStaleRecheck {
			rec.LastSuccess = now
		}
		if err := o.deps.Records.PutRecord(ctx, rec); err != nil {
			return "record", err
		}
		r.count(func(c *pipeline.RunCounters) { c.Unchanged++ })
		return "unchanged", nil
	}

	if err := o.deps.Records.PutDocument(ctx, doc); err != nil {
		return "store", err
	}
	rec.Status = pipeline.StatusIndexing
	if err := o.deps.Records.PutRecord(ctx, rec); err != nil {
		return "record", err
	}

	chunks, err := o.deps.Indexer.Index(ctx, r.profile, doc)
	if err != nil {
		// Extraction succeeded, so park the record one step back and let
		// index --all or the next run resubmit without refetching.
		rec.Status = pipeline.StatusExtracted
		rec.LastError = err.Error()
		if putErr := o.deps.Records.PutRecord(ctx, rec); putErr != nil {
			return "record", putErr
		}
		return "index", err
	}

	rec.Status = pipeline.StatusIndexed
	rec.Fingerprint = doc.Fingerprint
	rec.LastSuccess = now
	rec.LastError = ""
	rec.Retries = 0
	if err := o.deps.Records.PutRecord(ctx, rec); err != nil {
		return "record", err
	}

	if o.deps.Publisher != nil && o.cfg.Topic != "" {
		event := pipeline.IndexedEvent{
			Source:      r.profile.Name,
			DocID:       id,
			Fingerprint: doc.Fingerprint,
			Chunks:      chunks,
			IndexedAt:   now,
		}
		if _, err := o.deps.Publisher.Publish(ctx, o.cfg.Topic, event); err != nil {
			o.log.Warn("publish indexed event failed",
				zap.String("doc", id), zap.Error(err))
		}
	}

	if decision == tracker.DecisionNew {
		r.count(func(c *pipeline.RunCounters) { c.New++ })
		return "new", nil
	}
	r.count(func(c *pipeline.RunCounters) { c.Changed++ })
	return "changed", nil
}

// fetchWithRetry applies the politeness limiter and retries transient
// failures with backoff.
func (r *runState) fetchWithRetry(ctx context.Context, id, loc string) (pipeline.FetchResponse, error) {
	o := r.orc
	var lastErr error
	for attempt := 1; ; attempt++ {
		if r.profile.Kind != config.KindDirectory {
			if err := o.deps.Limiter.WaitInterval(ctx, loc, r.profile.Delay()); err != nil {
				return pipeline.FetchResponse{}, err
			}
		}
		resp, err := r.fetcher.Fetch(ctx, pipeline.FetchRequest{
			Source: r.profile.Name,
			ID:     id,
			URL:    loc,
		})
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !o.deps.Retry.ShouldRetry(err, attempt) {
			return pipeline.FetchResponse{}, lastErr
		}
		r.count(func(c *pipeline.RunCounters) { c.Retries++ })
		select {
		case <-ctx.Done():
			return pipeline.FetchResponse{}, ctx.Err()
		case <-time.After(o.deps.Retry.Backoff(attempt)):
		}
	}
}

func (r *runState) count(fn func(*pipeline.RunCounters)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.counters)
}

func (r *runState) recordFailure(ctx context.Context, id, stage string, cause error) {
	o := r.orc
	rec, err := o.deps.Records.GetRecord(ctx, r.profile.Name, id)
	if err != nil && !errors.Is(err, pipeline.ErrNotFound) {
		o.log.Error("load record after failure", zap.String("doc", id), zap.Error(err))
	}
	rec.Source = r.profile.Name
	rec.ID = id
	rec.Retries++
	rec.LastError = cause.Error()
	// Indexing failures stay parked at extracted; everything else fails.
	if rec.Status != pipeline.StatusExtracted {
		rec.Status = pipeline.StatusFailed
	}
	if err := o.deps.Records.PutRecord(ctx, rec); err != nil {
		o.log.Error("persist failed record", zap.String("doc", id), zap.Error(err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters.Failed++
	if r.ledger.Entries == nil {
		r.ledger.Entries = make(map[string]state.LedgerEntry)
	}
	entry := r.ledger.Entries[id]
	entry.LastError = fmt.Sprintf("%s: %s", stage, cause.Error())
	entry.Retries++
	entry.Transient = pipeline.Transient(cause)
	entry.FailedAt = o.deps.Clock.Now().UTC()
	r.ledger.Entries[id] = entry
}

func (r *runState) clearFailure(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ledger.Entries, id)
}

// checkpoint persists progress after every document.
func (r *runState) checkpoint(ctx context.Context, id string) {
	o := r.orc
	r.mu.Lock()
	if id > r.lastID {
		r.lastID = id
	}
	cp := state.Checkpoint{
		Source:    r.profile.Name,
		RunID:     r.runID,
		LastID:    r.lastID,
		Counters:  r.counters,
		UpdatedAt: o.deps.Clock.Now().UTC(),
	}
	r.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	if err := o.deps.States.SaveCheckpoint(cp); err != nil {
		o.log.Error("save checkpoint", zap.Error(err))
	}
}

// flush writes the final ledger state.
func (r *runState) flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledger.Source = r.profile.Name
	if err := r.orc.deps.States.SaveLedger(r.ledger); err != nil {
		return fmt.Errorf("save error ledger: %w", err)
	}
	return nil
}
