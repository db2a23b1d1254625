// Package indexer pushes normalized documents into their corpus backend and
// records the chunk-to-reference mapping used for citations.
package indexer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/clinassist/kbpipeline/internal/config"
	"github.com/clinassist/kbpipeline/internal/extractor"
	"github.com/clinassist/kbpipeline/internal/pipeline"
	"github.com/clinassist/kbpipeline/internal/telemetry"
)

// Indexer chunks documents and submits them to the corpus backend named by
// the source profile.
type Indexer struct {
	chunker  *Chunker
	records  pipeline.RecordStore
	blobs    pipeline.BlobStore
	backends map[string]pipeline.SearchBackend
	prefix   string
	log      *zap.Logger
}

// New constructs an Indexer. backends maps corpus name to its search
// backend; prefix is the processed-artifact path prefix in the blob store.
func New(chunker *Chunker, records pipeline.RecordStore, blobs pipeline.BlobStore, backends map[string]pipeline.SearchBackend, prefix string, log *zap.Logger) *Indexer {
	if prefix == "" {
		prefix = "processed"
	}
	return &Indexer{
		chunker:  chunker,
		records:  records,
		blobs:    blobs,
		backends: backends,
		prefix:   prefix,
		log:      log.Named("indexer"),
	}
}

// Index replaces the document's chunks in its corpus. Stale chunks are
// removed from both the backend and the entry table before the new set is
// submitted, so a failed run never leaves the old and new versions mixed.
func (i *Indexer) Index(ctx context.Context, profile config.SourceProfile, doc pipeline.NormalizedDocument) (int, error) {
	backend, ok := i.backends[profile.Corpus]
	if !ok {
		return 0, fmt.Errorf("no backend for corpus %q", profile.Corpus)
	}

	chunks := i.chunker.Chunk(doc)
	if len(chunks) == 0 {
		return 0, &pipeline.ParseError{ID: doc.ID, Reason: "document produced no chunks"}
	}

	processed := extractor.Markdown(doc)
	artifactPath := fmt.Sprintf("%s/%s/%s.md", i.prefix, doc.Source, doc.ID)
	if _, err := i.blobs.PutObject(ctx, artifactPath, "text/markdown", []byte(processed)); err != nil {
		return 0, fmt.Errorf("write processed artifact: %w", err)
	}

	if err := backend.Remove(ctx, doc.ID); err != nil {
		return 0, &pipeline.BackendError{Corpus: profile.Corpus, Op: "remove", Err: err}
	}
	if err := i.records.DeleteEntries(ctx, doc.Source, doc.ID); err != nil {
		return 0, fmt.Errorf("delete stale entries: %w", err)
	}

	refs, err := backend.Submit(ctx, doc.ID, chunks)
	if err != nil {
		return 0, &pipeline.BackendError{Corpus: profile.Corpus, Op: "import", Err: err}
	}
	if len(refs) != len(chunks) {
		return 0, &pipeline.BackendError{
			Corpus: profile.Corpus,
			Op:     "import",
			Err:    fmt.Errorf("backend returned %d refs for %d chunks", len(refs), len(chunks)),
		}
	}

	entries := make([]pipeline.IndexEntry, len(chunks))
	for n, chunk := range chunks {
		entries[n] = pipeline.IndexEntry{
			Source:      doc.Source,
			DocID:       doc.ID,
			Ordinal:     chunk.Ordinal,
			Ref:         refs[n],
			Heading:     chunk.Heading,
			Start:       chunk.Start,
			End:         chunk.End,
			Fingerprint: doc.Fingerprint,
		}
	}
	if err := i.records.PutEntries(ctx, entries); err != nil {
		return 0, fmt.Errorf("record index entries: %w", err)
	}

	telemetry.AddChunksIndexed(profile.Corpus, len(chunks))
	i.log.Debug("document indexed",
		zap.String("source", doc.Source),
		zap.String("doc", doc.ID),
		zap.Int("chunks", len(chunks)))
	return len(chunks), nil
}

// Reindex re-submits a previously extracted document from the record store,
// without re-fetching or re-extracting it.
func (i *Indexer) Reindex(ctx context.Context, profile config.SourceProfile, docID string) (int, error) {
	doc, err := i.records.GetDocument(ctx, profile.Name, docID)
	if err != nil {
		return 0, fmt.Errorf("load document %s/%s: %w", profile.Name, docID, err)
	}
	return i.Index(ctx, profile, doc)
}
