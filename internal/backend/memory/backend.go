// Package memory implements an in-process search backend with deterministic
// term-overlap scoring, used in tests and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/clinassist/kbpipeline/internal/pipeline"
)

// Backend stores submitted chunks and answers searches by counting query
// terms present in each chunk.
type Backend struct {
	mu   sync.RWMutex
	docs map[string][]pipeline.Chunk
}

// New constructs an empty Backend.
func New() *Backend {
	return &Backend{docs: make(map[string][]pipeline.Chunk)}
}

// Submit stores the chunks and returns one mem:// ref per chunk.
func (b *Backend) Submit(_ context.Context, docID string, chunks []pipeline.Chunk) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.docs[docID] = append([]pipeline.Chunk(nil), chunks...)
	refs := make([]string, len(chunks))
	for i, c := range chunks {
		refs[i] = fmt.Sprintf("mem://%s#%d", docID, c.Ordinal)
	}
	return refs, nil
}

// Remove deletes every chunk for the document. Removing an unknown document
// is not an error.
func (b *Backend) Remove(_ context.Context, docID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.docs, docID)
	return nil
}

// Search scores chunks by the number of distinct query terms they contain.
// Ties break by document ID then ordinal, so results are deterministic.
func (b *Backend) Search(_ context.Context, query string, topK int) ([]pipeline.ChunkResult, error) {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var results []pipeline.ChunkResult
	for docID, chunks := range b.docs {
		for _, chunk := range chunks {
			score := overlap(terms, chunk.Text)
			if score == 0 {
				continue
			}
			results = append(results, pipeline.ChunkResult{
				Text:  chunk.Text,
				Score: float64(score) / float64(len(terms)),
				Entry: pipeline.IndexEntry{
					DocID:   docID,
					Ordinal: chunk.Ordinal,
					Ref:     fmt.Sprintf("mem://%s#%d", docID, chunk.Ordinal),
					Heading: chunk.Heading,
					Start:   chunk.Start,
					End:     chunk.End,
				},
			})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Entry.DocID != results[j].Entry.DocID {
			return results[i].Entry.DocID < results[j].Entry.DocID
		}
		return results[i].Entry.Ordinal < results[j].Entry.Ordinal
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func tokenize(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	seen := make(map[string]bool, len(fields))
	var out []string
	for _, f := range fields {
		f = strings.Trim(f, ".,;:()[]?!\"'")
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func overlap(terms []string, text string) int {
	lower := strings.ToLower(text)
	n := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			n++
		}
	}
	return n
}
