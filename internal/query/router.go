// Package query fans a question out across the corpus backends and merges
// the ranked results into one attributed answer.
package query

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clinassist/kbpipeline/internal/pipeline"
	"github.com/clinassist/kbpipeline/internal/telemetry"
)

// Corpus binds one search backend to the source it indexes. Priority breaks
// score ties during the merge; lower wins.
type Corpus struct {
	Name     string
	Source   string
	Priority int
	Backend  pipeline.SearchBackend
}

// Options tune the router. Zero values fall back to the defaults below.
type Options struct {
	TopK    int
	Timeout time.Duration
}

// Router answers queries by searching every enabled corpus in parallel.
type Router struct {
	corpora  []Corpus
	records  pipeline.RecordStore
	composer Composer
	topK     int
	timeout  time.Duration
	log      *zap.Logger
}

// New constructs a Router over the given corpora.
func New(corpora []Corpus, records pipeline.RecordStore, composer Composer, opts Options, log *zap.Logger) *Router {
	topK := opts.TopK
	if topK <= 0 {
		topK = 5
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if composer == nil {
		composer = ExtractiveComposer{}
	}
	return &Router{
		corpora:  corpora,
		records:  records,
		composer: composer,
		topK:     topK,
		timeout:  timeout,
		log:      log.Named("query"),
	}
}

type rankedHit struct {
	corpus   string
	source   string
	priority int
	norm     float64
	result   pipeline.ChunkResult
}

// Search queries the corpora for the enabled sources (all when empty) and
// merges the results. A corpus that fails or times out contributes nothing
// and flips Partial; the healthy corpora still answer.
func (r *Router) Search(ctx context.Context, query string, sources []string) (pipeline.UnifiedAnswer, error) {
	enabled := r.enabled(sources)

	type corpusOutcome struct {
		corpus  Corpus
		results []pipeline.ChunkResult
		err     error
	}
	outcomes := make([]corpusOutcome, len(enabled))

	var wg sync.WaitGroup
	for n, corpus := range enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()

			start := time.Now()
			results, err := corpus.Backend.Search(callCtx, query, r.topK)
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			telemetry.ObserveQuery(corpus.Name, outcome, time.Since(start))
			outcomes[n] = corpusOutcome{corpus: corpus, results: results, err: err}
		}()
	}
	wg.Wait()

	var (
		hits    []rankedHit
		partial bool
	)
	for _, outcome := range outcomes {
		if outcome.err != nil {
			partial = true
			r.log.Warn("corpus search failed",
				zap.String("corpus", outcome.corpus.Name),
				zap.Error(outcome.err))
			continue
		}
		for _, hit := range normalize(outcome.results) {
			hits = append(hits, rankedHit{
				corpus:   outcome.corpus.Name,
				source:   outcome.corpus.Source,
				priority: outcome.corpus.Priority,
				norm:     hit.norm,
				result:   hit.result,
			})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].norm != hits[j].norm {
			return hits[i].norm > hits[j].norm
		}
		if hits[i].priority != hits[j].priority {
			return hits[i].priority < hits[j].priority
		}
		if hits[i].result.Entry.DocID != hits[j].result.Entry.DocID {
			return hits[i].result.Entry.DocID < hits[j].result.Entry.DocID
		}
		return hits[i].result.Entry.Ordinal < hits[j].result.Entry.Ordinal
	})
	if len(hits) > r.topK {
		hits = hits[:r.topK]
	}

	answer := pipeline.UnifiedAnswer{Partial: partial}
	snippets := make([]string, 0, len(hits))
	seenMedia := make(map[string]struct{})
	for _, hit := range hits {
		citation := r.resolveCitation(ctx, hit)
		answer.Citations = append(answer.Citations, citation)
		for _, m := range citation.Media {
			if _, ok := seenMedia[m.URL]; ok {
				continue
			}
			seenMedia[m.URL] = struct{}{}
			answer.Media = append(answer.Media, m)
		}
		snippets = append(snippets, hit.result.Text)
	}
	answer.Answer = r.composer.Compose(query, snippets)
	return answer, nil
}

func (r *Router) enabled(sources []string) []Corpus {
	if len(sources) == 0 {
		return r.corpora
	}
	want := make(map[string]bool, len(sources))
	for _, s := range sources {
		want[s] = true
	}
	var out []Corpus
	for _, c := range r.corpora {
		if want[c.Source] {
			out = append(out, c)
		}
	}
	return out
}

type normalizedHit struct {
	norm   float64
	result pipeline.ChunkResult
}

// normalize applies min-max scaling so scores from different engines become
// comparable. A corpus with a single hit, or with uniform scores, maps to 1.
func normalize(results []pipeline.ChunkResult) []normalizedHit {
	if len(results) == 0 {
		return nil
	}
	minScore, maxScore := results[0].Score, results[0].Score
	for _, res := range results[1:] {
		if res.Score < minScore {
			minScore = res.Score
		}
		if res.Score > maxScore {
			maxScore = res.Score
		}
	}
	out := make([]normalizedHit, len(results))
	for i, res := range results {
		norm := 1.0
		if maxScore > minScore {
			norm = (res.Score - minScore) / (maxScore - minScore)
		}
		out[i] = normalizedHit{norm: norm, result: res}
	}
	return out
}

// resolveCitation enriches a hit with document metadata. A missing document
// record degrades to the bare entry data rather than failing the query.
func (r *Router) resolveCitation(ctx context.Context, hit rankedHit) pipeline.Citation {
	citation := pipeline.Citation{
		Source:  hit.source,
		Title:   hit.result.Entry.DocID,
		Section: hit.result.Entry.Heading,
		Score:   hit.norm,
	}
	doc, err := r.records.GetDocument(ctx, hit.source, hit.result.Entry.DocID)
	if err != nil {
		r.log.Debug("citation metadata unavailable",
			zap.String("source", hit.source),
			zap.String("doc", hit.result.Entry.DocID),
			zap.Error(err))
		return citation
	}
	if doc.Title != "" {
		citation.Title = doc.Title
	}
	citation.Locator = doc.Locator
	citation.License = doc.License
	for _, m := range doc.Media {
		if m.Section == hit.result.Entry.Heading {
			citation.Media = append(citation.Media, m)
		}
	}
	return citation
}
