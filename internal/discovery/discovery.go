// Package discovery builds the per-source document catalog: the sorted set
// of document IDs a crawl run will work through.
package discovery

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io/fs"
	"net/url"
	"path/filepath"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/clinassist/kbpipeline/internal/config"
	"github.com/clinassist/kbpipeline/internal/pipeline"
	"github.com/clinassist/kbpipeline/internal/ratelimit"
	"github.com/clinassist/kbpipeline/internal/state"
)

// Discoverer enumerates document IDs for a source and persists the catalog.
type Discoverer struct {
	fetcher pipeline.Fetcher
	limiter *ratelimit.Limiter
	states  *state.Store
	clock   pipeline.Clock
	log     *zap.Logger
}

// New constructs a Discoverer. The limiter may be nil for directory sources.
func New(fetcher pipeline.Fetcher, limiter *ratelimit.Limiter, states *state.Store, clock pipeline.Clock, log *zap.Logger) *Discoverer {
	return &Discoverer{
		fetcher: fetcher,
		limiter: limiter,
		states:  states,
		clock:   clock,
		log:     log.Named("discovery"),
	}
}

// Discover enumerates the source and saves the resulting catalog. Network
// errors abort the run; a stale catalog is better than a partial one.
func (d *Discoverer) Discover(ctx context.Context, profile config.SourceProfile) (state.Catalog, error) {
	var (
		ids []string
		err error
	)
	switch profile.Kind {
	case config.KindSitemap:
		ids, err = d.discoverSitemap(ctx, profile)
	case config.KindListing:
		ids, err = d.discoverListing(ctx, profile)
	case config.KindDirectory:
		ids, err = discoverDirectory(profile)
	default:
		err = fmt.Errorf("unknown source kind %q", profile.Kind)
	}
	if err != nil {
		return state.Catalog{}, fmt.Errorf("discover %s: %w", profile.Name, err)
	}

	ids = dedupeSorted(ids)
	catalog := state.Catalog{
		Source:       profile.Name,
		DiscoveredAt: d.clock.Now().UTC(),
		IDs:          ids,
	}
	if err := d.states.SaveCatalog(catalog); err != nil {
		return state.Catalog{}, fmt.Errorf("save catalog for %s: %w", profile.Name, err)
	}
	d.log.Info("catalog refreshed",
		zap.String("source", profile.Name),
		zap.Int("documents", len(ids)))
	return catalog, nil
}

type sitemapIndex struct {
	XMLName  xml.Name `xml:"sitemapindex"`
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

type urlSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

func (d *Discoverer) discoverSitemap(ctx context.Context, profile config.SourceProfile) ([]string, error) {
	queue := []string{profile.Root}
	seen := map[string]bool{profile.Root: true}

	var ids []string
	for len(queue) > 0 {
		loc := queue[0]
		queue = queue[1:]

		body, err := d.fetch(ctx, profile, loc)
		if err != nil {
			return nil, err
		}

		var index sitemapIndex
		if err := xml.Unmarshal(body, &index); err == nil && len(index.Sitemaps) > 0 {
			for _, child := range index.Sitemaps {
				child.Loc = strings.TrimSpace(child.Loc)
				if child.Loc == "" || seen[child.Loc] {
					continue
				}
				seen[child.Loc] = true
				queue = append(queue, child.Loc)
			}
			continue
		}

		var urls urlSet
		if err := xml.Unmarshal(body, &urls); err != nil {
			return nil, &pipeline.ParseError{ID: loc, Reason: "not a sitemap or sitemap index"}
		}
		for _, u := range urls.URLs {
			if id, ok := idFromURL(strings.TrimSpace(u.Loc), profile); ok {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

func (d *Discoverer) discoverListing(ctx context.Context, profile config.SourceProfile) ([]string, error) {
	body, err := d.fetch(ctx, profile, profile.Root)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &pipeline.ParseError{ID: profile.Root, Reason: err.Error()}
	}

	root, err := url.Parse(profile.Root)
	if err != nil {
		return nil, fmt.Errorf("parse root url: %w", err)
	}

	var ids []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := root.ResolveReference(ref)
		if abs.Host != root.Host {
			return
		}
		if id, ok := idFromURL(abs.String(), profile); ok {
			ids = append(ids, id)
		}
	})
	return ids, nil
}

// discoverDirectory walks a local tree of markdown documents. The ID is the
// path relative to the root without the extension.
func discoverDirectory(profile config.SourceProfile) ([]string, error) {
	var ids []string
	err := filepath.WalkDir(profile.Root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".md" && ext != ".markdown" {
			return nil
		}
		rel, err := filepath.Rel(profile.Root, path)
		if err != nil {
			return err
		}
		ids = append(ids, filepath.ToSlash(strings.TrimSuffix(rel, filepath.Ext(rel))))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", profile.Root, err)
	}
	return ids, nil
}

func (d *Discoverer) fetch(ctx context.Context, profile config.SourceProfile, loc string) ([]byte, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx, loc); err != nil {
			return nil, err
		}
	}
	resp, err := d.fetcher.Fetch(ctx, pipeline.FetchRequest{Source: profile.Name, URL: loc})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// idFromURL extracts the document ID from a content URL. URLs outside the
// link prefix, fragments, and excluded namespaces yield no ID.
func idFromURL(raw string, profile config.SourceProfile) (string, bool) {
	if raw == "" || strings.Contains(raw, "#") {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	idx := strings.Index(u.Path, profile.LinkPrefix)
	if profile.LinkPrefix == "" || idx < 0 {
		return "", false
	}
	slug := strings.TrimSuffix(u.Path[idx+len(profile.LinkPrefix):], "/")
	if slug == "" || strings.Contains(slug, "/") {
		return "", false
	}
	id, err := url.PathUnescape(slug)
	if err != nil {
		id = slug
	}
	for _, prefix := range profile.SkipPrefixes {
		if strings.HasPrefix(id, prefix) {
			return "", false
		}
	}
	return id, true
}

func dedupeSorted(ids []string) []string {
	sort.Strings(ids)
	out := ids[:0]
	var prev string
	for i, id := range ids {
		if i > 0 && id == prev {
			continue
		}
		out = append(out, id)
		prev = id
	}
	return out
}
