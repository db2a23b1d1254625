package discovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clinassist/kbpipeline/internal/config"
	"github.com/clinassist/kbpipeline/internal/pipeline"
	"github.com/clinassist/kbpipeline/internal/ratelimit"
	"github.com/clinassist/kbpipeline/internal/state"
)

type fakeFetcher struct {
	pages map[string]string
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, req pipeline.FetchRequest) (pipeline.FetchResponse, error) {
	f.calls = append(f.calls, req.URL)
	body, ok := f.pages[req.URL]
	if !ok {
		return pipeline.FetchResponse{}, &pipeline.HTTPError{URL: req.URL, StatusCode: 404}
	}
	return pipeline.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte(body)}, nil
}

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

func newDiscoverer(t *testing.T, fetcher pipeline.Fetcher) (*Discoverer, *state.Store) {
	t.Helper()
	states, err := state.New(t.TempDir())
	require.NoError(t, err)
	limiter := ratelimit.New(time.Millisecond)
	clock := fixedClock{at: time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)}
	return New(fetcher, limiter, states, clock, zap.NewNop()), states
}

func TestDiscoverSitemapIndex(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]string{
		"https://wikem.org/sitemap-index.xml": `<?xml version="1.0"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>https://wikem.org/sitemap-0.xml</loc></sitemap>
  <sitemap><loc>https://wikem.org/sitemap-1.xml</loc></sitemap>
</sitemapindex>`,
		"https://wikem.org/sitemap-0.xml": `<?xml version="1.0"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://wikem.org/wiki/Hyponatremia</loc></url>
  <url><loc>https://wikem.org/wiki/User:Admin</loc></url>
  <url><loc>https://wikem.org/wiki/Talk:Sepsis</loc></url>
</urlset>`,
		"https://wikem.org/sitemap-1.xml": `<?xml version="1.0"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://wikem.org/wiki/Sepsis</loc></url>
  <url><loc>https://wikem.org/wiki/Hyponatremia</loc></url>
  <url><loc>https://wikem.org/about</loc></url>
</urlset>`,
	}}

	d, states := newDiscoverer(t, fetcher)
	profile := config.SourceProfile{
		Name:         "wikem",
		Kind:         config.KindSitemap,
		Root:         "https://wikem.org/sitemap-index.xml",
		LinkPrefix:   "/wiki/",
		SkipPrefixes: []string{"User:", "Talk:", "Template:", "Category:"},
	}

	catalog, err := d.Discover(context.Background(), profile)
	require.NoError(t, err)
	require.Equal(t, []string{"Hyponatremia", "Sepsis"}, catalog.IDs)
	require.Equal(t, "wikem", catalog.Source)

	saved, err := states.LoadCatalog("wikem")
	require.NoError(t, err)
	require.Equal(t, catalog.IDs, saved.IDs)
}

func TestDiscoverSitemapAbortsOnFetchError(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]string{
		"https://wikem.org/sitemap-index.xml": `<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>https://wikem.org/sitemap-missing.xml</loc></sitemap>
</sitemapindex>`,
	}}

	d, _ := newDiscoverer(t, fetcher)
	profile := config.SourceProfile{
		Name:       "wikem",
		Kind:       config.KindSitemap,
		Root:       "https://wikem.org/sitemap-index.xml",
		LinkPrefix: "/wiki/",
	}

	_, err := d.Discover(context.Background(), profile)
	var httpErr *pipeline.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, 404, httpErr.StatusCode)
}

func TestDiscoverListing(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]string{
		"https://litfl.com/library/": `<html><body>
<a href="/ecg-library/atrial-fibrillation/">AF</a>
<a href="https://litfl.com/ecg-library/long-qt/">Long QT</a>
<a href="https://litfl.com/ecg-library/atrial-fibrillation/">AF again</a>
<a href="https://example.com/ecg-library/offsite/">offsite</a>
<a href="/about/">about</a>
</body></html>`,
	}}

	d, _ := newDiscoverer(t, fetcher)
	profile := config.SourceProfile{
		Name:       "litfl",
		Kind:       config.KindListing,
		Root:       "https://litfl.com/library/",
		LinkPrefix: "/ecg-library/",
	}

	catalog, err := d.Discover(context.Background(), profile)
	require.NoError(t, err)
	require.Equal(t, []string{"atrial-fibrillation", "long-qt"}, catalog.IDs)
}

func TestDiscoverDirectory(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "cards"), 0o750))
	for _, name := range []string{"cards/push-dose-pressors.md", "intubation.md", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte("# x"), 0o600))
	}

	d, _ := newDiscoverer(t, &fakeFetcher{})
	profile := config.SourceProfile{Name: "aliem", Kind: config.KindDirectory, Root: root}

	catalog, err := d.Discover(context.Background(), profile)
	require.NoError(t, err)
	require.Equal(t, []string{"cards/push-dose-pressors", "intubation"}, catalog.IDs)
}

func TestIDFromURLUnescapes(t *testing.T) {
	t.Parallel()

	profile := config.SourceProfile{LinkPrefix: "/wiki/"}
	id, ok := idFromURL("https://wikem.org/wiki/Beta%20blocker%20toxicity", profile)
	require.True(t, ok)
	require.Equal(t, "Beta blocker toxicity", id)

	for i, raw := range []string{
		"https://wikem.org/wiki/Sepsis#management",
		"https://wikem.org/wiki/",
		"https://wikem.org/about",
	} {
		_, ok := idFromURL(raw, profile)
		require.False(t, ok, fmt.Sprintf("case %d", i))
	}
}
