package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const validConfig = `
sources:
  wikem:
    kind: sitemap
    root: https://wikem.org/w/sitemap.xml
    link_prefix: /wiki/
    skip_prefixes: ["User:", "Talk:", "Template:"]
    content_selector: "div#mw-content-text"
    title_selector: "h1#firstHeading"
    section_headings: ["h2", "h3"]
    corpus: wikem
    delay_seconds: 2
    staleness_days: 180
    license: "CC BY-SA 3.0"
  protocols:
    kind: directory
    root: /data/protocols
    corpus: protocols
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	require.Equal(t, 4, cfg.Crawl.Workers)
	require.Equal(t, 1024, cfg.Index.ChunkSize)
	require.Equal(t, 200, cfg.Index.ChunkOverlap)

	wikem, ok := cfg.Sources["wikem"]
	require.True(t, ok)
	require.Equal(t, "wikem", wikem.Name, "profile name should default to map key")
	require.Equal(t, KindSitemap, wikem.Kind)
	require.Equal(t, 2*time.Second, wikem.Delay())
	require.Equal(t, 180*24*time.Hour, wikem.Staleness())

	protocols := cfg.Sources["protocols"]
	require.Equal(t, KindDirectory, protocols.Kind)
}

func TestLoadRejectsMissingContentSelector(t *testing.T) {
	body := `
sources:
  litfl:
    kind: listing
    root: https://litfl.com
    section_headings: ["h2"]
    corpus: litfl
    delay_seconds: 3
`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	require.Contains(t, err.Error(), "content_selector")
}

func TestLoadRejectsDelayOutsidePolitenessBand(t *testing.T) {
	body := `
sources:
  litfl:
    kind: listing
    root: https://litfl.com
    content_selector: "article"
    section_headings: ["h2"]
    corpus: litfl
    delay_seconds: 0.2
`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	require.Contains(t, err.Error(), "delay_seconds")
}

func TestLoadRejectsBadOverlap(t *testing.T) {
	body := `
index:
  chunk_size: 100
  chunk_overlap: 100
`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	require.Contains(t, err.Error(), "chunk_overlap")
}

func TestLoadRejectsUnknownKind(t *testing.T) {
	body := `
sources:
  odd:
    kind: rss
    root: https://example.org
    corpus: odd
`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	require.Contains(t, err.Error(), "kind")
}
