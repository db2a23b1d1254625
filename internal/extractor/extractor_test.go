package extractor

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clinassist/kbpipeline/internal/config"
	"github.com/clinassist/kbpipeline/internal/hash/sha256"
	"github.com/clinassist/kbpipeline/internal/pipeline"
)

func wikiProfile() config.SourceProfile {
	return config.SourceProfile{
		Name:            "wikem",
		Kind:            config.KindSitemap,
		Root:            "https://wikem.org/w/sitemap.xml",
		LinkPrefix:      "/wiki/",
		SkipPrefixes:    []string{"User:", "Talk:", "Template:", "Category:"},
		ContentSelector: "div.mw-parser-output",
		TitleSelector:   "h1#firstHeading",
		NoiseSelectors:  []string{"div.toc", "span.mw-editsection"},
		SectionHeadings: []string{"h2", "h3"},
		MediaAttrs:      []string{"data-src", "src"},
		MediaFilters:    []string{"/skins/", "favicon"},
		MinMediaWidth:   50,
		License:         "CC BY-SA 3.0",
		Corpus:          "wikem",
	}
}

const wikiPage = `<html><head><title>x</title></head><body>
<h1 id="firstHeading">Hyponatremia</h1>
<div id="mw-content-text"><div class="mw-parser-output">
<div class="toc">Contents 1 Background 2 Management</div>
<p>Serum sodium below  135   mEq/L.</p>
<h2>Background<span class="mw-editsection">[edit]</span></h2>
<p>Usually reflects excess free water relative to sodium.</p>
<ul><li>Hypovolemic</li><li>Euvolemic</li><li>Hypervolemic</li></ul>
<h2>Management</h2>
<p>Correct slowly to avoid osmotic demyelination.</p>
<table><tr><th>Severity</th><th>Rate</th></tr><tr><td>Severe</td><td>3% saline</td></tr></table>
<div><img src="/images/thumb/sodium-algorithm.png" alt="Treatment algorithm" width="400"></div>
<div><img src="/skins/common/logo.png" width="400"><img src="/images/icon.png" width="16"></div>
<h2>See Also</h2>
<ul><li><a href="/wiki/Hypernatremia">Hypernatremia</a></li>
<li><a href="/wiki/Template:Electrolytes">template</a></li></ul>
</div></div>
<div id="catlinks"><a href="/wiki/Category:Electrolyte_abnormalities">Electrolyte abnormalities</a></div>
</body></html>`

func sourceDoc(body string) pipeline.SourceDocument {
	return pipeline.SourceDocument{
		Source:    "wikem",
		ID:        "Hyponatremia",
		Locator:   "https://wikem.org/wiki/Hyponatremia",
		FetchedAt: time.Unix(1700000000, 0).UTC(),
		Body:      []byte(body),
	}
}

func TestExtractWikiPage(t *testing.T) {
	t.Parallel()

	e := New(sha256.New())
	doc, err := e.Extract(wikiProfile(), sourceDoc(wikiPage))
	require.NoError(t, err)

	require.Equal(t, "Hyponatremia", doc.Title)
	require.Equal(t, "CC BY-SA 3.0", doc.License)
	require.NotEmpty(t, doc.Fingerprint)

	require.Len(t, doc.Sections, 4)
	require.Equal(t, "Introduction", doc.Sections[0].Heading)
	require.Equal(t, "Background", doc.Sections[1].Heading)
	require.Equal(t, "Management", doc.Sections[2].Heading)
	require.Equal(t, "See Also", doc.Sections[3].Heading)
	require.Equal(t, []int{1, 2, 3, 4},
		[]int{doc.Sections[0].Order, doc.Sections[1].Order, doc.Sections[2].Order, doc.Sections[3].Order})

	require.NotContains(t, doc.Sections[0].Text, "Contents", "toc must be stripped")
	require.Contains(t, doc.Sections[1].Text, "- Hypovolemic")
	require.Contains(t, doc.Sections[2].Text, "| Severity | Rate |")
	require.Contains(t, doc.Sections[3].Text, "Hypernatremia")

	require.Len(t, doc.Media, 1, "logo and tiny icon must be filtered")
	require.Equal(t, "https://wikem.org/images/thumb/sodium-algorithm.png", doc.Media[0].URL)
	require.Equal(t, "Treatment algorithm", doc.Media[0].Caption)
	require.Equal(t, "Management", doc.Media[0].Section)

	require.Equal(t, []string{"Hypernatremia"}, doc.CrossRefs, "template link must be skipped")
	require.Contains(t, doc.Categories, "Electrolyte abnormalities")
}

func TestExtractHeadingEditSuffixRemoved(t *testing.T) {
	t.Parallel()

	profile := wikiProfile()
	profile.NoiseSelectors = nil

	e := New(sha256.New())
	doc, err := e.Extract(profile, sourceDoc(wikiPage))
	require.NoError(t, err)
	require.Equal(t, "Background", doc.Sections[1].Heading)
}

func TestExtractFingerprintStableAcrossWhitespace(t *testing.T) {
	t.Parallel()

	e := New(sha256.New())
	a, err := e.Extract(wikiProfile(), sourceDoc(wikiPage))
	require.NoError(t, err)

	reformatted := sourceDoc(wikiPage)
	reformatted.Body = []byte(strings.ReplaceAll(wikiPage, "below  135   mEq/L", "below\n135 mEq/L"))
	b, err := e.Extract(wikiProfile(), reformatted)
	require.NoError(t, err)
	require.Equal(t, a.Fingerprint, b.Fingerprint, "whitespace-only changes must not change the fingerprint")
}

func TestExtractFingerprintChangesOnEdit(t *testing.T) {
	t.Parallel()

	e := New(sha256.New())
	a, err := e.Extract(wikiProfile(), sourceDoc(wikiPage))
	require.NoError(t, err)

	edited := sourceDoc(wikiPage)
	edited.Body = []byte(strings.ReplaceAll(wikiPage, "Correct slowly", "Correct rapidly"))
	b, err := e.Extract(wikiProfile(), edited)
	require.NoError(t, err)
	require.NotEqual(t, a.Fingerprint, b.Fingerprint)
}

func TestExtractMissingContainerIsParseError(t *testing.T) {
	t.Parallel()

	e := New(sha256.New())
	src := sourceDoc("<html><body><p>nothing here</p></body></html>")
	_, err := e.Extract(wikiProfile(), src)
	require.Error(t, err)
	require.False(t, pipeline.Transient(err))
}
