// Package extractor turns raw source payloads into normalized documents.
// Per-site differences are described entirely by the source profile; there
// is one extractor, not one per site.
package extractor

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/clinassist/kbpipeline/internal/config"
	"github.com/clinassist/kbpipeline/internal/pipeline"
)

// Default heading levels when a profile leaves them unset.
var defaultHeadings = []string{"h2", "h3"}

// Extractor parses raw content into pipeline.NormalizedDocument values.
type Extractor struct {
	hasher pipeline.Hasher
}

// New builds an Extractor.
func New(hasher pipeline.Hasher) *Extractor {
	return &Extractor{hasher: hasher}
}

// Extract produces a NormalizedDocument from one fetched payload.
func (e *Extractor) Extract(profile config.SourceProfile, src pipeline.SourceDocument) (pipeline.NormalizedDocument, error) {
	var (
		out pipeline.NormalizedDocument
		err error
	)
	if profile.Kind == config.KindDirectory {
		out, err = e.extractMarkdown(src)
	} else {
		out, err = e.extractHTML(profile, src)
	}
	if err != nil {
		return pipeline.NormalizedDocument{}, err
	}
	if len(out.Sections) == 0 {
		return pipeline.NormalizedDocument{}, &pipeline.ParseError{ID: src.ID, Reason: "no extractable sections"}
	}

	fingerprint, err := e.fingerprint(out.Sections)
	if err != nil {
		return pipeline.NormalizedDocument{}, fmt.Errorf("fingerprint %s: %w", src.ID, err)
	}
	out.Fingerprint = fingerprint
	out.Source = src.Source
	out.ID = src.ID
	out.Locator = src.Locator
	out.License = profile.License
	out.ExtractedAt = src.FetchedAt
	return out, nil
}

func (e *Extractor) extractHTML(profile config.SourceProfile, src pipeline.SourceDocument) (pipeline.NormalizedDocument, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(src.Body))
	if err != nil {
		return pipeline.NormalizedDocument{}, &pipeline.ParseError{ID: src.ID, Reason: err.Error()}
	}

	for _, sel := range profile.NoiseSelectors {
		doc.Find(sel).Remove()
	}

	content := doc.Find(profile.ContentSelector).First()
	if content.Length() == 0 {
		return pipeline.NormalizedDocument{}, &pipeline.ParseError{ID: src.ID, Reason: "content container not found"}
	}

	title := src.ID
	if profile.TitleSelector != "" {
		if t := strings.TrimSpace(doc.Find(profile.TitleSelector).First().Text()); t != "" {
			title = t
		}
	}

	walker := &sectionWalker{
		profile:  profile,
		headings: headingSet(profile),
		baseURL:  src.Locator,
		heading:  "Introduction",
		level:    2,
	}
	content.Children().Each(walker.visit)
	walker.flush()

	return pipeline.NormalizedDocument{
		Title:      title,
		Sections:   walker.sections,
		Media:      walker.media,
		CrossRefs:  walker.crossRefs,
		Categories: collectCategories(doc),
	}, nil
}

func (e *Extractor) fingerprint(sections []pipeline.Section) (string, error) {
	var b strings.Builder
	for i, s := range sections {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(Normalize(s.Text))
	}
	return e.hasher.Hash([]byte(b.String()))
}

func headingSet(profile config.SourceProfile) map[string]int {
	levels := profile.SectionHeadings
	if len(levels) == 0 {
		levels = defaultHeadings
	}
	set := make(map[string]int, len(levels))
	for _, h := range levels {
		h = strings.ToLower(strings.TrimSpace(h))
		if len(h) == 2 && h[0] == 'h' {
			if lvl, err := strconv.Atoi(h[1:]); err == nil {
				set[h] = lvl
			}
		}
	}
	return set
}

// sectionWalker accumulates sections while traversing the content
// container's direct children, splitting at configured heading levels.
type sectionWalker struct {
	profile  config.SourceProfile
	headings map[string]int
	baseURL  string

	heading string
	level   int
	parts   []string

	sections  []pipeline.Section
	media     []pipeline.MediaReference
	crossRefs []string
}

func (w *sectionWalker) visit(_ int, s *goquery.Selection) {
	name := goquery.NodeName(s)
	if lvl, ok := w.headings[name]; ok {
		w.flush()
		heading := strings.TrimSpace(s.Text())
		heading = strings.TrimSuffix(heading, "[edit]")
		w.heading = strings.TrimSpace(heading)
		w.level = lvl
		w.parts = nil
		return
	}

	if text := blockText(s); text != "" {
		w.parts = append(w.parts, text)
	}
	w.collectMedia(s)
	if strings.Contains(strings.ToLower(w.heading), "see also") {
		w.collectCrossRefs(s)
	}
}

func (w *sectionWalker) flush() {
	text := strings.TrimSpace(strings.Join(w.parts, "\n"))
	if text == "" {
		return
	}
	w.sections = append(w.sections, pipeline.Section{
		Heading: w.heading,
		Level:   w.level,
		Order:   len(w.sections) + 1,
		Text:    text,
	})
}

func (w *sectionWalker) collectMedia(s *goquery.Selection) {
	s.Find("img").Each(func(_ int, img *goquery.Selection) {
		src := w.mediaURL(img)
		if src == "" || w.filteredMedia(src) || tooSmall(img, w.profile.MinMediaWidth) {
			return
		}
		w.media = append(w.media, pipeline.MediaReference{
			URL:     src,
			Caption: img.AttrOr("alt", ""),
			Section: w.heading,
		})
	})
}

func (w *sectionWalker) mediaURL(img *goquery.Selection) string {
	attrs := w.profile.MediaAttrs
	if len(attrs) == 0 {
		attrs = []string{"src"}
	}
	for _, attr := range attrs {
		if v, ok := img.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return resolveURL(w.baseURL, strings.TrimSpace(v))
		}
	}
	return ""
}

func (w *sectionWalker) filteredMedia(src string) bool {
	for _, filter := range w.profile.MediaFilters {
		if strings.Contains(src, filter) {
			return true
		}
	}
	return false
}

func (w *sectionWalker) collectCrossRefs(s *goquery.Selection) {
	prefix := w.profile.LinkPrefix
	if prefix == "" {
		return
	}
	s.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := a.AttrOr("href", "")
		idx := strings.Index(href, prefix)
		if idx < 0 {
			return
		}
		slug := href[idx+len(prefix):]
		if slug == "" || skipSlug(slug, w.profile.SkipPrefixes) {
			return
		}
		if unescaped, err := url.PathUnescape(slug); err == nil {
			slug = unescaped
		}
		w.crossRefs = append(w.crossRefs, slug)
	})
}

func skipSlug(slug string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(slug, p) {
			return true
		}
	}
	return false
}

func tooSmall(img *goquery.Selection, minWidth int) bool {
	if minWidth <= 0 {
		return false
	}
	raw, ok := img.Attr("width")
	if !ok {
		return false
	}
	width, err := strconv.Atoi(raw)
	return err == nil && width < minWidth
}

func resolveURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

func collectCategories(doc *goquery.Document) []string {
	var cats []string
	seen := map[string]struct{}{}
	doc.Find(`a[href*="Category:"]`).Each(func(_ int, a *goquery.Selection) {
		name := strings.TrimSpace(a.Text())
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		cats = append(cats, name)
	})
	return cats
}

// blockText flattens one block element to plain text, keeping list and
// table structure readable.
func blockText(s *goquery.Selection) string {
	switch goquery.NodeName(s) {
	case "ul", "ol":
		return listText(s)
	case "table":
		return tableText(s)
	case "dl":
		return definitionText(s)
	case "script", "style", "nav", "aside":
		return ""
	default:
		if s.Find("ul, ol, table").Length() > 0 {
			var parts []string
			s.Children().Each(func(_ int, child *goquery.Selection) {
				if t := blockText(child); t != "" {
					parts = append(parts, t)
				}
			})
			if len(parts) > 0 {
				return strings.Join(parts, "\n")
			}
		}
		return strings.TrimSpace(Normalize(s.Text()))
	}
}

func listText(s *goquery.Selection) string {
	bullet := "- "
	if goquery.NodeName(s) == "ol" {
		bullet = ""
	}
	var lines []string
	s.ChildrenFiltered("li").Each(func(_ int, li *goquery.Selection) {
		if t := strings.TrimSpace(Normalize(li.Text())); t != "" {
			lines = append(lines, bullet+t)
		}
	})
	return strings.Join(lines, "\n")
}

func tableText(s *goquery.Selection) string {
	var rows []string
	s.Find("tr").Each(func(i int, tr *goquery.Selection) {
		var cells []string
		tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, strings.TrimSpace(Normalize(cell.Text())))
		})
		if len(cells) == 0 {
			return
		}
		rows = append(rows, "| "+strings.Join(cells, " | ")+" |")
		if i == 0 {
			seps := make([]string, len(cells))
			for j := range seps {
				seps[j] = "---"
			}
			rows = append(rows, "| "+strings.Join(seps, " | ")+" |")
		}
	})
	return strings.Join(rows, "\n")
}

func definitionText(s *goquery.Selection) string {
	var lines []string
	s.ChildrenFiltered("dt, dd").Each(func(_ int, item *goquery.Selection) {
		t := strings.TrimSpace(Normalize(item.Text()))
		if t == "" {
			return
		}
		if goquery.NodeName(item) == "dt" {
			lines = append(lines, "**"+t+"**")
		} else {
			lines = append(lines, "  "+t)
		}
	})
	return strings.Join(lines, "\n")
}
