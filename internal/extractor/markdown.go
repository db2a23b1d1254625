package extractor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/clinassist/kbpipeline/internal/pipeline"
)

var mdHeading = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)

// extractMarkdown handles directory-kind sources: uploaded protocols stored
// as markdown or plain text. The first level-1 heading becomes the title;
// lower headings delimit sections.
func (e *Extractor) extractMarkdown(src pipeline.SourceDocument) (pipeline.NormalizedDocument, error) {
	text := string(src.Body)
	if strings.TrimSpace(text) == "" {
		return pipeline.NormalizedDocument{}, &pipeline.ParseError{ID: src.ID, Reason: "empty document"}
	}

	title := src.ID
	heading := "Introduction"
	level := 2
	var parts []string
	var sections []pipeline.Section

	flush := func() {
		body := strings.TrimSpace(strings.Join(parts, "\n"))
		if body == "" {
			return
		}
		sections = append(sections, pipeline.Section{
			Heading: heading,
			Level:   level,
			Order:   len(sections) + 1,
			Text:    body,
		})
	}

	for _, line := range strings.Split(text, "\n") {
		m := mdHeading.FindStringSubmatch(line)
		if m == nil {
			parts = append(parts, line)
			continue
		}
		if len(m[1]) == 1 {
			title = strings.TrimSpace(m[2])
			continue
		}
		flush()
		heading = strings.TrimSpace(m[2])
		level = len(m[1])
		parts = nil
	}
	flush()

	// A plain-text file with no headings still yields one section.
	if len(sections) == 0 {
		trimmed := strings.TrimSpace(text)
		if trimmed != "" {
			sections = append(sections, pipeline.Section{Heading: "Introduction", Level: 2, Order: 1, Text: trimmed})
		}
	}

	return pipeline.NormalizedDocument{Title: title, Sections: sections}, nil
}

// Markdown renders a normalized document to the human-readable form written
// to the processed artifact store.
func Markdown(doc pipeline.NormalizedDocument) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", doc.Title)
	if doc.License != "" {
		fmt.Fprintf(&b, "Source: %s (%s)\n", doc.Locator, doc.License)
	} else {
		fmt.Fprintf(&b, "Source: %s\n", doc.Locator)
	}
	if len(doc.Categories) > 0 {
		fmt.Fprintf(&b, "Categories: %s\n", strings.Join(doc.Categories, ", "))
	}
	b.WriteString("\n")
	for _, s := range doc.Sections {
		level := s.Level
		if level < 2 {
			level = 2
		}
		fmt.Fprintf(&b, "%s %s\n\n%s\n\n", strings.Repeat("#", level), s.Heading, s.Text)
	}
	return b.String()
}
