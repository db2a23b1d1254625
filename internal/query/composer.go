package query

import (
	"fmt"
	"strings"
)

// Composer turns ranked snippets into the answer text. The extractive
// composer below just stitches snippets together; a generative layer can be
// dropped in behind the same interface.
type Composer interface {
	Compose(query string, snippets []string) string
}

// ExtractiveComposer joins the top snippets, tagging each with the [n]
// marker of its citation.
type ExtractiveComposer struct{}

func (ExtractiveComposer) Compose(_ string, snippets []string) string {
	var b strings.Builder
	for i, s := range snippets {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		fmt.Fprintf(&b, "%s [%d]\n\n", s, i+1)
	}
	return strings.TrimSpace(b.String())
}
