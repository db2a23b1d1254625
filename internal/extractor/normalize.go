package extractor

import "strings"

// Normalize collapses runs of whitespace so that incidental formatting
// differences (site template churn, re-wrapped lines) do not change the
// content fingerprint, while any textual edit does.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

