package registry

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName is the form names are compared in: trimmed, internal
// whitespace collapsed and case-folded. Width and compatibility forms are
// folded first (NFKC), so full-width titles equal their ASCII spelling.
func NormalizeName(s string) string {
	// Casers are stateful; one per call keeps this safe across workers.
	folded := cases.Fold().String(norm.NFKC.String(s))
	return strings.Join(strings.Fields(folded), " ")
}
