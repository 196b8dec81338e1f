package extract

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lower-cases s and strips combining marks, so "Mañana" and "manana"
// compare equal. Byte offsets into the folded string are what every pattern
// in this package reports.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// squeeze collapses runs of whitespace to a single space.
func squeeze(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func normalize(s string) string {
	return squeeze(Fold(s))
}
