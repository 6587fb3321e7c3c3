package slots

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldTransformer strips combining marks after NFD decomposition, so
// "Málaga" and "Malaga" compare equal.
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// fold lowercases and removes diacritics for comparison purposes
func fold(s string) string {
	out, _, err := transform.String(foldTransformer, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

// cleanValue trims and collapses internal whitespace in an extracted value
func cleanValue(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
