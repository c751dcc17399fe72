package model

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// slugFold strips diacritics so "añejo" and "anejo" produce the same slug.
var slugFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify normalizes a version identifier (branch/tag name) into a URL-safe
// slug. Slashes and other separators collapse to single dashes; case folds
// to lower. The mapping is stable: the same identifier always yields the
// same slug.
func Slugify(identifier string) string {
	folded, _, err := transform.String(slugFold, identifier)
	if err != nil {
		folded = identifier
	}

	var b strings.Builder
	b.Grow(len(folded))
	lastDash := true // trim leading separators
	for _, r := range strings.ToLower(folded) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
