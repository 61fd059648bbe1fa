package boundary

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// adminAffixes are designations that vary between sources for the same area.
var adminAffixes = []string{"CITY OF ", " CITY", " MUNICIPALITY", " CAPITAL"}

var (
	nonAlnumRe   = regexp.MustCompile(`[^A-Z0-9 ]+`)
	multiSpaceRe = regexp.MustCompile(`\s{2,}`)
)

// NormalizeName standardizes an area name for equality matching by:
//  1. Stripping accents (NFD, drop combining marks)
//  2. Converting to uppercase
//  3. Replacing punctuation with spaces
//  4. Removing common designations (City of, Municipality)
//  5. Collapsing whitespace
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, name); err == nil {
		name = folded
	}
	name = strings.ToUpper(name)
	name = nonAlnumRe.ReplaceAllString(name, " ")
	name = multiSpaceRe.ReplaceAllString(name, " ")
	name = strings.TrimSpace(name)

	for _, a := range adminAffixes {
		switch {
		case strings.HasPrefix(a, " ") && strings.HasSuffix(name, a):
			name = strings.TrimSuffix(name, a)
		case strings.HasSuffix(a, " ") && strings.HasPrefix(name, a):
			name = strings.TrimPrefix(name, a)
		}
	}
	return strings.TrimSpace(name)
}
