// Package normalize produces the canonical forms shared across
// filings: person and organization names, EINs, NTEE codes, states,
// officer role categories, and influence scores. Every function is
// deterministic for equal input bytes.
package normalize

import (
	"regexp"
	"strings"
)

var (
	personTitles = []string{"DR.", "DR", "MR.", "MR", "MRS.", "MRS", "MS.", "MS", "PROF.", "PROF", "REV.", "REV"}
	nameSuffixes = map[string]bool{
		"JR": true, "SR": true, "II": true, "III": true, "IV": true, "ESQ": true,
	}
	punctRe      = regexp.MustCompile(`[^\pL\pN\s-]`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// PersonName strips honorifics and generational suffixes, removes
// punctuation, collapses whitespace, and folds to upper case.
func PersonName(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	s = punctRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "-", " ")
	words := whitespaceRe.Split(s, -1)

	// Leading honorifics may stack ("REV DR JANE DOE").
	for len(words) > 0 && isTitle(words[0]) {
		words = words[1:]
	}
	// Trailing suffixes likewise ("JOHN SMITH JR ESQ").
	for len(words) > 0 && nameSuffixes[words[len(words)-1]] {
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

func isTitle(w string) bool {
	for _, t := range personTitles {
		if w == strings.TrimSuffix(t, ".") || w == t {
			return true
		}
	}
	return false
}

// OrgName removes punctuation, folds hyphens to spaces, collapses
// whitespace, and upper-cases. No stemming or stop-word removal: two
// organizations compare equal only on byte-identical canonical forms.
func OrgName(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	s = punctRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "-", " ")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
