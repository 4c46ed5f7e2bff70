package normalize

import (
	"regexp"
	"strings"
)

var postalStates = map[string]bool{
	"AL": true, "AK": true, "AZ": true, "AR": true, "CA": true, "CO": true,
	"CT": true, "DE": true, "FL": true, "GA": true, "HI": true, "ID": true,
	"IL": true, "IN": true, "IA": true, "KS": true, "KY": true, "LA": true,
	"ME": true, "MD": true, "MA": true, "MI": true, "MN": true, "MS": true,
	"MO": true, "MT": true, "NE": true, "NV": true, "NH": true, "NJ": true,
	"NM": true, "NY": true, "NC": true, "ND": true, "OH": true, "OK": true,
	"OR": true, "PA": true, "RI": true, "SC": true, "SD": true, "TN": true,
	"TX": true, "UT": true, "VT": true, "VA": true, "WA": true, "WV": true,
	"WI": true, "WY": true, "DC": true, "PR": true, "VI": true, "GU": true,
}

var zipRe = regexp.MustCompile(`^\d{5}(-\d{4})?$`)

// IsState reports whether s is a two-letter postal abbreviation.
func IsState(s string) bool { return postalStates[strings.ToUpper(s)] }

// StateFromLocation extracts the postal state from a free-form
// location string like "Richmond, VA 23220". The state is the last
// comma-separated token before an optional ZIP.
func StateFromLocation(loc string) (string, bool) {
	parts := strings.Split(loc, ",")
	if len(parts) == 0 {
		return "", false
	}
	last := strings.Fields(strings.TrimSpace(parts[len(parts)-1]))
	// Walk backwards past a ZIP if present.
	for i := len(last) - 1; i >= 0; i-- {
		tok := strings.ToUpper(last[i])
		if zipRe.MatchString(tok) {
			continue
		}
		if postalStates[tok] {
			return tok, true
		}
		return "", false
	}
	return "", false
}
