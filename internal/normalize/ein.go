package normalize

import (
	"regexp"
	"strings"
)

// invalidEINPrefixes are two-digit campus prefixes the IRS has never
// assigned. Anything carrying one is rejected outright.
var invalidEINPrefixes = map[string]bool{
	"00": true, "07": true, "08": true, "09": true, "17": true,
	"18": true, "19": true, "28": true, "29": true, "49": true,
	"69": true, "70": true, "78": true, "79": true, "89": true,
	"96": true, "97": true,
}

var einDigitsRe = regexp.MustCompile(`^\d{9}$`)

// EIN canonicalizes an employer identification number to XX-XXXXXXX
// form. Accepts "XX-XXXXXXX" or nine consecutive digits. The boolean
// reports validity; the string is empty when invalid.
func EIN(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	if !einDigitsRe.MatchString(s) {
		return "", false
	}
	if invalidEINPrefixes[s[:2]] {
		return "", false
	}
	return s[:2] + "-" + s[2:], true
}

// EINDigits returns the bare nine digits of a canonical or raw EIN,
// or "" when invalid. Index keys use this form.
func EINDigits(raw string) string {
	c, ok := EIN(raw)
	if !ok {
		return ""
	}
	return strings.ReplaceAll(c, "-", "")
}
