package normalize

import "strings"

// NTEECode is a parsed National Taxonomy of Exempt Entities code:
// a major-group letter plus an optional numeric leaf ("B25" -> B, 25).
type NTEECode struct {
	Major string
	Leaf  string
}

// ParseNTEE splits an NTEE code into major letter and leaf digits.
// Common-code prefixes and trailing decimal qualifiers are dropped.
// Returns false for anything that does not start with A-Z.
func ParseNTEE(raw string) (NTEECode, bool) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return NTEECode{}, false
	}
	major := s[:1]
	if major < "A" || major > "Z" {
		return NTEECode{}, false
	}
	leaf := s[1:]
	if i := strings.IndexByte(leaf, '.'); i >= 0 {
		leaf = leaf[:i]
	}
	for _, r := range leaf {
		if r < '0' || r > '9' {
			return NTEECode{Major: major}, true
		}
	}
	return NTEECode{Major: major, Leaf: leaf}, true
}

func (c NTEECode) String() string { return c.Major + c.Leaf }

// MatchesPrefix reports whether the code falls under the given prefix:
// "P" matches every P-group code, "P20" matches P20, P200, P21 is not
// matched. Prefix comparison is textual over the canonical form.
func (c NTEECode) MatchesPrefix(prefix string) bool {
	p := strings.ToUpper(strings.TrimSpace(prefix))
	if p == "" {
		return false
	}
	return strings.HasPrefix(c.String(), p)
}

// NTEEAlignment scores how closely two NTEE codes agree: major-group
// match contributes 40%, leaf match the remaining 60%. A shared major
// with a shared leading leaf digit earns half the leaf weight.
func NTEEAlignment(a, b NTEECode) float64 {
	if a.Major == "" || b.Major == "" {
		return 0
	}
	if a.Major != b.Major {
		return 0
	}
	score := 0.4
	switch {
	case a.Leaf != "" && a.Leaf == b.Leaf:
		score += 0.6
	case a.Leaf != "" && b.Leaf != "" && a.Leaf[:1] == b.Leaf[:1]:
		score += 0.3
	}
	return score
}
