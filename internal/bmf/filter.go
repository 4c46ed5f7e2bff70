package bmf

import (
	"strings"
	"time"

	"github.com/grantscope/grantscope/internal/normalize"
)

// Criteria is a predicate set over BMF columns. The zero value matches
// nothing: an empty criteria set returns an empty result rather than
// streaming the whole file.
type Criteria struct {
	States         []string `json:"states,omitempty"`
	Nationwide     bool     `json:"nationwide,omitempty"`
	NTEEPrefixes   []string `json:"ntee,omitempty"`
	RevenueMin     float64  `json:"revenue_min,omitempty"`
	RevenueMax     float64  `json:"revenue_max,omitempty"` // 0 = unbounded
	AssetsMin      float64  `json:"assets_min,omitempty"`
	AssetsMax      float64  `json:"assets_max,omitempty"` // 0 = unbounded
	FoundationOnly bool     `json:"foundation_only,omitempty"`
	NameContains   string   `json:"name_contains,omitempty"`
}

func (c Criteria) empty() bool {
	return len(c.States) == 0 && !c.Nationwide && len(c.NTEEPrefixes) == 0 &&
		c.RevenueMin == 0 && c.RevenueMax == 0 && c.AssetsMin == 0 && c.AssetsMax == 0 &&
		!c.FoundationOnly && c.NameContains == ""
}

// Perf records how a filter evaluation went.
type Perf struct {
	RowsScanned int           `json:"rows_scanned"`
	RowsMatched int           `json:"rows_matched"`
	Elapsed     time.Duration `json:"elapsed"`
	IndexUsed   string        `json:"index_used"`
}

// Filter evaluates the criteria, driving the scan off the most
// selective available index. Results are ordered (revenue desc,
// EIN asc); limit <= 0 means unlimited.
func (t *Table) Filter(c Criteria, limit int) ([]Org, Perf) {
	start := time.Now()
	if c.empty() {
		return nil, Perf{Elapsed: time.Since(start)}
	}

	t.mu.RLock()
	s := t.s
	t.mu.RUnlock()

	candidates, indexUsed := s.narrow(c)
	match := c.predicate()

	var out []Org
	scanned := 0
	for _, i := range candidates {
		scanned++
		if match(s.rows[i]) {
			out = append(out, s.rows[i])
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, Perf{
		RowsScanned: scanned,
		RowsMatched: len(out),
		Elapsed:     time.Since(start),
		IndexUsed:   indexUsed,
	}
}

// narrow picks the candidate posting list with the smallest estimated
// cardinality. Candidate lists are already in output order, so the
// merged stream stays ordered without a post-sort.
func (s *snapshot) narrow(c Criteria) ([]int, string) {
	type plan struct {
		lists [][]int
		name  string
		card  int
	}
	var plans []plan

	if len(c.States) > 0 {
		p := plan{name: "state"}
		for _, st := range c.States {
			l := s.byState[canonicalState(st)]
			p.lists = append(p.lists, l)
			p.card += len(l)
		}
		plans = append(plans, p)
	}
	if len(c.NTEEPrefixes) > 0 {
		p := plan{name: "ntee"}
		seen := map[string]bool{}
		for _, pref := range c.NTEEPrefixes {
			pref = strings.ToUpper(strings.TrimSpace(pref))
			if pref == "" || seen[pref[:1]] {
				continue
			}
			seen[pref[:1]] = true
			l := s.byMajor[pref[:1]]
			p.lists = append(p.lists, l)
			p.card += len(l)
		}
		if len(p.lists) == 0 {
			// Unknown prefix set: provably empty.
			return nil, "ntee"
		}
		plans = append(plans, p)
	}

	if len(plans) == 0 {
		return s.allOrder, "full"
	}
	best := plans[0]
	for _, p := range plans[1:] {
		if p.card < best.card {
			best = p
		}
	}
	if len(best.lists) == 1 {
		return best.lists[0], best.name
	}
	return mergeOrdered(s, best.lists), best.name
}

// mergeOrdered merges posting lists preserving (revenue desc, EIN asc).
func mergeOrdered(s *snapshot, lists [][]int) []int {
	if len(lists) == 1 {
		return lists[0]
	}
	less := func(a, b int) bool {
		ra, rb := s.rows[a], s.rows[b]
		if ra.Revenue != rb.Revenue {
			return ra.Revenue > rb.Revenue
		}
		return ra.EIN < rb.EIN
	}
	heads := make([]int, len(lists))
	var out []int
	for {
		bestList := -1
		for li, l := range lists {
			if heads[li] >= len(l) {
				continue
			}
			if bestList == -1 || less(l[heads[li]], lists[bestList][heads[bestList]]) {
				bestList = li
			}
		}
		if bestList == -1 {
			return out
		}
		out = append(out, lists[bestList][heads[bestList]])
		heads[bestList]++
	}
}

// predicate compiles the full criteria into one row check.
func (c Criteria) predicate() func(Org) bool {
	states := map[string]bool{}
	for _, st := range c.States {
		states[canonicalState(st)] = true
	}
	var prefixes []string
	for _, p := range c.NTEEPrefixes {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			prefixes = append(prefixes, p)
		}
	}
	nameNeedle := normalize.OrgName(c.NameContains)

	return func(o Org) bool {
		// states=∅ with nationwide=true means no state restriction.
		if len(states) > 0 && !states[o.State] {
			return false
		}
		if len(prefixes) > 0 {
			ok := false
			for _, p := range prefixes {
				if o.NTEE.MatchesPrefix(p) {
					ok = true
					break
				}
			}
			if !ok {
				return false
			}
		}
		if c.RevenueMin > 0 && o.Revenue < c.RevenueMin {
			return false
		}
		if c.RevenueMax > 0 && o.Revenue > c.RevenueMax {
			return false
		}
		if c.AssetsMin > 0 && o.Assets < c.AssetsMin {
			return false
		}
		if c.AssetsMax > 0 && o.Assets > c.AssetsMax {
			return false
		}
		if c.FoundationOnly && !o.IsPrivateFoundation() {
			return false
		}
		if nameNeedle != "" && !strings.Contains(o.CanonicalName, nameNeedle) {
			return false
		}
		return true
	}
}
