// Package bmf maintains an indexed in-memory copy of the IRS Business
// Master File and evaluates multi-predicate filters over it. The table
// is read-mostly: a reader-writer lock guards index swaps during
// background refresh while queries proceed lock-free on the snapshot.
package bmf

import (
	"sort"
	"strings"
	"sync"

	"github.com/grantscope/grantscope/internal/normalize"
)

// Org is one Business Master File row.
type Org struct {
	EIN            string             `json:"ein"`
	Name           string             `json:"name"`
	CanonicalName  string             `json:"canonical_name"`
	City           string             `json:"city"`
	State          string             `json:"state"`
	NTEE           normalize.NTEECode `json:"ntee"`
	NTEERaw        string             `json:"ntee_raw"`
	Revenue        float64            `json:"revenue"`
	Assets         float64            `json:"assets"`
	FoundationCode string             `json:"foundation_code"`
}

// IsPrivateFoundation reports whether the BMF foundation code marks a
// private operating or non-operating foundation (codes 02-04).
func (o Org) IsPrivateFoundation() bool {
	switch o.FoundationCode {
	case "02", "03", "04":
		return true
	}
	return false
}

// Table is the indexed master file snapshot.
type Table struct {
	mu sync.RWMutex
	s  *snapshot
}

type snapshot struct {
	rows []Org
	// Posting lists hold row indexes ordered (revenue desc, EIN asc)
	// so index-driven scans stream in output order.
	byState map[string][]int
	byMajor map[string][]int
	byEIN   map[string]int
	// allOrder lists every row in (revenue desc, EIN asc) order for
	// scans no index can narrow.
	allOrder []int
}

// NewTable builds a table over the given rows.
func NewTable(rows []Org) *Table {
	t := &Table{}
	t.Refresh(rows)
	return t
}

// Refresh atomically replaces the snapshot, rebuilding every index.
func (t *Table) Refresh(rows []Org) {
	s := &snapshot{
		rows:    rows,
		byState: map[string][]int{},
		byMajor: map[string][]int{},
		byEIN:   map[string]int{},
	}
	order := make([]int, len(rows))
	for i := range rows {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		ra, rb := rows[order[a]], rows[order[b]]
		if ra.Revenue != rb.Revenue {
			return ra.Revenue > rb.Revenue
		}
		return ra.EIN < rb.EIN
	})
	for _, i := range order {
		r := rows[i]
		if r.State != "" {
			s.byState[r.State] = append(s.byState[r.State], i)
		}
		if r.NTEE.Major != "" {
			s.byMajor[r.NTEE.Major] = append(s.byMajor[r.NTEE.Major], i)
		}
		if r.EIN != "" {
			s.byEIN[normalize.EINDigits(r.EIN)] = i
		}
	}
	s.allOrder = order

	t.mu.Lock()
	t.s = s
	t.mu.Unlock()
}

// Len returns the row count.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.s.rows)
}

// ByEIN looks up a single organization.
func (t *Table) ByEIN(ein string) (Org, bool) {
	t.mu.RLock()
	s := t.s
	t.mu.RUnlock()
	i, ok := s.byEIN[normalize.EINDigits(ein)]
	if !ok {
		return Org{}, false
	}
	return s.rows[i], true
}

func canonicalState(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }
