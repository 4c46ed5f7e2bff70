package irsxml

import (
	"fmt"
	"time"
)

// qualityBuilder accumulates parse outcomes while a form decodes and
// produces the final per-filing quality assessment. A malformed field
// never fails the filing; it lowers the validation rate instead.
type qualityBuilder struct {
	fieldsTotal int
	fieldsOK    int
	counts      map[string]int
	finPresent  int
	finTotal    int
	govSeen     bool
	errs        []string
}

func newQualityBuilder() *qualityBuilder {
	return &qualityBuilder{counts: map[string]int{}}
}

func (q *qualityBuilder) recordField(ok bool, what string) {
	q.fieldsTotal++
	if ok {
		q.fieldsOK++
	} else {
		q.errs = append(q.errs, "malformed "+what)
	}
}

func (q *qualityBuilder) recordError(msg string) {
	q.fieldsTotal++
	q.errs = append(q.errs, msg)
}

func (q *qualityBuilder) count(category string, n int) {
	q.counts[category] = n
}

// amount reads the first present alternative among the given local
// names. Absent lines read as zero without penalty.
func (q *qualityBuilder) amount(n *node, names ...string) float64 {
	for _, name := range names {
		if n.first(name) == nil {
			continue
		}
		v, ok := n.num(name)
		q.recordField(ok, name)
		return v
	}
	return 0
}

// amountAt reads a numeric element at a local-name path.
func (q *qualityBuilder) amountAt(n *node, path ...string) float64 {
	if n.first(path...) == nil {
		return 0
	}
	v, ok := n.num(path...)
	q.recordField(ok, path[len(path)-1])
	return v
}

func (q *qualityBuilder) financial(fin *FinancialSummary) {
	lines := []float64{fin.TotalRevenue, fin.TotalExpenses, fin.TotalAssets, fin.NetAssets, fin.Contributions}
	q.finTotal = len(lines)
	for _, v := range lines {
		if v != 0 {
			q.finPresent++
		}
	}
}

func (q *qualityBuilder) governanceSeen(seen bool) { q.govSeen = seen }

func (q *qualityBuilder) build(f *Filing) Quality {
	rate := 1.0
	if q.fieldsTotal > 0 {
		rate = float64(q.fieldsOK) / float64(q.fieldsTotal)
	}

	comp := map[string]float64{}
	for cat, n := range q.counts {
		if n > 0 {
			comp[cat] = 1
		} else {
			comp[cat] = 0
		}
	}
	if q.finTotal > 0 {
		comp["financial"] = float64(q.finPresent) / float64(q.finTotal)
	}
	if q.govSeen {
		comp["governance"] = 1
	} else {
		comp["governance"] = 0
	}

	var sum float64
	for _, v := range comp {
		sum += v
	}
	mean := 0.0
	if len(comp) > 0 {
		mean = sum / float64(len(comp))
	}
	overall := 0.5*rate + 0.5*mean
	if overall > 1 {
		overall = 1
	}

	return Quality{
		Overall:        overall,
		ValidationRate: rate,
		Completeness:   comp,
		Freshness:      freshnessGrade(f.TaxYear, time.Now().UTC().Year()),
		ParseErrors:    q.errs,
	}
}

// freshnessGrade letters a filing by tax-year age: the two most recent
// years grade A, then B, then C, anything older D.
func freshnessGrade(taxYear, currentYear int) string {
	if taxYear == 0 {
		return "D"
	}
	switch age := currentYear - taxYear; {
	case age <= 1:
		return "A"
	case age == 2:
		return "B"
	case age == 3:
		return "C"
	default:
		return "D"
	}
}

// Key identifies a filing in the intelligence store.
func (f *Filing) Key() string {
	return fmt.Sprintf("%s/%d/%s", f.EIN, f.TaxYear, f.Kind)
}
