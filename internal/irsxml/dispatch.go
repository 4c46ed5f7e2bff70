package irsxml

import (
	"strconv"
	"time"

	"github.com/grantscope/grantscope/internal/fault"
	"github.com/grantscope/grantscope/internal/normalize"
)

// marker tags under ReturnData that identify each variant.
var markers = map[FormKind]string{
	Form990:   "IRS990",
	Form990PF: "IRS990PF",
	Form990EZ: "IRS990EZ",
}

// Detect inspects a return document and reports its form variant.
// A document carrying markers for more than one variant is rejected:
// the parsers fail closed rather than guess.
func Detect(data []byte) (FormKind, error) {
	root, err := parseTree(data)
	if err != nil {
		return "", err
	}
	return detect(root)
}

func detect(root *node) (FormKind, error) {
	if root.name != "Return" {
		return "", fault.New(fault.KindInvalidFiling, "root element %q is not a Return", root.name)
	}
	rd := root.findDeep("ReturnData")
	if rd == nil {
		return "", fault.New(fault.KindInvalidFiling, "missing ReturnData")
	}
	var found []FormKind
	// IRS990EZ and IRS990PF both contain "IRS990" as a substring but
	// not as a local name, so exact matching keeps this unambiguous.
	for _, kind := range []FormKind{Form990, Form990PF, Form990EZ} {
		for _, c := range rd.children {
			if c.name == markers[kind] {
				found = append(found, kind)
				break
			}
		}
	}
	switch len(found) {
	case 0:
		return "", fault.New(fault.KindInvalidFiling, "no recognized form marker")
	case 1:
		return found[0], nil
	default:
		return "", fault.New(fault.KindMismatchedFormKind,
			"document carries markers for %v", found)
	}
}

// Parse decodes a raw return. When declared is non-empty the document
// must match it; a foreign variant fails with MismatchedFormKind.
func Parse(data []byte, declared FormKind) (*Filing, error) {
	root, err := parseTree(data)
	if err != nil {
		return nil, err
	}
	kind, err := detect(root)
	if err != nil {
		return nil, err
	}
	if declared != "" && declared != kind {
		return nil, fault.New(fault.KindMismatchedFormKind,
			"declared %s but document is %s", declared, kind)
	}

	f := &Filing{Kind: kind, ParsedAt: time.Now().UTC()}
	parseHeader(root, f)

	q := newQualityBuilder()
	switch kind {
	case Form990:
		parse990(root, f, q)
	case Form990PF:
		parse990PF(root, f, q)
	case Form990EZ:
		parse990EZ(root, f, q)
	}
	f.Quality = q.build(f)
	return f, nil
}

func parseHeader(root *node, f *Filing) {
	hdr := root.findDeep("ReturnHeader")
	if hdr == nil {
		return
	}
	if ein, ok := normalize.EIN(hdr.str("Filer", "EIN")); ok {
		f.EIN = ein
	}
	if bn := hdr.first("Filer", "BusinessName"); bn != nil {
		f.OrgName = businessName(bn)
	} else {
		f.OrgName = hdr.str("Filer", "BusinessNameLine1Txt")
	}
	if y := hdr.str("TaxYr"); y != "" {
		if v, err := strconv.Atoi(y); err == nil {
			f.TaxYear = v
		}
	}
	if f.TaxYear == 0 {
		if end := hdr.str("TaxPeriodEndDt"); len(end) >= 4 {
			if v, err := strconv.Atoi(end[:4]); err == nil {
				f.TaxYear = v
			}
		}
	}
}

func newOfficer(raw, title string, hours, comp float64, isOfficer, isDirector bool) Officer {
	role := normalize.Role(normalize.RoleInput{
		Title:        title,
		IsOfficer:    isOfficer,
		IsDirector:   isDirector,
		Compensation: comp,
	})
	cfg := normalize.DefaultInfluenceConfig()
	return Officer{
		RawName:       raw,
		CanonicalName: normalize.PersonName(raw),
		Title:         title,
		Role:          role,
		Compensation:  comp,
		WeeklyHours:   hours,
		Influence:     normalize.Influence(cfg, role, comp, hours, nil),
		IsOfficer:     isOfficer,
		IsDirector:    isDirector,
	}
}
