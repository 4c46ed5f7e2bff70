package scoring

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/grantscope/grantscope/internal/normalize"
)

// SeekerProfile is the grant-seeking organization as the foundation
// track sees it.
type SeekerProfile struct {
	NTEE          string   `json:"ntee"`
	State         string   `json:"state"`
	ServiceStates []string `json:"service_states,omitempty"`
	Revenue       float64  `json:"revenue"`
}

// FoundationFacts are the 990-PF-derived facts about one foundation.
type FoundationFacts struct {
	NTEE                 string   `json:"ntee"`
	Assets               float64  `json:"assets"`
	TypicalGrant         float64  `json:"typical_grant"`
	GeographicFocus      []string `json:"geographic_focus,omitempty"`
	NationalFocus        bool     `json:"national_focus"`
	ApplicationsOpen     bool     `json:"applications_open"`
	MostRecentFilingYear int      `json:"most_recent_filing_year"`
	// Operating is nil when the operating/non-operating status is
	// unknown; grantmakers (non-operating) are preferred.
	Operating          *bool    `json:"operating,omitempty"`
	RecipientNTEECodes []string `json:"recipient_ntee_codes,omitempty"`
	GrantsPaidRecently int      `json:"grants_paid_recently"`
}

// FoundationConfig carries injected tables and thresholds.
type FoundationConfig struct {
	// Adjacency maps a state to its neighbors; used for the 0.75
	// adjacent-state geographic score. Nil disables adjacency credit.
	Adjacency map[string][]string
	// RecencyYears is the filing-recency safeguard threshold.
	RecencyYears int
	// CurrentYear overrides the clock in tests; 0 means now.
	CurrentYear int
}

func (c *FoundationConfig) withDefaults() {
	if c.RecencyYears <= 0 {
		c.RecencyYears = 3
	}
	if c.CurrentYear == 0 {
		c.CurrentYear = time.Now().UTC().Year()
	}
}

// Foundation-track dimension weights.
const (
	wMission    = 0.30
	wGeographic = 0.20
	wFinancial  = 0.28
	wStrategic  = 0.12
	wTiming     = 0.10
)

// ScoreFoundation runs the single-pass foundation-track composite.
// Safeguard hard flags arrive from EvaluateSafeguards and force
// Abstain alongside the scoring triggers.
func ScoreFoundation(profile SeekerProfile, facts FoundationFacts, cfg FoundationConfig, flags []Flag) CompositeScore {
	cfg.withDefaults()

	var triggers []string
	for _, f := range flags {
		if f.Hard {
			triggers = append(triggers, "safeguard:"+f.Name)
		}
	}

	profileNTEE, profileOK := normalize.ParseNTEE(profile.NTEE)
	foundationNTEE, foundationOK := normalize.ParseNTEE(facts.NTEE)

	mission := 0.0
	missionDQ := 0.0
	if profileOK && foundationOK {
		mission = normalize.NTEEAlignment(profileNTEE, foundationNTEE)
		missionDQ = 1
		if mission < 0.20 {
			triggers = append(triggers, "ntee_alignment_below_floor")
		}
	} else {
		triggers = append(triggers, "missing_ntee_codes")
	}

	geo, geoDQ, geoMismatch := geographicFit(profile.State, facts, cfg.Adjacency)
	if geoMismatch {
		triggers = append(triggers, "geographic_mismatch")
	}

	financial, financialDQ := financialMatch(profile, facts)
	coherence, strategicDQ := recipientCoherence(facts.RecipientNTEECodes)
	timing, timingDQ := timingScore(facts, cfg.CurrentYear)

	// The coherence boost is multiplicative on the strategic dimension,
	// capped at +15% like every other dimension boost.
	strategicBoost := 1 + 0.15*coherence
	if strategicBoost > maxBoost {
		strategicBoost = maxBoost
	}

	dims := []DimensionalScore{
		{Dimension: "mission_alignment", Raw: mission, Weight: wMission, DataQuality: missionDQ},
		{Dimension: "geographic_fit", Raw: geo, Weight: wGeographic, DataQuality: geoDQ},
		{Dimension: "financial_match", Raw: financial, Weight: wFinancial, DataQuality: financialDQ},
		{Dimension: "strategic_alignment", Raw: coherence, Weight: wStrategic, Boost: strategicBoost, DataQuality: strategicDQ},
		{Dimension: "timing", Raw: timing, Weight: wTiming, DataQuality: timingDQ},
	}

	enhancements := 0
	if len(facts.RecipientNTEECodes) > 0 {
		enhancements++
	}
	if facts.Assets > 0 {
		enhancements++
	}
	return compose("foundation", dims, 0, enhancements, triggers)
}

// geographicFit: exact focus state 1.0, adjacent 0.75 (when an
// adjacency table is supplied), national focus 0.5, mismatch 0.
func geographicFit(state string, facts FoundationFacts, adjacency map[string][]string) (score, dq float64, mismatch bool) {
	if state == "" {
		return 0, 0, false
	}
	dq = 1
	if len(facts.GeographicFocus) == 0 {
		if facts.NationalFocus {
			return 0.5, dq, false
		}
		return 0, 0.5, false
	}
	focus := map[string]bool{}
	for _, s := range facts.GeographicFocus {
		focus[s] = true
	}
	if focus[state] {
		return 1.0, dq, false
	}
	if adjacency != nil {
		for _, n := range adjacency[state] {
			if focus[n] {
				return 0.75, dq, false
			}
		}
	}
	if facts.NationalFocus {
		return 0.5, dq, false
	}
	return 0, dq, true
}

// financialMatch combines asset capacity, grant-to-revenue ratio, and
// applications-open policy, weighted 10/10/8 within the dimension.
func financialMatch(profile SeekerProfile, facts FoundationFacts) (float64, float64) {
	asset := assetCapacityTier(facts.Assets)
	ratio := grantRatioTier(facts.TypicalGrant, profile.Revenue)
	open := 0.2
	if facts.ApplicationsOpen {
		open = 1.0
	}
	score := (10*asset + 10*ratio + 8*open) / 28

	dq := 1.0
	if facts.Assets == 0 || profile.Revenue == 0 {
		dq = 0.5
	}
	return clamp01(score), dq
}

func assetCapacityTier(assets float64) float64 {
	switch {
	case assets >= 100_000_000:
		return 1.0
	case assets >= 25_000_000:
		return 0.75
	case assets >= 10_000_000:
		return 0.55
	case assets >= 5_000_000:
		return 0.30
	case assets >= 1_000_000:
		return 0.15
	default:
		return 0.05
	}
}

func grantRatioTier(typicalGrant, revenue float64) float64 {
	if typicalGrant <= 0 || revenue <= 0 {
		return 0.5
	}
	ratio := typicalGrant / revenue
	switch {
	case ratio >= 0.01 && ratio <= 0.25:
		return 1.0
	case ratio >= 0.005 && ratio <= 0.5:
		return 0.6
	default:
		return 0.3
	}
}

// recipientCoherence measures how concentrated a foundation's giving
// is: 1 minus the normalized entropy of the top-5 recipient NTEE major
// groups. A foundation that funds one field scores 1.
func recipientCoherence(codes []string) (float64, float64) {
	counts := map[string]int{}
	total := 0
	for _, raw := range codes {
		if c, ok := normalize.ParseNTEE(raw); ok {
			counts[c.Major]++
			total++
		}
	}
	if total == 0 {
		return 0, 0
	}
	dq := clamp01(float64(total) / 10)
	if len(counts) == 1 {
		return 1, dq
	}

	type mc struct {
		major string
		n     int
	}
	majors := make([]mc, 0, len(counts))
	for m, n := range counts {
		majors = append(majors, mc{m, n})
	}
	sort.Slice(majors, func(i, j int) bool {
		if majors[i].n != majors[j].n {
			return majors[i].n > majors[j].n
		}
		return majors[i].major < majors[j].major
	})
	if len(majors) > 5 {
		majors = majors[:5]
	}
	kept := 0
	for _, m := range majors {
		kept += m.n
	}
	var entropy float64
	for _, m := range majors {
		p := float64(m.n) / float64(kept)
		entropy -= p * math.Log(p)
	}
	return clamp01(1 - entropy/math.Log(5)), dq
}

// timingScore blends filing-recency decay with the operating
// preference: grantmaking (non-operating) foundations are preferred.
func timingScore(facts FoundationFacts, currentYear int) (float64, float64) {
	if facts.MostRecentFilingYear == 0 {
		return 0, 0
	}
	age := currentYear - facts.MostRecentFilingYear
	recency := clamp01(1 - 0.15*math.Max(0, float64(age-1)))

	opPref := 0.75 // unknown
	if facts.Operating != nil {
		if *facts.Operating {
			opPref = 0.5
		} else {
			opPref = 1.0
		}
	}
	return clamp01(0.8*recency + 0.2*opPref), 1
}

// DefaultAdjacency is the contiguous-US state adjacency table used for
// the 0.75 adjacent-state geographic score. DC is treated as adjacent
// to MD and VA.
func DefaultAdjacency() map[string][]string {
	return map[string][]string{
		"AL": {"FL", "GA", "MS", "TN"},
		"AZ": {"CA", "CO", "NM", "NV", "UT"},
		"AR": {"LA", "MO", "MS", "OK", "TN", "TX"},
		"CA": {"AZ", "NV", "OR"},
		"CO": {"AZ", "KS", "NE", "NM", "OK", "UT", "WY"},
		"CT": {"MA", "NY", "RI"},
		"DC": {"MD", "VA"},
		"DE": {"MD", "NJ", "PA"},
		"FL": {"AL", "GA"},
		"GA": {"AL", "FL", "NC", "SC", "TN"},
		"IA": {"IL", "MN", "MO", "NE", "SD", "WI"},
		"ID": {"MT", "NV", "OR", "UT", "WA", "WY"},
		"IL": {"IA", "IN", "KY", "MO", "WI"},
		"IN": {"IL", "KY", "MI", "OH"},
		"KS": {"CO", "MO", "NE", "OK"},
		"KY": {"IL", "IN", "MO", "OH", "TN", "VA", "WV"},
		"LA": {"AR", "MS", "TX"},
		"MA": {"CT", "NH", "NY", "RI", "VT"},
		"MD": {"DC", "DE", "PA", "VA", "WV"},
		"ME": {"NH"},
		"MI": {"IN", "OH", "WI"},
		"MN": {"IA", "ND", "SD", "WI"},
		"MO": {"AR", "IA", "IL", "KS", "KY", "NE", "OK", "TN"},
		"MS": {"AL", "AR", "LA", "TN"},
		"MT": {"ID", "ND", "SD", "WY"},
		"NC": {"GA", "SC", "TN", "VA"},
		"ND": {"MN", "MT", "SD"},
		"NE": {"CO", "IA", "KS", "MO", "SD", "WY"},
		"NH": {"MA", "ME", "VT"},
		"NJ": {"DE", "NY", "PA"},
		"NM": {"AZ", "CO", "OK", "TX"},
		"NV": {"AZ", "CA", "ID", "OR", "UT"},
		"NY": {"CT", "MA", "NJ", "PA", "VT"},
		"OH": {"IN", "KY", "MI", "PA", "WV"},
		"OK": {"AR", "CO", "KS", "MO", "NM", "TX"},
		"OR": {"CA", "ID", "NV", "WA"},
		"PA": {"DE", "MD", "NJ", "NY", "OH", "WV"},
		"RI": {"CT", "MA"},
		"SC": {"GA", "NC"},
		"SD": {"IA", "MN", "MT", "ND", "NE", "WY"},
		"TN": {"AL", "AR", "GA", "KY", "MO", "MS", "NC", "VA"},
		"TX": {"AR", "LA", "NM", "OK"},
		"UT": {"AZ", "CO", "ID", "NV", "WY"},
		"VA": {"DC", "KY", "MD", "NC", "TN", "WV"},
		"VT": {"MA", "NH", "NY"},
		"WA": {"ID", "OR"},
		"WI": {"IA", "IL", "MI", "MN"},
		"WV": {"KY", "MD", "OH", "PA", "VA"},
		"WY": {"CO", "ID", "MT", "NE", "SD", "UT"},
	}
}

// String formatting helper used by triage notes.
func fmtDim(d DimensionalScore) string {
	return fmt.Sprintf("%s=%.2f", d.Dimension, d.Raw)
}
