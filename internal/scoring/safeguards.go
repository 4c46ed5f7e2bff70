package scoring

import "fmt"

// Flag is one reliability safeguard outcome. Hard flags force Abstain;
// soft flags only carry a score penalty note.
type Flag struct {
	Name    string  `json:"name"`
	Hard    bool    `json:"hard"`
	Penalty float64 `json:"penalty,omitempty"`
	Detail  string  `json:"detail,omitempty"`
}

// SafeguardConfig holds the reliability thresholds. Defaults are the
// most conservative published values.
type SafeguardConfig struct {
	MaxFilingAgeYears int // hard flag past this (default 3)
	MinRecentGrants   int // below this the foundation looks inactive (default 1)
	CurrentYear       int // 0 = now, injected for tests
}

func (c *SafeguardConfig) withDefaults(currentYear int) {
	if c.MaxFilingAgeYears <= 0 {
		c.MaxFilingAgeYears = 3
	}
	if c.MinRecentGrants <= 0 {
		c.MinRecentGrants = 1
	}
	if c.CurrentYear == 0 {
		c.CurrentYear = currentYear
	}
}

// EvaluateSafeguards runs the three reliability checks over a
// foundation: filing recency, grant-history activity, and border
// proximity of the seeker's service area to the foundation's focus.
func EvaluateSafeguards(profile SeekerProfile, facts FoundationFacts, cfg SafeguardConfig, adjacency map[string][]string, currentYear int) []Flag {
	cfg.withDefaults(currentYear)
	var flags []Flag

	if facts.MostRecentFilingYear > 0 {
		age := cfg.CurrentYear - facts.MostRecentFilingYear
		if age > cfg.MaxFilingAgeYears {
			flags = append(flags, Flag{
				Name:   "filing_recency",
				Hard:   true,
				Detail: fmt.Sprintf("most recent filing is %d years old", age),
			})
		} else if age > 1 {
			flags = append(flags, Flag{
				Name:    "filing_recency",
				Penalty: 0.05 * float64(age-1),
				Detail:  fmt.Sprintf("most recent filing is %d years old", age),
			})
		}
	}

	if facts.GrantsPaidRecently < cfg.MinRecentGrants {
		flags = append(flags, Flag{
			Name:    "grant_history",
			Hard:    false,
			Penalty: 0.10,
			Detail:  "foundation shows inactive or sporadic grantmaking",
		})
	}

	if flag, bad := borderProximity(profile, facts, adjacency); bad {
		flags = append(flags, flag)
	}
	return flags
}

// borderProximity hard-flags a seeker whose entire service area sits
// outside the foundation's geographic focus and its adjacent states.
func borderProximity(profile SeekerProfile, facts FoundationFacts, adjacency map[string][]string) (Flag, bool) {
	if len(facts.GeographicFocus) == 0 || facts.NationalFocus {
		return Flag{}, false
	}
	service := profile.ServiceStates
	if len(service) == 0 && profile.State != "" {
		service = []string{profile.State}
	}
	if len(service) == 0 {
		return Flag{}, false
	}

	reach := map[string]bool{}
	for _, s := range facts.GeographicFocus {
		reach[s] = true
		for _, n := range adjacency[s] {
			reach[n] = true
		}
	}
	for _, s := range service {
		if reach[s] {
			return Flag{}, false
		}
	}
	return Flag{
		Name:   "border_proximity",
		Hard:   true,
		Detail: "service area entirely outside foundation geographic focus",
	}, true
}
