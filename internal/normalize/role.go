package normalize

import "strings"

// RoleCategory buckets an officer by governance function.
type RoleCategory string

const (
	RoleExecutive RoleCategory = "executive"
	RoleBoard     RoleCategory = "board"
	RoleStaff     RoleCategory = "staff"
	RoleVolunteer RoleCategory = "volunteer"
)

var executiveTitles = []string{"CEO", "PRESIDENT", "EXECUTIVE DIRECTOR", "CFO", "COO"}
var boardTitles = []string{"DIRECTOR", "CHAIR", "TRUSTEE"}

// RoleInput carries the filing facts a role decision depends on.
type RoleInput struct {
	Title        string
	IsOfficer    bool
	IsDirector   bool
	Compensation float64
}

// Role categorizes an officer row. First match wins: executive titles,
// then board indicators, then paid staff, else volunteer.
func Role(in RoleInput) RoleCategory {
	title := strings.ToUpper(in.Title)
	for _, t := range executiveTitles {
		if strings.Contains(title, t) {
			return RoleExecutive
		}
	}
	if in.IsOfficer || in.IsDirector {
		return RoleBoard
	}
	for _, t := range boardTitles {
		if strings.Contains(title, t) {
			return RoleBoard
		}
	}
	if in.Compensation > 0 {
		return RoleStaff
	}
	return RoleVolunteer
}

// InfluenceConfig holds the scaling constants and the indicator flag
// set for influence scoring. The flag set is configuration because
// filings disagree on which governance indicators they carry.
type InfluenceConfig struct {
	CompCeiling  float64  // compensation normalization ceiling
	HoursCeiling float64  // weekly hours normalization ceiling
	FlagBonus    float64  // per-indicator additive bonus
	Flags        []string // recognized indicator names
}

// DefaultInfluenceConfig mirrors the published scoring constants.
func DefaultInfluenceConfig() InfluenceConfig {
	return InfluenceConfig{
		CompCeiling:  500000,
		HoursCeiling: 40,
		FlagBonus:    0.05,
		Flags:        []string{"is_voting_member", "is_policy_maker"},
	}
}

var roleBase = map[RoleCategory]float64{
	RoleExecutive: 1.0,
	RoleBoard:     0.7,
	RoleStaff:     0.4,
	RoleVolunteer: 0.2,
}

// Influence computes the [0,1] influence score for an officer:
// role base + compensation and hours contributions + indicator flags.
// Only the final sum is clamped, so outsized compensation or hours can
// lift a low role base all the way to 1.0.
func Influence(cfg InfluenceConfig, role RoleCategory, compensation, weeklyHours float64, flags map[string]bool) float64 {
	score := roleBase[role]
	if cfg.CompCeiling > 0 && compensation > 0 {
		score += compensation / cfg.CompCeiling * 0.3
	}
	if cfg.HoursCeiling > 0 && weeklyHours > 0 {
		score += weeklyHours / cfg.HoursCeiling * 0.2
	}
	for _, name := range cfg.Flags {
		if flags[name] {
			score += cfg.FlagBonus
		}
	}
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
