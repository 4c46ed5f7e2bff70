// Package scoring implements the two scoring regimes over a common
// dimensional representation: stage-based scoring for the funnel
// stages and foundation-track scoring for 990-PF opportunities.
// Recommendations come from fixed thresholds plus abstain triggers.
package scoring

// DimensionalScore is one scored dimension of a composite.
type DimensionalScore struct {
	Dimension   string  `json:"dimension"`
	Raw         float64 `json:"raw"`      // [0,1]
	Weight      float64 `json:"weight"`   // within-composite weight
	Boost       float64 `json:"boost"`    // multiplicative, 1.0 = none
	Weighted    float64 `json:"weighted"` // raw * weight * boost
	DataQuality float64 `json:"data_quality"`
	Notes       string  `json:"notes,omitempty"`
}

// Recommendation is the three-way decision on an opportunity.
type Recommendation string

const (
	RecommendPass    Recommendation = "pass"
	RecommendAbstain Recommendation = "abstain"
	RecommendFail    Recommendation = "fail"
)

// Decision thresholds. The abstain band is [FailBelow, PassAt).
const (
	PassAt    = 0.58
	FailBelow = 0.45
)

// CompositeScore is the final scored result for one opportunity.
type CompositeScore struct {
	Overall        float64            `json:"overall"`    // [0,1]
	Confidence     float64            `json:"confidence"` // [0,1]
	Dimensions     []DimensionalScore `json:"dimensions"`
	Label          string             `json:"label"` // stage or track name
	AppliedBoosts  float64            `json:"applied_boosts"`
	Triggers       []string           `json:"triggers,omitempty"`
	Recommendation Recommendation     `json:"recommendation"`
}

// Decide applies the decision thresholds. Any abstain trigger forces
// Abstain regardless of score.
func Decide(overall float64, triggers []string) Recommendation {
	if len(triggers) > 0 {
		return RecommendAbstain
	}
	switch {
	case overall >= PassAt:
		return RecommendPass
	case overall < FailBelow:
		return RecommendFail
	default:
		return RecommendAbstain
	}
}

// compose sums weighted dimensions plus boosts, clamps to [0,1], and
// fills confidence from mean data quality plus enhancement credit.
func compose(label string, dims []DimensionalScore, extraBoost float64, enhancements int, triggers []string) CompositeScore {
	var overall, dqSum float64
	for i := range dims {
		if dims[i].Boost == 0 {
			dims[i].Boost = 1
		}
		dims[i].Weighted = dims[i].Raw * dims[i].Weight * dims[i].Boost
		overall += dims[i].Weighted
		dqSum += dims[i].DataQuality
	}
	overall = clamp01(overall + extraBoost)

	confidence := 0.0
	if len(dims) > 0 {
		confidence = dqSum / float64(len(dims))
	}
	confidence = clamp01(confidence + 0.05*float64(enhancements))

	return CompositeScore{
		Overall:        overall,
		Confidence:     confidence,
		Dimensions:     dims,
		Label:          label,
		AppliedBoosts:  extraBoost,
		Triggers:       triggers,
		Recommendation: Decide(overall, triggers),
	}
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
