package scoring

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TriageStatus tracks an item through manual review.
type TriageStatus string

const (
	TriageQueued    TriageStatus = "queued"
	TriageInReview  TriageStatus = "in_review"
	TriageDecided   TriageStatus = "decided"
	TriageEscalated TriageStatus = "escalated"
	TriageExpired   TriageStatus = "expired"
)

// TriageItem is a borderline opportunity queued for human review.
type TriageItem struct {
	ID            string       `json:"id"`
	OpportunityID string       `json:"opportunity_id"`
	RunID         string       `json:"run_id,omitempty"`
	Status        TriageStatus `json:"status"`
	Priority      float64      `json:"priority"`
	Overall       float64      `json:"overall"`
	Triggers      []string     `json:"triggers,omitempty"`
	Notes         string       `json:"notes,omitempty"`
	Decision      string       `json:"decision,omitempty"`
	Assignee      string       `json:"assignee,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// TriageConfig weights the priority computation. Weights are
// normalized, so any positive values work.
type TriageConfig struct {
	ProximityWeight   float64 // distance from the pass threshold
	DataQualityWeight float64
	AmountWeight      float64
	AmountCeiling     float64 // amount normalization ceiling
}

// DefaultTriageConfig returns the documented default weights.
func DefaultTriageConfig() TriageConfig {
	return TriageConfig{
		ProximityWeight:   0.5,
		DataQualityWeight: 0.3,
		AmountWeight:      0.2,
		AmountCeiling:     250000,
	}
}

// NeedsTriage reports whether a composite lands in the abstain band or
// tripped a trigger.
func NeedsTriage(c CompositeScore) bool {
	if len(c.Triggers) > 0 {
		return true
	}
	return c.Overall >= FailBelow && c.Overall < PassAt
}

// NewTriageItem builds a queued item with computed priority.
func NewTriageItem(cfg TriageConfig, runID, opportunityID string, c CompositeScore, amount float64) TriageItem {
	return TriageItem{
		ID:            uuid.NewString(),
		OpportunityID: opportunityID,
		RunID:         runID,
		Status:        TriageQueued,
		Priority:      Priority(cfg, c, amount),
		Overall:       c.Overall,
		Triggers:      c.Triggers,
		Notes:         dimSummary(c),
		CreatedAt:     time.Now().UTC(),
	}
}

// Priority combines proximity to the pass threshold, data quality, and
// opportunity amount into a [0,1] ranking value.
func Priority(cfg TriageConfig, c CompositeScore, amount float64) float64 {
	total := cfg.ProximityWeight + cfg.DataQualityWeight + cfg.AmountWeight
	if total <= 0 {
		cfg = DefaultTriageConfig()
		total = cfg.ProximityWeight + cfg.DataQualityWeight + cfg.AmountWeight
	}

	// The closer to the pass line, the more a human look is worth.
	proximity := clamp01(1 - math.Abs(PassAt-c.Overall)/PassAt)

	amountScore := 0.0
	if cfg.AmountCeiling > 0 {
		amountScore = clamp01(amount / cfg.AmountCeiling)
	}

	p := (cfg.ProximityWeight*proximity +
		cfg.DataQualityWeight*clamp01(c.Confidence) +
		cfg.AmountWeight*amountScore) / total
	return clamp01(p)
}

func dimSummary(c CompositeScore) string {
	parts := make([]string, 0, len(c.Dimensions))
	for _, d := range c.Dimensions {
		parts = append(parts, fmtDim(d))
	}
	return strings.Join(parts, " ")
}
