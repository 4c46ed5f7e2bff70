package scoring

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Stage is a funnel position; Track is an opportunity source class.
// The two axes are orthogonal: any track moves through every stage.
type Stage string

const (
	StageDiscover Stage = "discover"
	StagePlan     Stage = "plan"
	StageAnalyze  Stage = "analyze"
	StageExamine  Stage = "examine"
	StageApproach Stage = "approach"
)

type Track string

const (
	TrackNonprofit  Track = "nonprofit"
	TrackFederal    Track = "federal"
	TrackState      Track = "state"
	TrackCommercial Track = "commercial"
)

// WeightTable maps each stage to its dimension weights. Weights within
// a stage must sum to 1.0 within 1e-6.
type WeightTable map[Stage]map[string]float64

// DefaultWeights returns the shipped stage weight table.
func DefaultWeights() WeightTable {
	return WeightTable{
		StageDiscover: {"mission": 0.30, "geographic": 0.25, "financial": 0.20, "eligibility": 0.15, "timing": 0.10},
		StagePlan:     {"success_probability": 0.30, "capacity": 0.25, "financial_viability": 0.20, "network_leverage": 0.15, "compliance": 0.10},
		StageAnalyze:  {"competitive": 0.30, "strategic": 0.25, "risk": 0.20, "feasibility": 0.15, "roi": 0.10},
		StageExamine:  {"depth_quality": 0.30, "relationships": 0.25, "strategic_fit": 0.20, "partnership": 0.15, "innovation": 0.10},
		StageApproach: {"viability": 0.30, "success": 0.25, "strategic": 0.20, "resources": 0.15, "timeline": 0.10},
	}
}

// LoadWeights reads a stage weight table from a YAML file and
// validates it. Stages absent from the file keep their defaults.
func LoadWeights(path string) (WeightTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read weight table: %w", err)
	}
	var loaded map[string]map[string]float64
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parse weight table: %w", err)
	}
	table := DefaultWeights()
	for stage, weights := range loaded {
		table[Stage(stage)] = weights
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}

// Validate checks every stage's weights sum to 1.0 within tolerance.
func (t WeightTable) Validate() error {
	for stage, weights := range t {
		var sum float64
		for _, w := range weights {
			sum += w
		}
		if math.Abs(sum-1.0) > 1e-6 {
			return fmt.Errorf("stage %s weights sum to %v, want 1.0", stage, sum)
		}
	}
	return nil
}

// DimensionInput is a tool-produced raw score for one dimension.
type DimensionInput struct {
	Raw         float64 `json:"raw"`
	DataQuality float64 `json:"data_quality"`
	Notes       string  `json:"notes,omitempty"`
}

// Availability flags which enrichment data was present when scoring.
// Each flag boosts its dimension class, capped at +15% per dimension.
type Availability struct {
	FinancialData  bool `json:"financial_data"`  // +10% to financial dimensions
	NetworkData    bool `json:"network_data"`    // +15% to network dimensions
	HistoricalData bool `json:"historical_data"` // +12% to success dimensions
	RiskAssessment bool `json:"risk_assessment"` // +8% to viability dimensions
}

const maxBoost = 1.15

func (a Availability) boostFor(dimension string) float64 {
	b := 1.0
	if a.FinancialData && strings.Contains(dimension, "financial") {
		b *= 1.10
	}
	if a.NetworkData && strings.Contains(dimension, "network") {
		b *= 1.15
	}
	if a.HistoricalData && strings.Contains(dimension, "success") {
		b *= 1.12
	}
	if a.RiskAssessment && strings.Contains(dimension, "viability") {
		b *= 1.08
	}
	if b > maxBoost {
		b = maxBoost
	}
	return b
}

// StageScorer evaluates opportunities against a weight table.
type StageScorer struct {
	weights WeightTable
}

// NewStageScorer validates the table up front so scoring never fails.
func NewStageScorer(table WeightTable) (*StageScorer, error) {
	if table == nil {
		table = DefaultWeights()
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return &StageScorer{weights: table}, nil
}

// Score composes the stage's dimensions from the supplied inputs.
// A dimension with no input scores zero with zero data quality, which
// drags confidence down rather than silently inflating the composite.
func (s *StageScorer) Score(stage Stage, track Track, inputs map[string]DimensionInput, avail Availability, enhancements int) (CompositeScore, error) {
	weights, ok := s.weights[stage]
	if !ok {
		return CompositeScore{}, fmt.Errorf("unknown stage %q", stage)
	}

	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)

	dims := make([]DimensionalScore, 0, len(names))
	for _, name := range names {
		in := inputs[name]
		dims = append(dims, DimensionalScore{
			Dimension:   name,
			Raw:         clamp01(in.Raw),
			Weight:      weights[name],
			Boost:       avail.boostFor(name),
			DataQuality: clamp01(in.DataQuality),
			Notes:       in.Notes,
		})
	}
	label := fmt.Sprintf("%s/%s", track, stage)
	return compose(label, dims, 0, enhancements, nil), nil
}
