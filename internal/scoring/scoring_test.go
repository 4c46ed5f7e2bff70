package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecideBoundaries(t *testing.T) {
	assert.Equal(t, RecommendPass, Decide(0.5800, nil))
	assert.Equal(t, RecommendAbstain, Decide(0.5799, nil))
	assert.Equal(t, RecommendAbstain, Decide(0.4500, nil))
	assert.Equal(t, RecommendFail, Decide(0.4499, nil))
	// Triggers dominate the score.
	assert.Equal(t, RecommendAbstain, Decide(0.95, []string{"geographic_mismatch"}))
}

func TestDefaultWeightsSumToOne(t *testing.T) {
	require.NoError(t, DefaultWeights().Validate())
}

func TestWeightValidationCatchesDrift(t *testing.T) {
	table := DefaultWeights()
	table[StageDiscover]["mission"] = 0.31
	assert.Error(t, table.Validate())
}

func TestStageScore(t *testing.T) {
	scorer, err := NewStageScorer(nil)
	require.NoError(t, err)

	inputs := map[string]DimensionInput{
		"mission":     {Raw: 0.9, DataQuality: 1},
		"geographic":  {Raw: 0.8, DataQuality: 1},
		"financial":   {Raw: 0.7, DataQuality: 0.8},
		"eligibility": {Raw: 1.0, DataQuality: 1},
		"timing":      {Raw: 0.5, DataQuality: 1},
	}
	c, err := scorer.Score(StageDiscover, TrackNonprofit, inputs, Availability{}, 0)
	require.NoError(t, err)

	want := 0.30*0.9 + 0.25*0.8 + 0.20*0.7 + 0.15*1.0 + 0.10*0.5
	assert.InDelta(t, want, c.Overall, 1e-9)
	assert.Equal(t, "nonprofit/discover", c.Label)
	assert.Equal(t, RecommendPass, c.Recommendation)
	assert.GreaterOrEqual(t, c.Overall, 0.0)
	assert.LessOrEqual(t, c.Overall, 1.0)
	assert.LessOrEqual(t, c.Confidence, 1.0)
}

func TestStageScoreBoostsCapped(t *testing.T) {
	scorer, _ := NewStageScorer(nil)
	inputs := map[string]DimensionInput{
		"financial": {Raw: 1, DataQuality: 1},
	}
	avail := Availability{FinancialData: true, NetworkData: true, HistoricalData: true, RiskAssessment: true}
	c, err := scorer.Score(StageDiscover, TrackFederal, inputs, avail, 0)
	require.NoError(t, err)
	for _, d := range c.Dimensions {
		assert.LessOrEqual(t, d.Boost, maxBoost+1e-9, d.Dimension)
		assert.GreaterOrEqual(t, d.Boost, 1.0, d.Dimension)
	}
}

func TestStageScoreUnknownStage(t *testing.T) {
	scorer, _ := NewStageScorer(nil)
	_, err := scorer.Score(Stage("nope"), TrackState, nil, Availability{}, 0)
	assert.Error(t, err)
}

func referenceFoundationInputs() (SeekerProfile, FoundationFacts, FoundationConfig) {
	profile := SeekerProfile{NTEE: "B25", State: "VA", Revenue: 500000}
	facts := FoundationFacts{
		NTEE:                 "B25",
		Assets:               5_000_000,
		TypicalGrant:         25_000,
		GeographicFocus:      []string{"VA", "MD", "DC"},
		ApplicationsOpen:     true,
		MostRecentFilingYear: 2025,
		RecipientNTEECodes:   []string{"B25", "B21", "B40", "B25", "P20"},
		GrantsPaidRecently:   20,
	}
	cfg := FoundationConfig{Adjacency: DefaultAdjacency(), CurrentYear: 2026}
	return profile, facts, cfg
}

func TestFoundationTrackReference(t *testing.T) {
	profile, facts, cfg := referenceFoundationInputs()
	c := ScoreFoundation(profile, facts, cfg, nil)

	byName := map[string]DimensionalScore{}
	for _, d := range c.Dimensions {
		byName[d.Dimension] = d
	}
	assert.InDelta(t, 1.00, byName["mission_alignment"].Raw, 0.02)
	assert.InDelta(t, 1.00, byName["geographic_fit"].Raw, 0.02)
	assert.InDelta(t, 0.75, byName["financial_match"].Raw, 0.02)
	assert.InDelta(t, 0.69, byName["strategic_alignment"].Raw, 0.02)
	assert.InDelta(t, 0.95, byName["timing"].Raw, 0.02)

	assert.Empty(t, c.Triggers)
	assert.Equal(t, RecommendPass, c.Recommendation)
	assert.LessOrEqual(t, c.Overall, 1.0)
	assert.Greater(t, c.Overall, PassAt)
}

func TestFoundationAdjacentState(t *testing.T) {
	profile, facts, cfg := referenceFoundationInputs()
	profile.State = "NC" // not in focus, adjacent to VA
	c := ScoreFoundation(profile, facts, cfg, nil)
	for _, d := range c.Dimensions {
		if d.Dimension == "geographic_fit" {
			assert.InDelta(t, 0.75, d.Raw, 1e-9)
		}
	}
}

func TestFoundationGeographicMismatchTrigger(t *testing.T) {
	profile, facts, cfg := referenceFoundationInputs()
	profile.State = "CA"
	c := ScoreFoundation(profile, facts, cfg, nil)
	assert.Contains(t, c.Triggers, "geographic_mismatch")
	assert.Equal(t, RecommendAbstain, c.Recommendation)
}

func TestFoundationMissingNTEETrigger(t *testing.T) {
	profile, facts, cfg := referenceFoundationInputs()
	facts.NTEE = ""
	c := ScoreFoundation(profile, facts, cfg, nil)
	assert.Contains(t, c.Triggers, "missing_ntee_codes")
	assert.Equal(t, RecommendAbstain, c.Recommendation)
}

func TestFoundationLowAlignmentTrigger(t *testing.T) {
	profile, facts, cfg := referenceFoundationInputs()
	facts.NTEE = "P20" // different major group: alignment 0 < 0.20
	c := ScoreFoundation(profile, facts, cfg, nil)
	assert.Contains(t, c.Triggers, "ntee_alignment_below_floor")
	assert.Equal(t, RecommendAbstain, c.Recommendation)
}

func TestFoundationHardSafeguardForcesAbstain(t *testing.T) {
	profile, facts, cfg := referenceFoundationInputs()
	flags := []Flag{{Name: "filing_recency", Hard: true}}
	c := ScoreFoundation(profile, facts, cfg, flags)
	assert.Contains(t, c.Triggers, "safeguard:filing_recency")
	assert.Equal(t, RecommendAbstain, c.Recommendation)
}

func TestRecipientCoherence(t *testing.T) {
	// Single-field funder is perfectly coherent.
	c, dq := recipientCoherence([]string{"B25", "B21", "B40"})
	assert.InDelta(t, 1.0, c, 1e-9)
	assert.Greater(t, dq, 0.0)

	// Scattered giving scores low.
	c, _ = recipientCoherence([]string{"A10", "B20", "C30", "D40", "E50"})
	assert.InDelta(t, 0.0, c, 1e-9)

	c, dq = recipientCoherence(nil)
	assert.Zero(t, c)
	assert.Zero(t, dq)
}

func TestSafeguards(t *testing.T) {
	profile, facts, cfg := referenceFoundationInputs()

	flags := EvaluateSafeguards(profile, facts, SafeguardConfig{}, cfg.Adjacency, 2026)
	assert.Empty(t, flags)

	// Stale filing: 2021 is five years old, past the 3-year default.
	stale := facts
	stale.MostRecentFilingYear = 2021
	flags = EvaluateSafeguards(profile, stale, SafeguardConfig{}, cfg.Adjacency, 2026)
	require.Len(t, flags, 1)
	assert.Equal(t, "filing_recency", flags[0].Name)
	assert.True(t, flags[0].Hard)

	// Inactive grantmaker is a soft flag.
	idle := facts
	idle.GrantsPaidRecently = 0
	flags = EvaluateSafeguards(profile, idle, SafeguardConfig{}, cfg.Adjacency, 2026)
	require.Len(t, flags, 1)
	assert.Equal(t, "grant_history", flags[0].Name)
	assert.False(t, flags[0].Hard)

	// Service area nowhere near the focus states.
	far := profile
	far.State = "WA"
	flags = EvaluateSafeguards(far, facts, SafeguardConfig{}, cfg.Adjacency, 2026)
	require.Len(t, flags, 1)
	assert.Equal(t, "border_proximity", flags[0].Name)
	assert.True(t, flags[0].Hard)
}

func TestNeedsTriage(t *testing.T) {
	assert.True(t, NeedsTriage(CompositeScore{Overall: 0.50}))
	assert.True(t, NeedsTriage(CompositeScore{Overall: 0.4500}))
	assert.False(t, NeedsTriage(CompositeScore{Overall: 0.4499}))
	assert.False(t, NeedsTriage(CompositeScore{Overall: 0.58}))
	assert.True(t, NeedsTriage(CompositeScore{Overall: 0.90, Triggers: []string{"missing_ntee_codes"}}))
}

func TestTriagePriority(t *testing.T) {
	cfg := DefaultTriageConfig()

	near := Priority(cfg, CompositeScore{Overall: 0.57, Confidence: 0.9}, 100000)
	far := Priority(cfg, CompositeScore{Overall: 0.46, Confidence: 0.9}, 100000)
	assert.Greater(t, near, far)

	big := Priority(cfg, CompositeScore{Overall: 0.50, Confidence: 0.5}, 250000)
	small := Priority(cfg, CompositeScore{Overall: 0.50, Confidence: 0.5}, 5000)
	assert.Greater(t, big, small)

	item := NewTriageItem(cfg, "run-1", "opp-1", CompositeScore{Overall: 0.5, Confidence: 0.8}, 50000)
	assert.Equal(t, TriageQueued, item.Status)
	assert.NotEmpty(t, item.ID)
	assert.InDelta(t, Priority(cfg, CompositeScore{Overall: 0.5, Confidence: 0.8}, 50000), item.Priority, 1e-9)
}

func TestCompositeClamped(t *testing.T) {
	dims := []DimensionalScore{
		{Dimension: "a", Raw: 1, Weight: 0.9, Boost: 1.15, DataQuality: 1},
		{Dimension: "b", Raw: 1, Weight: 0.1, Boost: 1.15, DataQuality: 1},
	}
	c := compose("test", dims, 0.2, 10, nil)
	assert.LessOrEqual(t, c.Overall, 1.0)
	assert.LessOrEqual(t, c.Confidence, 1.0)
}
