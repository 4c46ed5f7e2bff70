package intel_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grantscope/grantscope/internal/catalog"
	"github.com/grantscope/grantscope/internal/fault"
	"github.com/grantscope/grantscope/internal/intel"
	"github.com/grantscope/grantscope/internal/irsxml"
	"github.com/grantscope/grantscope/internal/scoring"
	"github.com/grantscope/grantscope/internal/store"
	"github.com/grantscope/grantscope/internal/tools"
)

func testFiling() *irsxml.Filing {
	f := &irsxml.Filing{
		EIN:     "30-0219424",
		OrgName: "SAMPLE FAMILY FOUNDATION",
		TaxYear: 2023,
		Kind:    irsxml.Form990PF,
		Financial: irsxml.FinancialSummary{
			TotalRevenue:  900_000,
			TotalExpenses: 600_000,
			TotalAssets:   5_000_000,
			NetAssets:     4_800_000,
		},
		Quality: irsxml.Quality{Overall: 0.92},
	}
	for i := 0; i < 9; i++ {
		f.Grants = append(f.Grants, irsxml.Grant{
			RecipientRawName: "Recipient",
			Amount:           float64(10_000 + i*5_000),
			RecipientState:   "VA",
			TaxYear:          2023,
		})
	}
	f.Officers = []irsxml.Officer{
		{CanonicalName: "JANE ROE", Title: "President", Influence: 0.9},
		{CanonicalName: "JOHN DOE", Title: "Trustee", Influence: 0.4},
	}
	return f
}

// registerFilingTools wires the real filing analysis tools, so the
// dossier exercises the same implementations production registers.
func registerFilingTools(t *testing.T, reg *tools.Registry) {
	t.Helper()
	require.NoError(t, reg.Register(catalog.FinancialProfileTool()))
	require.NoError(t, reg.Register(catalog.GrantmakingPatternsTool()))
	require.NoError(t, reg.Register(catalog.GovernanceTool()))
}

func stubInvoker(t *testing.T, withNarrative bool) *tools.Invoker {
	t.Helper()
	reg := tools.NewRegistry()
	registerFilingTools(t, reg)

	require.NoError(t, reg.Register(&tools.Func{
		Meta: tools.Metadata{ID: "propublica_enrich", Version: "1.0.0", Class: tools.ClassExternal},
		ExecuteFn: func(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{"ein":"30-0219424","status":"ok"}`), nil
		},
	}))
	require.NoError(t, reg.Register(&tools.Func{
		Meta: tools.Metadata{ID: "foundation_score", Version: "1.0.0", Class: tools.ClassPure},
		ExecuteFn: func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
			b, _ := json.Marshal(scoring.CompositeScore{Overall: 0.8, Recommendation: scoring.RecommendPass})
			return b, nil
		},
	}))
	// stage_score runs the real scorer over the supplied dimensions, so
	// the readiness section fails loudly if the keys drift off the
	// approach weight row.
	require.NoError(t, reg.Register(&tools.Func{
		Meta: tools.Metadata{ID: "stage_score", Version: "1.0.0", Class: tools.ClassPure},
		ExecuteFn: func(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
			var in struct {
				Stage      scoring.Stage                     `json:"stage"`
				Track      scoring.Track                     `json:"track"`
				Dimensions map[string]scoring.DimensionInput `json:"dimensions"`
			}
			require.NoError(t, json.Unmarshal(input, &in))
			scorer, err := scoring.NewStageScorer(nil)
			require.NoError(t, err)
			c, err := scorer.Score(in.Stage, in.Track, in.Dimensions, scoring.Availability{}, 0)
			if err != nil {
				return nil, err
			}
			b, _ := json.Marshal(c)
			return b, nil
		},
	}))
	if withNarrative {
		require.NoError(t, reg.Register(&tools.Func{
			Meta: tools.Metadata{ID: "narrative_analysis", Version: "1.0.0", Class: tools.ClassBillable},
			ExecuteFn: func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
				return json.RawMessage(`{"summary":"steady education funder"}`), nil
			},
		}))
	}
	return tools.NewInvoker(reg, store.NewMemory(), nil, 0)
}

func testRequest(tier intel.Tier) intel.Request {
	return intel.Request{
		RunID:   "run-1",
		EIN:     "30-0219424",
		Profile: scoring.SeekerProfile{NTEE: "B25", State: "VA", Revenue: 500000},
		Facts:   scoring.FoundationFacts{NTEE: "B25", Assets: 5_000_000},
		Filing:  testFiling(),
		Tier:    tier,
	}
}

func sectionByName(d intel.Dossier, name string) *intel.Section {
	for i := range d.Sections {
		if d.Sections[i].Name == name {
			return &d.Sections[i]
		}
	}
	return nil
}

func TestAssembleEssentials(t *testing.T) {
	o := intel.NewOrchestrator(stubInvoker(t, false))
	d, err := o.Assemble(context.Background(), testRequest(intel.TierEssentials))
	require.NoError(t, err)

	assert.Len(t, d.Sections, 5)
	assert.False(t, d.Truncated)
	for _, name := range []string{"enrichment", "financial_profile", "grantmaking_patterns", "governance", "funding_fit"} {
		sec := sectionByName(d, name)
		require.NotNil(t, sec, name)
		assert.Empty(t, sec.Error, name)
		assert.NotEmpty(t, sec.Payload, name)
	}

	var fin struct {
		PayoutRate float64 `json:"payout_rate"`
		GrantsPaid float64 `json:"grants_paid"`
	}
	require.NoError(t, json.Unmarshal(sectionByName(d, "financial_profile").Payload, &fin))
	assert.InDelta(t, 270_000, fin.GrantsPaid, 1) // 9 grants, 10k..50k step 5k
	assert.InDelta(t, 0.054, fin.PayoutRate, 1e-6)

	var patterns struct {
		GrantCount  int     `json:"grant_count"`
		MedianGrant float64 `json:"median_grant"`
		Top5Share   float64 `json:"top5_share"`
	}
	require.NoError(t, json.Unmarshal(sectionByName(d, "grantmaking_patterns").Payload, &patterns))
	assert.Equal(t, 9, patterns.GrantCount)
	assert.InDelta(t, 30_000, patterns.MedianGrant, 1)
	assert.Greater(t, patterns.Top5Share, 0.5)

	var gov struct {
		BoardSize int `json:"board_size"`
		KeyPeople []struct {
			CanonicalName string `json:"canonical_name"`
		} `json:"key_people"`
	}
	require.NoError(t, json.Unmarshal(sectionByName(d, "governance").Payload, &gov))
	assert.Equal(t, 2, gov.BoardSize)
	require.NotEmpty(t, gov.KeyPeople)
	assert.Equal(t, "JANE ROE", gov.KeyPeople[0].CanonicalName, "ranked by influence")
}

func TestAssemblePremiumAddsSections(t *testing.T) {
	o := intel.NewOrchestrator(stubInvoker(t, true))
	d, err := o.Assemble(context.Background(), testRequest(intel.TierPremium))
	require.NoError(t, err)

	assert.Len(t, d.Sections, 7)
	require.NotNil(t, sectionByName(d, "narrative_assessment"))
	require.NotNil(t, sectionByName(d, "approach_readiness"))
	assert.Empty(t, sectionByName(d, "narrative_assessment").Error)
}

// The readiness dimensions must line up with the approach weight row;
// mismatched keys would score every dimension at zero raw and sink the
// composite to a hard fail.
func TestApproachReadinessScoresNonzero(t *testing.T) {
	o := intel.NewOrchestrator(stubInvoker(t, true))
	d, err := o.Assemble(context.Background(), testRequest(intel.TierPremium))
	require.NoError(t, err)

	sec := sectionByName(d, "approach_readiness")
	require.NotNil(t, sec)
	require.Empty(t, sec.Error)

	var c scoring.CompositeScore
	require.NoError(t, json.Unmarshal(sec.Payload, &c))
	// alignment 1.0 (same NTEE): 0.30 + 0.25*0.7 + 0.20*0.8 + 0.15*0.7 + 0.10*0.6
	assert.InDelta(t, 0.80, c.Overall, 1e-6)
	assert.Equal(t, scoring.RecommendPass, c.Recommendation)
	assert.Greater(t, c.Confidence, 0.0)
}

func TestApproachDimensionsMatchWeightRow(t *testing.T) {
	dims := intel.ApproachDimensions(testRequest(intel.TierPremium))
	weights := scoring.DefaultWeights()[scoring.StageApproach]
	require.Len(t, dims, len(weights))
	for name := range weights {
		in, ok := dims[name]
		require.True(t, ok, name)
		assert.Greater(t, in.Raw, 0.0, name)
	}
}

func TestAssembleWithoutFilingDegrades(t *testing.T) {
	o := intel.NewOrchestrator(stubInvoker(t, false))
	req := testRequest(intel.TierEssentials)
	req.Filing = nil

	d, err := o.Assemble(context.Background(), req)
	require.NoError(t, err)

	// Tool-backed sections still succeed; filing-backed ones report
	// not_found instead of failing the dossier.
	assert.Empty(t, sectionByName(d, "enrichment").Error)
	assert.Empty(t, sectionByName(d, "funding_fit").Error)
	assert.Equal(t, "not_found", sectionByName(d, "financial_profile").Error)
	assert.Equal(t, "not_found", sectionByName(d, "grantmaking_patterns").Error)
	assert.Equal(t, "not_found", sectionByName(d, "governance").Error)
}

func TestAssembleDeadlineTruncates(t *testing.T) {
	reg := tools.NewRegistry()
	registerFilingTools(t, reg)
	require.NoError(t, reg.Register(&tools.Func{
		Meta: tools.Metadata{ID: "propublica_enrich", Version: "1.0.0", Class: tools.ClassExternal},
		ExecuteFn: func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			<-ctx.Done()
			return nil, fault.Wrap(fault.KindOf(ctx.Err()), ctx.Err(), "enrichment")
		},
	}))
	require.NoError(t, reg.Register(&tools.Func{
		Meta: tools.Metadata{ID: "foundation_score", Version: "1.0.0", Class: tools.ClassPure},
		ExecuteFn: func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
			b, _ := json.Marshal(scoring.CompositeScore{Overall: 0.8})
			return b, nil
		},
	}))
	o := intel.NewOrchestrator(tools.NewInvoker(reg, store.NewMemory(), nil, 0))

	req := testRequest(intel.TierEssentials)
	req.Deadline = 50 * time.Millisecond

	d, err := o.Assemble(context.Background(), req)
	require.NoError(t, err, "deadline truncates, it does not fail the build")
	assert.True(t, d.Truncated)
	assert.Equal(t, "timeout", sectionByName(d, "enrichment").Error)
	assert.Empty(t, sectionByName(d, "funding_fit").Error, "finished sections are kept")
}

func TestAssembleRequiresEIN(t *testing.T) {
	o := intel.NewOrchestrator(stubInvoker(t, false))
	_, err := o.Assemble(context.Background(), intel.Request{})
	assert.Equal(t, fault.KindInvalidArguments, fault.KindOf(err))
}
