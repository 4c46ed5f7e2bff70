// Package catalog registers the built-in tool implementations:
// prospect filtering, filing parsing, enrichment lookup, and scoring,
// each wrapped behind the tools framework with declared schemas.
package catalog

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/grantscope/grantscope/internal/bmf"
	"github.com/grantscope/grantscope/internal/fault"
	"github.com/grantscope/grantscope/internal/inference"
	"github.com/grantscope/grantscope/internal/intel"
	"github.com/grantscope/grantscope/internal/irsxml"
	"github.com/grantscope/grantscope/internal/propublica"
	"github.com/grantscope/grantscope/internal/scoring"
	"github.com/grantscope/grantscope/internal/screening"
	"github.com/grantscope/grantscope/internal/store"
	"github.com/grantscope/grantscope/internal/tools"
)

// Deps carries the shared backends the built-in tools execute against.
type Deps struct {
	BMF        *bmf.Table
	Filings    store.FilingCache
	ProPublica *propublica.Client
	Inference  *inference.Client
	Weights    scoring.WeightTable
	Foundation scoring.FoundationConfig
}

// Register wires every built-in tool into reg and verifies the
// dependency graph. Call once at startup. The narrative tool is only
// registered when an inference client is configured.
func Register(reg *tools.Registry, deps Deps) error {
	all := []tools.Tool{
		bmfFilterTool(deps),
		filingParseTool(deps),
		enrichTool(deps),
		foundationScoreTool(deps),
		stageScoreTool(deps),
		FinancialProfileTool(),
		GrantmakingPatternsTool(),
		GovernanceTool(),
	}
	if deps.Inference != nil {
		all = append(all, narrativeTool(deps))
	}
	for _, t := range all {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return reg.CheckDependencies()
}

// RegisterComposites wires the funnel and the dossier orchestrator in
// as tools, so workflow steps can run a whole screening batch or a
// dossier build like any other invocation. Called after the invoker
// exists, since both composites fan out through it.
func RegisterComposites(reg *tools.Registry, funnel *screening.Funnel, orch *intel.Orchestrator) error {
	if err := reg.Register(screenTool(funnel)); err != nil {
		return err
	}
	return reg.Register(dossierTool(orch))
}

func marshal(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// bmf_filter streams the exempt-organization master file through the
// criteria engine.
func bmfFilterTool(deps Deps) tools.Tool {
	return &tools.Func{
		Meta: tools.Metadata{
			ID:      "bmf_filter",
			Version: "1.0.0",
			Summary: "Filter the exempt-organization master file by state, NTEE, and size",
			Class:   tools.ClassPure,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"states":          map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"nationwide":      map[string]any{"type": "boolean"},
					"ntee":            map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"revenue_min":     map[string]any{"type": "number", "minimum": 0},
					"revenue_max":     map[string]any{"type": "number", "minimum": 0},
					"assets_min":      map[string]any{"type": "number", "minimum": 0},
					"assets_max":      map[string]any{"type": "number", "minimum": 0},
					"foundation_only": map[string]any{"type": "boolean"},
					"name_contains":   map[string]any{"type": "string"},
					"limit":           map[string]any{"type": "integer", "minimum": 0},
				},
				"additionalProperties": false,
			},
			OutputSchema: map[string]any{
				"type":     "object",
				"required": []any{"orgs", "perf"},
			},
			CacheTTL: time.Hour,
		},
		ExecuteFn: func(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
			var req struct {
				bmf.Criteria
				Limit int `json:"limit"`
			}
			if err := json.Unmarshal(input, &req); err != nil {
				return nil, fault.Wrap(fault.KindInvalidArguments, err, "decode criteria")
			}
			orgs, perf := deps.BMF.Filter(req.Criteria, req.Limit)
			if orgs == nil {
				orgs = []bmf.Org{}
			}
			return marshal(map[string]any{"orgs": orgs, "perf": perf}), nil
		},
	}
}

// filing_parse decodes a raw e-file return, caching the parsed filing.
func filingParseTool(deps Deps) tools.Tool {
	return &tools.Func{
		Meta: tools.Metadata{
			ID:      "filing_parse",
			Version: "1.0.0",
			Summary: "Parse an IRS e-file return (990, 990-PF, 990-EZ)",
			Class:   tools.ClassPure,
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"xml"},
				"properties": map[string]any{
					"xml":      map[string]any{"type": "string", "minLength": 1},
					"declared": map[string]any{"type": "string", "enum": []any{"", "990", "990-PF", "990-EZ"}},
				},
				"additionalProperties": false,
			},
			OutputSchema: map[string]any{"type": "object", "required": []any{"ein", "tax_year", "form_kind"}},
			CacheTTL:     7 * 24 * time.Hour,
		},
		ExecuteFn: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			var in struct {
				XML      string          `json:"xml"`
				Declared irsxml.FormKind `json:"declared"`
			}
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, fault.Wrap(fault.KindInvalidArguments, err, "decode input")
			}
			declared := in.Declared
			if declared == "" {
				detected, err := irsxml.Detect([]byte(in.XML))
				if err != nil {
					return nil, err
				}
				declared = detected
			}
			filing, err := irsxml.Parse([]byte(in.XML), declared)
			if err != nil {
				return nil, err
			}
			if deps.Filings != nil {
				if err := deps.Filings.PutFiling(ctx, filing); err != nil {
					return nil, err
				}
			}
			return marshal(filing), nil
		},
	}
}

// propublica_enrich looks up an EIN in the Nonprofit Explorer API.
func enrichTool(deps Deps) tools.Tool {
	return &tools.Func{
		Meta: tools.Metadata{
			ID:      "propublica_enrich",
			Version: "1.0.0",
			Summary: "Enrich an organization from ProPublica Nonprofit Explorer",
			Class:   tools.ClassExternal,
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"ein"},
				"properties": map[string]any{
					"ein": map[string]any{"type": "string", "minLength": 9},
				},
				"additionalProperties": false,
			},
			OutputSchema: map[string]any{"type": "object", "required": []any{"ein", "status"}},
			CacheTTL:     7 * 24 * time.Hour,
		},
		ExecuteFn: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			var in struct {
				EIN string `json:"ein"`
			}
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, fault.Wrap(fault.KindInvalidArguments, err, "decode input")
			}
			rec, err := deps.ProPublica.Lookup(ctx, in.EIN)
			if err != nil {
				return nil, err
			}
			return marshal(rec), nil
		},
	}
}

// foundation_score runs the foundation track with safeguards applied.
func foundationScoreTool(deps Deps) tools.Tool {
	return &tools.Func{
		Meta: tools.Metadata{
			ID:      "foundation_score",
			Version: "1.0.0",
			Summary: "Score a private foundation against a seeker profile",
			Class:   tools.ClassPure,
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"profile", "facts"},
				"properties": map[string]any{
					"profile": map[string]any{"type": "object"},
					"facts":   map[string]any{"type": "object"},
				},
				"additionalProperties": false,
			},
			OutputSchema: map[string]any{"type": "object", "required": []any{"overall", "recommendation"}},
			CacheTTL:     time.Hour,
		},
		ExecuteFn: func(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
			var in struct {
				Profile scoring.SeekerProfile   `json:"profile"`
				Facts   scoring.FoundationFacts `json:"facts"`
			}
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, fault.Wrap(fault.KindInvalidArguments, err, "decode input")
			}
			cfg := deps.Foundation
			flags := scoring.EvaluateSafeguards(in.Profile, in.Facts, scoring.SafeguardConfig{}, cfg.Adjacency, cfg.CurrentYear)
			c := scoring.ScoreFoundation(in.Profile, in.Facts, cfg, flags)
			return marshal(c), nil
		},
	}
}

// narrative_analysis asks the model endpoint for a written assessment.
// Billable: each call reserves the inference client's per-call cost.
func narrativeTool(deps Deps) tools.Tool {
	return &tools.Func{
		Meta: tools.Metadata{
			ID:         "narrative_analysis",
			Version:    "1.0.0",
			Summary:    "Model-written assessment of a funder's giving behavior",
			Class:      tools.ClassBillable,
			CostMicros: deps.Inference.CostMicros(),
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"task", "context"},
				"properties": map[string]any{
					"task":    map[string]any{"type": "string", "minLength": 1},
					"context": map[string]any{"type": "object"},
				},
				"additionalProperties": false,
			},
			OutputSchema: map[string]any{"type": "object"},
			CacheTTL:     24 * time.Hour,
		},
		ExecuteFn: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			var in struct {
				Task    string         `json:"task"`
				Context map[string]any `json:"context"`
			}
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, fault.Wrap(fault.KindInvalidArguments, err, "decode input")
			}
			prompt, err := inference.Prompt(in.Task, in.Context)
			if err != nil {
				return nil, err
			}
			return deps.Inference.Complete(ctx, prompt)
		},
	}
}

func decodeFiling(input json.RawMessage) (*irsxml.Filing, error) {
	var in struct {
		Filing *irsxml.Filing `json:"filing"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fault.Wrap(fault.KindInvalidArguments, err, "decode input")
	}
	if in.Filing == nil {
		return nil, fault.New(fault.KindInvalidArguments, "filing required")
	}
	return in.Filing, nil
}

func filingInputSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"required":             []any{"filing"},
		"properties":           map[string]any{"filing": map[string]any{"type": "object"}},
		"additionalProperties": false,
	}
}

// FinancialProfileTool summarizes capacity from a filing's headline
// lines: payout behavior, expense structure, and asset base.
func FinancialProfileTool() tools.Tool {
	return &tools.Func{
		Meta: tools.Metadata{
			ID:           "financial_profile",
			Version:      "1.0.0",
			Summary:      "Payout rate, margin, and asset base from a parsed filing",
			Class:        tools.ClassPure,
			InputSchema:  filingInputSchema(),
			OutputSchema: map[string]any{"type": "object", "required": []any{"payout_rate", "total_assets"}},
			CacheTTL:     24 * time.Hour,
		},
		ExecuteFn: func(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
			f, err := decodeFiling(input)
			if err != nil {
				return nil, err
			}
			fin := f.Financial
			var grantTotal float64
			for _, g := range f.Grants {
				grantTotal += g.Amount
			}
			payoutRate := 0.0
			if fin.TotalAssets > 0 {
				payoutRate = grantTotal / fin.TotalAssets
			}
			return marshal(map[string]any{
				"tax_year":     f.TaxYear,
				"total_assets": fin.TotalAssets,
				"net_assets":   fin.NetAssets,
				"revenue":      fin.TotalRevenue,
				"expenses":     fin.TotalExpenses,
				"margin":       fin.TotalRevenue - fin.TotalExpenses,
				"grants_paid":  grantTotal,
				"payout_rate":  payoutRate,
				"data_quality": f.Quality.Overall,
			}), nil
		},
	}
}

// GrantmakingPatternsTool profiles the recipient table: size
// distribution and concentration of giving.
func GrantmakingPatternsTool() tools.Tool {
	return &tools.Func{
		Meta: tools.Metadata{
			ID:           "grantmaking_patterns",
			Version:      "1.0.0",
			Summary:      "Grant size distribution and concentration from a parsed filing",
			Class:        tools.ClassPure,
			InputSchema:  filingInputSchema(),
			OutputSchema: map[string]any{"type": "object", "required": []any{"grant_count", "median_grant"}},
			CacheTTL:     24 * time.Hour,
		},
		ExecuteFn: func(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
			f, err := decodeFiling(input)
			if err != nil {
				return nil, err
			}
			if len(f.Grants) == 0 {
				return nil, fault.New(fault.KindNotFound, "no grant records for %s", f.EIN)
			}

			amounts := make([]float64, 0, len(f.Grants))
			states := map[string]int{}
			var total float64
			for _, g := range f.Grants {
				amounts = append(amounts, g.Amount)
				total += g.Amount
				if g.RecipientState != "" {
					states[g.RecipientState]++
				}
			}
			sort.Float64s(amounts)
			median := amounts[len(amounts)/2]
			if len(amounts)%2 == 0 {
				median = (amounts[len(amounts)/2-1] + amounts[len(amounts)/2]) / 2
			}

			// Top-5 share measures concentration of giving.
			topShare := 0.0
			if total > 0 {
				n := 5
				if n > len(amounts) {
					n = len(amounts)
				}
				var top float64
				for _, a := range amounts[len(amounts)-n:] {
					top += a
				}
				topShare = top / total
			}

			return marshal(map[string]any{
				"grant_count":      len(f.Grants),
				"total_paid":       total,
				"median_grant":     median,
				"smallest_grant":   amounts[0],
				"largest_grant":    amounts[len(amounts)-1],
				"top5_share":       topShare,
				"recipient_states": states,
			}), nil
		},
	}
}

// GovernanceTool ranks the people most likely to move an application.
func GovernanceTool() tools.Tool {
	return &tools.Func{
		Meta: tools.Metadata{
			ID:           "governance",
			Version:      "1.0.0",
			Summary:      "Key people and policy indicators from a parsed filing",
			Class:        tools.ClassPure,
			InputSchema:  filingInputSchema(),
			OutputSchema: map[string]any{"type": "object", "required": []any{"board_size", "key_people"}},
			CacheTTL:     24 * time.Hour,
		},
		ExecuteFn: func(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
			f, err := decodeFiling(input)
			if err != nil {
				return nil, err
			}
			officers := append([]irsxml.Officer(nil), f.Officers...)
			sort.SliceStable(officers, func(a, b int) bool {
				if officers[a].Influence != officers[b].Influence {
					return officers[a].Influence > officers[b].Influence
				}
				return officers[a].CanonicalName < officers[b].CanonicalName
			})
			if len(officers) > 10 {
				officers = officers[:10]
			}
			return marshal(map[string]any{
				"board_size": len(f.Officers),
				"key_people": officers,
				"policies":   f.Governance,
			}), nil
		},
	}
}

// screen wraps the two-pass funnel so a workflow step can screen a
// whole candidate batch in one invocation.
func screenTool(funnel *screening.Funnel) tools.Tool {
	return &tools.Func{
		Meta: tools.Metadata{
			ID:      "screen",
			Version: "1.0.0",
			Summary: "Two-pass screening funnel over a candidate batch",
			Class:   tools.ClassExternal,
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"run_id", "profile", "candidates"},
				"properties": map[string]any{
					"run_id":      map[string]any{"type": "string", "minLength": 1},
					"profile":     map[string]any{"type": "object"},
					"mode":        map[string]any{"type": "string", "enum": []any{"", "fast", "thorough", "both"}},
					"stage":       map[string]any{"type": "string"},
					"threshold":   map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					"max_batch":   map[string]any{"type": "integer", "minimum": 0},
					"concurrency": map[string]any{"type": "integer", "minimum": 0},
					"candidates":  map[string]any{"type": "array", "items": map[string]any{"type": "object"}},
				},
				"additionalProperties": false,
			},
			OutputSchema: map[string]any{"type": "object", "required": []any{"results"}},
		},
		ExecuteFn: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			var req screening.Request
			if err := json.Unmarshal(input, &req); err != nil {
				return nil, fault.Wrap(fault.KindInvalidArguments, err, "decode screening request")
			}
			rep, err := funnel.Screen(ctx, req)
			if err != nil {
				return nil, err
			}
			return marshal(rep), nil
		},
	}
}

// intel_dossier wraps dossier assembly the same way.
func dossierTool(orch *intel.Orchestrator) tools.Tool {
	return &tools.Func{
		Meta: tools.Metadata{
			ID:      "intel_dossier",
			Version: "1.0.0",
			Summary: "Deep-intelligence dossier assembly for one funder",
			Class:   tools.ClassExternal,
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"ein"},
				"properties": map[string]any{
					"run_id":   map[string]any{"type": "string"},
					"ein":      map[string]any{"type": "string", "minLength": 9},
					"profile":  map[string]any{"type": "object"},
					"facts":    map[string]any{"type": "object"},
					"filing":   map[string]any{"type": "object"},
					"tier":     map[string]any{"type": "string", "enum": []any{"", "essentials", "premium"}},
					"deadline": map[string]any{"type": "integer", "minimum": 0},
				},
				"additionalProperties": false,
			},
			OutputSchema: map[string]any{"type": "object", "required": []any{"ein", "sections"}},
		},
		ExecuteFn: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			var req intel.Request
			if err := json.Unmarshal(input, &req); err != nil {
				return nil, fault.Wrap(fault.KindInvalidArguments, err, "decode dossier request")
			}
			d, err := orch.Assemble(ctx, req)
			if err != nil {
				return nil, err
			}
			return marshal(d), nil
		},
	}
}

// stage_score runs the relationship-stage composite scorer.
func stageScoreTool(deps Deps) tools.Tool {
	return &tools.Func{
		Meta: tools.Metadata{
			ID:      "stage_score",
			Version: "1.0.0",
			Summary: "Stage-weighted composite score for an opportunity",
			Class:   tools.ClassPure,
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"stage", "track", "dimensions"},
				"properties": map[string]any{
					"stage":        map[string]any{"type": "string"},
					"track":        map[string]any{"type": "string"},
					"dimensions":   map[string]any{"type": "object"},
					"availability": map[string]any{"type": "object"},
					"enhancements": map[string]any{"type": "integer", "minimum": 0},
				},
				"additionalProperties": false,
			},
			OutputSchema: map[string]any{"type": "object", "required": []any{"overall", "recommendation"}},
			CacheTTL:     time.Hour,
		},
		ExecuteFn: func(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
			var in struct {
				Stage        scoring.Stage                     `json:"stage"`
				Track        scoring.Track                     `json:"track"`
				Dimensions   map[string]scoring.DimensionInput `json:"dimensions"`
				Availability scoring.Availability              `json:"availability"`
				Enhancements int                               `json:"enhancements"`
			}
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, fault.Wrap(fault.KindInvalidArguments, err, "decode input")
			}
			scorer, err := scoring.NewStageScorer(deps.Weights)
			if err != nil {
				return nil, err
			}
			c, err := scorer.Score(in.Stage, in.Track, in.Dimensions, in.Availability, in.Enhancements)
			if err != nil {
				return nil, err
			}
			return marshal(c), nil
		},
	}
}
