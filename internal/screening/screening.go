// Package screening runs the two-pass funnel: a cheap fast pass over
// every candidate, then a thorough pass over the survivors using
// enrichment and the foundation track. Candidates are screened
// concurrently with a bounded worker pool; the first budget denial
// stops further processing and defers the remaining candidates.
package screening

import (
	"context"
	"encoding/json"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/grantscope/grantscope/internal/fault"
	"github.com/grantscope/grantscope/internal/metrics"
	"github.com/grantscope/grantscope/internal/normalize"
	"github.com/grantscope/grantscope/internal/scoring"
	"github.com/grantscope/grantscope/internal/tools"
)

// Mode selects which passes run.
type Mode string

const (
	ModeFast     Mode = "fast"
	ModeThorough Mode = "thorough"
	ModeBoth     Mode = "both"
)

// Candidate is one organization entering the funnel.
type Candidate struct {
	ID           string  `json:"id"`
	EIN          string  `json:"ein"`
	Name         string  `json:"name"`
	State        string  `json:"state"`
	NTEE         string  `json:"ntee"`
	Revenue      float64 `json:"revenue"`
	Assets       float64 `json:"assets"`
	IsFoundation bool    `json:"is_foundation"`
}

// defaultFastThreshold is the fast-pass survivor cut when the request
// does not set one.
const defaultFastThreshold = 0.50

// Request is one screening run.
type Request struct {
	RunID      string                `json:"run_id"`
	Profile    scoring.SeekerProfile `json:"profile"`
	Mode       Mode                  `json:"mode,omitempty"`
	Stage      scoring.Stage         `json:"stage,omitempty"`
	Candidates []Candidate           `json:"candidates"`
	// Threshold is the minimum fast score a candidate needs to reach
	// the thorough pass; zero means the default 0.50.
	Threshold float64 `json:"threshold,omitempty"`
	// MaxBatch rejects oversized candidate batches when positive.
	MaxBatch int `json:"max_batch,omitempty"`
	// Concurrency overrides the default worker bound when positive.
	Concurrency int `json:"concurrency,omitempty"`
}

// Outcome is the screened result for one candidate.
type Outcome struct {
	Candidate      Candidate               `json:"candidate"`
	Fast           *scoring.CompositeScore `json:"fast,omitempty"`
	Thorough       *scoring.CompositeScore `json:"thorough,omitempty"`
	Score          float64                 `json:"score"`
	Recommendation scoring.Recommendation  `json:"recommendation"`
	Deferred       bool                    `json:"deferred,omitempty"`
	Error          string                  `json:"error,omitempty"`
}

// Report aggregates a run. Results are ordered score descending with
// candidate id ascending as the tiebreak, so identical inputs always
// produce identical output order.
type Report struct {
	Results  []Outcome     `json:"results"`
	Deferred int           `json:"deferred"`
	Failed   int           `json:"failed"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Funnel executes screening runs through the tool framework.
type Funnel struct {
	inv        *tools.Invoker
	adjacency  map[string][]string
	foundation scoring.FoundationConfig
}

// NewFunnel wires a funnel over an invoker.
func NewFunnel(inv *tools.Invoker, foundation scoring.FoundationConfig) *Funnel {
	if foundation.Adjacency == nil {
		foundation.Adjacency = scoring.DefaultAdjacency()
	}
	return &Funnel{inv: inv, adjacency: foundation.Adjacency, foundation: foundation}
}

func workerBound(requested int) int {
	if requested > 0 {
		return requested
	}
	n := runtime.GOMAXPROCS(0)
	if n > 8 {
		n = 8
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Screen runs the funnel. Per-candidate failures never abort the run;
// cancellation of ctx does. Once the budget denies one candidate the
// run stops spending: every candidate not yet started is deferred.
func (f *Funnel) Screen(ctx context.Context, req Request) (Report, error) {
	start := time.Now()
	if req.Mode == "" {
		req.Mode = ModeBoth
	}
	if req.Stage == "" {
		req.Stage = scoring.StageDiscover
	}
	if req.Threshold <= 0 {
		req.Threshold = defaultFastThreshold
	}
	if req.MaxBatch > 0 && len(req.Candidates) > req.MaxBatch {
		return Report{}, fault.New(fault.KindInvalidArguments,
			"batch of %d candidates exceeds maximum %d", len(req.Candidates), req.MaxBatch)
	}

	outcomes := make([]Outcome, len(req.Candidates))
	var exhausted atomic.Bool
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workerBound(req.Concurrency))

	for i, cand := range req.Candidates {
		i, cand := i, cand
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if exhausted.Load() {
				outcomes[i] = deferOutcome(cand)
				return nil
			}
			out := f.screenOne(gctx, req, cand)
			if out.Deferred {
				exhausted.Store(true)
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, fault.Wrap(fault.KindOf(err), err, "screening run %s", req.RunID)
	}

	sort.SliceStable(outcomes, func(a, b int) bool {
		if outcomes[a].Score != outcomes[b].Score {
			return outcomes[a].Score > outcomes[b].Score
		}
		return outcomes[a].Candidate.ID < outcomes[b].Candidate.ID
	})

	rep := Report{Results: outcomes, Elapsed: time.Since(start)}
	for _, o := range outcomes {
		if o.Deferred {
			rep.Deferred++
		}
		if o.Error != "" {
			rep.Failed++
		}
	}
	log.Info().Str("run", req.RunID).Int("candidates", len(req.Candidates)).
		Int("deferred", rep.Deferred).Int("failed", rep.Failed).
		Dur("elapsed", rep.Elapsed).Msg("screening run complete")
	return rep, nil
}

func (f *Funnel) screenOne(ctx context.Context, req Request, cand Candidate) Outcome {
	out := Outcome{Candidate: cand, Recommendation: scoring.RecommendFail}

	if req.Mode == ModeFast || req.Mode == ModeBoth {
		fast, err := f.fastPass(ctx, req, cand)
		if err != nil {
			return f.failOutcome(out, "fast", err)
		}
		out.Fast = fast
		out.Score = fast.Overall
		out.Recommendation = fast.Recommendation
		metrics.ScreeningDecisions.WithLabelValues("fast", string(fast.Recommendation)).Inc()
		// Survivors are exactly the candidates at or above the fast
		// threshold; everyone else never reaches the thorough pass.
		if req.Mode == ModeBoth && fast.Overall < req.Threshold {
			return out
		}
	}

	if req.Mode == ModeThorough || req.Mode == ModeBoth {
		thorough, err := f.thoroughPass(ctx, req, cand)
		if err != nil {
			return f.failOutcome(out, "thorough", err)
		}
		out.Thorough = thorough
		out.Score = thorough.Overall
		out.Recommendation = thorough.Recommendation
		metrics.ScreeningDecisions.WithLabelValues("thorough", string(thorough.Recommendation)).Inc()
	}
	return out
}

func deferOutcome(cand Candidate) Outcome {
	return Outcome{Candidate: cand, Deferred: true, Recommendation: scoring.RecommendAbstain}
}

// failOutcome classifies a pass failure: budget denials defer the
// candidate for a later run, everything else records a partial
// failure.
func (f *Funnel) failOutcome(out Outcome, pass string, err error) Outcome {
	kind := fault.KindOf(err)
	if kind == fault.KindBudgetExceeded {
		out.Deferred = true
		out.Recommendation = scoring.RecommendAbstain
		log.Info().Str("candidate", out.Candidate.ID).Str("pass", pass).Msg("candidate deferred on budget")
		return out
	}
	out.Error = kind.String()
	out.Recommendation = scoring.RecommendAbstain
	log.Warn().Err(err).Str("candidate", out.Candidate.ID).Str("pass", pass).Msg("candidate screening failed")
	return out
}

func (f *Funnel) fastPass(ctx context.Context, req Request, cand Candidate) (*scoring.CompositeScore, error) {
	input, err := json.Marshal(map[string]any{
		"stage":      string(req.Stage),
		"track":      string(scoring.TrackNonprofit),
		"dimensions": f.fastDimensions(req.Profile, cand),
	})
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidArguments, err, "encode fast input")
	}
	res, err := f.inv.Invoke(ctx, "stage_score", input, tools.InvokeOptions{})
	if err != nil {
		return nil, err
	}
	var c scoring.CompositeScore
	if err := json.Unmarshal(res.Payload, &c); err != nil {
		return nil, fault.Wrap(fault.KindUnknown, err, "decode fast score")
	}
	return &c, nil
}

// fastDimensions derives the cheap pass from master-file fields alone.
func (f *Funnel) fastDimensions(profile scoring.SeekerProfile, cand Candidate) map[string]scoring.DimensionInput {
	pc, _ := normalize.ParseNTEE(profile.NTEE)
	cc, _ := normalize.ParseNTEE(cand.NTEE)
	mission := normalize.NTEEAlignment(pc, cc)
	missionDQ := 1.0
	if cand.NTEE == "" {
		missionDQ = 0.3
	}

	geo := 0.25
	switch {
	case cand.State == "" || profile.State == "":
		geo = 0.5
	case cand.State == profile.State:
		geo = 1.0
	case contains(f.adjacency[profile.State], cand.State):
		geo = 0.75
	}

	financial := 0.2
	switch {
	case cand.Revenue >= 10*profile.Revenue:
		financial = 1.0
	case cand.Revenue >= 2*profile.Revenue:
		financial = 0.7
	case cand.Revenue > 0:
		financial = 0.4
	}

	eligibility := 0.5
	if cand.IsFoundation {
		eligibility = 0.9
	}

	return map[string]scoring.DimensionInput{
		"mission":     {Raw: mission, DataQuality: missionDQ},
		"geographic":  {Raw: geo, DataQuality: 1},
		"financial":   {Raw: financial, DataQuality: 0.8},
		"eligibility": {Raw: eligibility, DataQuality: 0.7},
		"timing":      {Raw: 0.5, DataQuality: 0.5},
	}
}

func (f *Funnel) thoroughPass(ctx context.Context, req Request, cand Candidate) (*scoring.CompositeScore, error) {
	facts := scoring.FoundationFacts{
		NTEE:   cand.NTEE,
		Assets: cand.Assets,
	}
	if cand.EIN != "" {
		input, _ := json.Marshal(map[string]string{"ein": cand.EIN})
		res, err := f.inv.Invoke(ctx, "propublica_enrich", input, tools.InvokeOptions{})
		if err != nil {
			// Enrichment is best-effort unless the budget said no.
			if fault.KindOf(err) == fault.KindBudgetExceeded {
				return nil, err
			}
			log.Debug().Err(err).Str("ein", cand.EIN).Msg("enrichment unavailable, scoring on master file data")
		} else {
			var rec struct {
				NTEE       string  `json:"ntee"`
				Assets     float64 `json:"assets"`
				LatestYear int     `json:"latest_year"`
			}
			if jerr := json.Unmarshal(res.Payload, &rec); jerr == nil {
				if rec.NTEE != "" {
					facts.NTEE = rec.NTEE
				}
				if rec.Assets > 0 {
					facts.Assets = rec.Assets
				}
				facts.MostRecentFilingYear = rec.LatestYear
			}
		}
	}

	input, err := json.Marshal(map[string]any{"profile": req.Profile, "facts": facts})
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidArguments, err, "encode thorough input")
	}
	res, err := f.inv.Invoke(ctx, "foundation_score", input, tools.InvokeOptions{})
	if err != nil {
		return nil, err
	}
	var c scoring.CompositeScore
	if err := json.Unmarshal(res.Payload, &c); err != nil {
		return nil, fault.Wrap(fault.KindUnknown, err, "decode thorough score")
	}
	return &c, nil
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
