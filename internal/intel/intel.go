// Package intel assembles deep-intelligence dossiers on a single
// funder. Sections run concurrently under a shared deadline; whatever
// finished when the deadline hits is returned with Truncated set.
package intel

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/grantscope/grantscope/internal/fault"
	"github.com/grantscope/grantscope/internal/irsxml"
	"github.com/grantscope/grantscope/internal/scoring"
	"github.com/grantscope/grantscope/internal/tools"
)

// Tier selects how much analysis a dossier gets.
type Tier string

const (
	TierEssentials Tier = "essentials"
	TierPremium    Tier = "premium"
)

// Request describes one dossier build.
type Request struct {
	RunID   string                  `json:"run_id,omitempty"`
	EIN     string                  `json:"ein"`
	Profile scoring.SeekerProfile   `json:"profile"`
	Facts   scoring.FoundationFacts `json:"facts"`
	// Filing is the most recent parsed return, when available. The
	// filing-backed sections degrade gracefully without it.
	Filing   *irsxml.Filing `json:"filing,omitempty"`
	Tier     Tier           `json:"tier,omitempty"`
	Deadline time.Duration  `json:"deadline,omitempty"`
}

// Section is one analysis block of a dossier.
type Section struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
	Elapsed time.Duration   `json:"elapsed"`
}

// Dossier is the assembled result.
type Dossier struct {
	EIN         string    `json:"ein"`
	Tier        Tier      `json:"tier"`
	Sections    []Section `json:"sections"`
	Truncated   bool      `json:"truncated,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Orchestrator fans analysis sections out through the tool framework.
// Every section is a tool invocation, so repeated dossier builds for
// the same funder hit the fingerprint cache section by section.
type Orchestrator struct {
	inv *tools.Invoker
}

// NewOrchestrator wires an orchestrator over an invoker.
func NewOrchestrator(inv *tools.Invoker) *Orchestrator {
	return &Orchestrator{inv: inv}
}

type sectionSpec struct {
	name string
	run  func(ctx context.Context, req Request) (json.RawMessage, error)
}

func (o *Orchestrator) specs(tier Tier) []sectionSpec {
	specs := []sectionSpec{
		{"enrichment", o.enrichment},
		{"financial_profile", o.financialProfile},
		{"grantmaking_patterns", o.grantmakingPatterns},
		{"governance", o.governance},
		{"funding_fit", o.fundingFit},
	}
	if tier == TierPremium {
		specs = append(specs,
			sectionSpec{"narrative_assessment", o.narrative},
			sectionSpec{"approach_readiness", o.approachReadiness},
		)
	}
	return specs
}

// Assemble builds the dossier. The error return covers only request
// level problems; section failures land in the section records.
func (o *Orchestrator) Assemble(ctx context.Context, req Request) (Dossier, error) {
	if req.EIN == "" {
		return Dossier{}, fault.New(fault.KindInvalidArguments, "ein required")
	}
	if req.Tier == "" {
		req.Tier = TierEssentials
	}
	if req.Deadline <= 0 {
		req.Deadline = 2 * time.Minute
	}

	dctx, cancel := context.WithTimeout(ctx, req.Deadline)
	defer cancel()

	specs := o.specs(req.Tier)
	sections := make([]Section, len(specs))
	g, gctx := errgroup.WithContext(dctx)
	g.SetLimit(4)

	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			start := time.Now()
			payload, err := spec.run(gctx, req)
			sec := Section{Name: spec.name, Elapsed: time.Since(start)}
			if err != nil {
				sec.Error = fault.KindOf(err).String()
				log.Warn().Err(err).Str("ein", req.EIN).Str("section", spec.name).Msg("dossier section failed")
			} else {
				sec.Payload = payload
			}
			sections[i] = sec
			return nil
		})
	}
	_ = g.Wait()

	d := Dossier{EIN: req.EIN, Tier: req.Tier, GeneratedAt: time.Now().UTC()}
	for _, sec := range sections {
		if sec.Error == fault.KindTimeout.String() || sec.Error == fault.KindCancelled.String() {
			if dctx.Err() != nil && ctx.Err() == nil {
				d.Truncated = true
			}
		}
		d.Sections = append(d.Sections, sec)
	}
	if ctx.Err() != nil {
		return d, fault.Wrap(fault.KindOf(ctx.Err()), ctx.Err(), "dossier %s", req.EIN)
	}
	log.Info().Str("ein", req.EIN).Str("tier", string(req.Tier)).
		Bool("truncated", d.Truncated).Int("sections", len(d.Sections)).
		Msg("dossier assembled")
	return d, nil
}

func (o *Orchestrator) enrichment(ctx context.Context, req Request) (json.RawMessage, error) {
	input, _ := json.Marshal(map[string]string{"ein": req.EIN})
	res, err := o.inv.Invoke(ctx, "propublica_enrich", input, tools.InvokeOptions{})
	if err != nil {
		return nil, err
	}
	return res.Payload, nil
}

func (o *Orchestrator) financialProfile(ctx context.Context, req Request) (json.RawMessage, error) {
	return o.filingSection(ctx, "financial_profile", req)
}

func (o *Orchestrator) grantmakingPatterns(ctx context.Context, req Request) (json.RawMessage, error) {
	return o.filingSection(ctx, "grantmaking_patterns", req)
}

func (o *Orchestrator) governance(ctx context.Context, req Request) (json.RawMessage, error) {
	return o.filingSection(ctx, "governance", req)
}

// filingSection runs one of the filing-backed analysis tools. Without
// a parsed filing the section reports not_found instead of invoking.
func (o *Orchestrator) filingSection(ctx context.Context, tool string, req Request) (json.RawMessage, error) {
	if req.Filing == nil {
		return nil, fault.New(fault.KindNotFound, "no parsed filing for %s", req.EIN)
	}
	input, err := json.Marshal(map[string]any{"filing": req.Filing})
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidArguments, err, "encode %s input", tool)
	}
	res, err := o.inv.Invoke(ctx, tool, input, tools.InvokeOptions{})
	if err != nil {
		return nil, err
	}
	return res.Payload, nil
}

func (o *Orchestrator) fundingFit(ctx context.Context, req Request) (json.RawMessage, error) {
	input, err := json.Marshal(map[string]any{"profile": req.Profile, "facts": req.Facts})
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidArguments, err, "encode fit input")
	}
	res, err := o.inv.Invoke(ctx, "foundation_score", input, tools.InvokeOptions{})
	if err != nil {
		return nil, err
	}
	return res.Payload, nil
}

func (o *Orchestrator) narrative(ctx context.Context, req Request) (json.RawMessage, error) {
	contextDoc := map[string]any{"ein": req.EIN, "facts": req.Facts}
	if req.Filing != nil {
		contextDoc["financial"] = req.Filing.Financial
		contextDoc["grant_count"] = len(req.Filing.Grants)
	}
	input, err := json.Marshal(map[string]any{
		"task":    "Assess this funder's giving behavior and fit for the applicant profile",
		"context": contextDoc,
	})
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidArguments, err, "encode narrative input")
	}
	res, err := o.inv.Invoke(ctx, "narrative_analysis", input, tools.InvokeOptions{})
	if err != nil {
		return nil, err
	}
	return res.Payload, nil
}

// approachReadiness re-scores at the approach stage, where weighting
// shifts toward execution viability and timeline.
func (o *Orchestrator) approachReadiness(ctx context.Context, req Request) (json.RawMessage, error) {
	input, err := json.Marshal(map[string]any{
		"stage":      string(scoring.StageApproach),
		"track":      string(scoring.TrackNonprofit),
		"dimensions": ApproachDimensions(req),
	})
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidArguments, err, "encode readiness input")
	}
	res, err := o.inv.Invoke(ctx, "stage_score", input, tools.InvokeOptions{})
	if err != nil {
		return nil, err
	}
	return res.Payload, nil
}

// ApproachDimensions derives the approach-stage inputs from the
// request facts. The keys match the approach row of the stage weight
// table: viability, success, strategic, resources, timeline.
func ApproachDimensions(req Request) map[string]scoring.DimensionInput {
	alignment := 0.5
	if req.Facts.NTEE != "" && req.Facts.NTEE == req.Profile.NTEE {
		alignment = 1.0
	}
	return map[string]scoring.DimensionInput{
		"viability": {Raw: alignment, DataQuality: 0.9},
		"success":   {Raw: 0.7, DataQuality: 0.8},
		"strategic": {Raw: 0.8, DataQuality: 0.8},
		"resources": {Raw: 0.7, DataQuality: 0.8},
		"timeline":  {Raw: 0.6, DataQuality: 0.6},
	}
}
