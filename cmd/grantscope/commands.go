package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/grantscope/grantscope/internal/bmf"
	"github.com/grantscope/grantscope/internal/intel"
	"github.com/grantscope/grantscope/internal/irsxml"
	"github.com/grantscope/grantscope/internal/scoring"
	"github.com/grantscope/grantscope/internal/screening"
	"github.com/grantscope/grantscope/internal/tools"
	"github.com/grantscope/grantscope/internal/workflow"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runFilter(cmd *cobra.Command, _ []string) error {
	states, _ := cmd.Flags().GetStringSlice("state")
	nationwide, _ := cmd.Flags().GetBool("nationwide")
	ntee, _ := cmd.Flags().GetStringSlice("ntee")
	revMin, _ := cmd.Flags().GetFloat64("revenue-min")
	revMax, _ := cmd.Flags().GetFloat64("revenue-max")
	foundations, _ := cmd.Flags().GetBool("foundations")
	name, _ := cmd.Flags().GetString("name")

	criteria := bmf.Criteria{
		States:         states,
		Nationwide:     nationwide,
		NTEEPrefixes:   ntee,
		RevenueMin:     revMin,
		RevenueMax:     revMax,
		FoundationOnly: foundations,
		NameContains:   name,
	}
	input, err := json.Marshal(criteria)
	if err != nil {
		return err
	}
	res, err := theApp.invoker.Invoke(cmd.Context(), "bmf_filter", input, tools.InvokeOptions{})
	if err != nil {
		return err
	}
	return printJSON(json.RawMessage(res.Payload))
}

func runParse(cmd *cobra.Command, args []string) error {
	form, _ := cmd.Flags().GetString("form")
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		declared := irsxml.FormKind(form)
		if declared == "" {
			declared, err = irsxml.Detect(data)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
		}
		filing, err := irsxml.Parse(data, declared)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := theApp.store.PutFiling(cmd.Context(), filing); err != nil {
			return err
		}
		if err := printJSON(filing); err != nil {
			return err
		}
	}
	return nil
}

func runScreen(cmd *cobra.Command, _ []string) error {
	states, _ := cmd.Flags().GetStringSlice("state")
	ntee, _ := cmd.Flags().GetStringSlice("ntee")
	revMin, _ := cmd.Flags().GetFloat64("revenue-min")
	mode, _ := cmd.Flags().GetString("mode")
	profNTEE, _ := cmd.Flags().GetString("profile-ntee")
	profState, _ := cmd.Flags().GetString("profile-state")
	profRevenue, _ := cmd.Flags().GetFloat64("profile-revenue")
	concurrency, _ := cmd.Flags().GetInt("concurrency")

	orgs, perf := theApp.table.Filter(bmf.Criteria{
		States:       states,
		NTEEPrefixes: ntee,
		RevenueMin:   revMin,
	}, 0)

	candidates := make([]screening.Candidate, 0, len(orgs))
	for _, o := range orgs {
		candidates = append(candidates, screening.Candidate{
			ID:           o.EIN,
			EIN:          o.EIN,
			Name:         o.Name,
			State:        o.State,
			NTEE:         o.NTEERaw,
			Revenue:      o.Revenue,
			Assets:       o.Assets,
			IsFoundation: o.IsPrivateFoundation(),
		})
	}

	runID := uuid.NewString()
	rep, err := theApp.funnel.Screen(cmd.Context(), screening.Request{
		RunID: runID,
		Profile: scoring.SeekerProfile{
			NTEE:    profNTEE,
			State:   profState,
			Revenue: profRevenue,
		},
		Mode:        screening.Mode(mode),
		Candidates:  candidates,
		Concurrency: concurrency,
	})
	if err != nil {
		return err
	}

	// Queue borderline outcomes for manual review.
	queued := 0
	for _, o := range rep.Results {
		score := o.Thorough
		if score == nil {
			score = o.Fast
		}
		if score == nil || !scoring.NeedsTriage(*score) {
			continue
		}
		item := scoring.NewTriageItem(scoring.DefaultTriageConfig(), runID, o.Candidate.ID, *score, 0)
		if added, terr := theApp.store.Append(cmd.Context(), item); terr == nil && added {
			queued++
		}
	}

	return printJSON(map[string]any{
		"run_id":   runID,
		"filtered": perf,
		"report":   rep,
		"queued":   queued,
	})
}

func runIntel(cmd *cobra.Command, args []string) error {
	tier, _ := cmd.Flags().GetString("tier")
	deadline, _ := cmd.Flags().GetDuration("deadline")

	dossier, err := theApp.orch.Assemble(cmd.Context(), intel.Request{
		RunID:    uuid.NewString(),
		EIN:      args[0],
		Tier:     intel.Tier(tier),
		Deadline: deadline,
	})
	if err != nil {
		return err
	}
	return printJSON(dossier)
}

func workflowInputs(cmd *cobra.Command) map[string]any {
	raw, _ := cmd.Flags().GetStringToString("input")
	inputs := make(map[string]any, len(raw))
	for k, v := range raw {
		inputs[k] = v
	}
	return inputs
}

func runWorkflowRun(cmd *cobra.Command, args []string) error {
	def, err := workflow.LoadDefinition(args[0])
	if err != nil {
		return err
	}
	res, err := theApp.engine.Run(cmd.Context(), def, uuid.NewString(), workflowInputs(cmd))
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runWorkflowResume(cmd *cobra.Command, args []string) error {
	def, err := workflow.LoadDefinition(args[0])
	if err != nil {
		return err
	}
	res, err := theApp.engine.Resume(cmd.Context(), def, args[1], workflowInputs(cmd))
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runTriageList(cmd *cobra.Command, _ []string) error {
	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")

	items, err := theApp.store.List(cmd.Context(), scoring.TriageStatus(status), limit)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("triage queue is empty")
		return nil
	}
	for _, item := range items {
		fmt.Printf("%-38s %-12s prio=%.3f overall=%.3f %s\n",
			item.ID, item.Status, item.Priority, item.Overall, item.OpportunityID)
	}
	return nil
}

func runToolsList(_ *cobra.Command, _ []string) error {
	for _, meta := range theApp.invoker.Registry().List() {
		fmt.Printf("%-28s %-10s %-9s %s\n", meta.ID, meta.Version, meta.Class, meta.Summary)
	}
	return nil
}
