package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "grantscope"
	version = "v0.4.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Grant research intelligence pipeline",
		Version: version,
		Long: `GrantScope screens, scores, and profiles institutional funders for
grant-seeking nonprofits: master-file filtering, IRS e-file parsing,
enrichment, two-pass screening, and workflow orchestration.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			return initApp(cfgPath)
		},
	}
	rootCmd.PersistentFlags().String("config", "", "Path to config YAML (GRANTSCOPE_* env vars override)")

	filterCmd := &cobra.Command{
		Use:   "filter",
		Short: "Filter the exempt-organization master file",
		Long:  "Stream the master file through the criteria engine and print matching organizations",
		RunE:  runFilter,
	}
	filterCmd.Flags().StringSlice("state", nil, "State codes to include")
	filterCmd.Flags().Bool("nationwide", false, "Match every state")
	filterCmd.Flags().StringSlice("ntee", nil, "NTEE code prefixes")
	filterCmd.Flags().Float64("revenue-min", 0, "Minimum annual revenue")
	filterCmd.Flags().Float64("revenue-max", 0, "Maximum annual revenue (0 = unbounded)")
	filterCmd.Flags().Bool("foundations", false, "Private foundations only")
	filterCmd.Flags().String("name", "", "Name substring match")

	parseCmd := &cobra.Command{
		Use:   "parse [file.xml ...]",
		Short: "Parse IRS e-file returns",
		Long:  "Detect the form variant, parse each return, and print the structured filing",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runParse,
	}
	parseCmd.Flags().String("form", "", "Expected form kind (990|990-PF|990-EZ); rejects mismatches")

	screenCmd := &cobra.Command{
		Use:   "screen",
		Short: "Run the two-pass screening funnel",
		Long:  "Filter candidates from the master file and run the fast/thorough screening passes",
		RunE:  runScreen,
	}
	screenCmd.Flags().StringSlice("state", nil, "Candidate state codes")
	screenCmd.Flags().StringSlice("ntee", nil, "Candidate NTEE prefixes")
	screenCmd.Flags().Float64("revenue-min", 0, "Candidate minimum revenue")
	screenCmd.Flags().String("mode", "both", "Screening mode (fast|thorough|both)")
	screenCmd.Flags().String("profile-ntee", "", "Seeker NTEE code")
	screenCmd.Flags().String("profile-state", "", "Seeker state")
	screenCmd.Flags().Float64("profile-revenue", 0, "Seeker annual revenue")
	screenCmd.Flags().Int("concurrency", 0, "Worker bound override")

	intelCmd := &cobra.Command{
		Use:   "intel <ein>",
		Short: "Assemble a deep-intelligence dossier",
		Args:  cobra.ExactArgs(1),
		RunE:  runIntel,
	}
	intelCmd.Flags().String("tier", "essentials", "Dossier tier (essentials|premium)")
	intelCmd.Flags().Duration("deadline", 2*time.Minute, "Dossier assembly deadline")

	workflowCmd := &cobra.Command{
		Use:   "workflow",
		Short: "Run and resume declarative workflows",
	}
	workflowRunCmd := &cobra.Command{
		Use:   "run <definition.yaml>",
		Short: "Execute a workflow definition",
		Args:  cobra.ExactArgs(1),
		RunE:  runWorkflowRun,
	}
	workflowResumeCmd := &cobra.Command{
		Use:   "resume <definition.yaml> <run-id>",
		Short: "Resume a checkpointed run",
		Args:  cobra.ExactArgs(2),
		RunE:  runWorkflowResume,
	}
	for _, cmd := range []*cobra.Command{workflowRunCmd, workflowResumeCmd} {
		cmd.Flags().StringToString("input", nil, "Run inputs as key=value pairs")
	}
	workflowCmd.AddCommand(workflowRunCmd, workflowResumeCmd)

	triageCmd := &cobra.Command{
		Use:   "triage",
		Short: "Manual review queue",
	}
	triageListCmd := &cobra.Command{
		Use:   "list",
		Short: "List queued triage items by priority",
		RunE:  runTriageList,
	}
	triageListCmd.Flags().String("status", "queued", "Filter by status")
	triageListCmd.Flags().Int("limit", 25, "Maximum items")
	triageCmd.AddCommand(triageListCmd)

	toolsCmd := &cobra.Command{
		Use:   "tools",
		Short: "Tool registry inspection",
	}
	toolsListCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered tools and versions",
		RunE:  runToolsList,
	}
	toolsCmd.AddCommand(toolsListCmd)

	rootCmd.AddCommand(filterCmd, parseCmd, screenCmd, intelCmd, workflowCmd, triageCmd, toolsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
