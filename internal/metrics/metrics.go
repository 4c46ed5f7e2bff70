// Package metrics registers the Prometheus collectors shared across
// the pipeline. Collectors are package-level so any component can
// record without plumbing a registry through every constructor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ToolInvocations counts tool executions by outcome
	// (succeeded, failed, cached, denied).
	ToolInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grantscope_tool_invocations_total",
		Help: "Tool invocations by tool id and outcome",
	}, []string{"tool", "outcome"})

	// ToolLatency tracks wall-clock execution time per tool.
	ToolLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grantscope_tool_latency_seconds",
		Help:    "Tool execution latency",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"tool"})

	// CacheHits counts result-cache hits and misses.
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grantscope_result_cache_total",
		Help: "Result cache lookups by tool and result (hit, miss, bypass)",
	}, []string{"tool", "result"})

	// BudgetDenials counts reservations refused by the cost tracker.
	BudgetDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grantscope_budget_denials_total",
		Help: "Budget reservations denied, by window (run, day, month)",
	}, []string{"window"})

	// BudgetCommitted accumulates committed spend in micros.
	BudgetCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grantscope_budget_committed_micros_total",
		Help: "Committed spend in micro-dollars",
	})

	// StepTransitions counts workflow step state transitions.
	StepTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grantscope_workflow_step_transitions_total",
		Help: "Workflow step transitions by target state",
	}, []string{"state"})

	// ScreeningDecisions counts funnel outcomes per pass.
	ScreeningDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grantscope_screening_decisions_total",
		Help: "Screening decisions by pass (fast, thorough) and recommendation",
	}, []string{"pass", "recommendation"})
)
