// Package store is the intelligence store: a read-through cache of
// parsed filings and tool results plus the triage queue and workflow
// checkpoints. Writes are serialized per key; readers never block
// writers for unrelated keys.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/grantscope/grantscope/internal/irsxml"
	"github.com/grantscope/grantscope/internal/scoring"
)

// ToolResult is one cached tool execution, keyed by fingerprint.
type ToolResult struct {
	Fingerprint string          `json:"fingerprint" db:"fingerprint"`
	ToolID      string          `json:"tool_id" db:"tool_id"`
	ToolVersion string          `json:"tool_version" db:"tool_version"`
	ProducedAt  time.Time       `json:"produced_at" db:"produced_at"`
	Payload     json.RawMessage `json:"payload" db:"payload"`
	CostMicros  int64           `json:"cost_micros" db:"cost_micros"`
	LatencyMS   int64           `json:"latency_ms" db:"latency_ms"`
	Success     bool            `json:"success" db:"success"`
	ErrorKind   string          `json:"error_kind,omitempty" db:"error_kind"`
}

// ResultCache caches tool results by fingerprint with per-entry TTL.
type ResultCache interface {
	Get(ctx context.Context, fingerprint string) (ToolResult, bool, error)
	Put(ctx context.Context, res ToolResult, ttl time.Duration) error
}

// FilingCache stores parsed filings. Filings are immutable: a second
// Put for the same (EIN, year, kind) is a no-op.
type FilingCache interface {
	GetFiling(ctx context.Context, ein string, year int, kind irsxml.FormKind) (*irsxml.Filing, bool, error)
	PutFiling(ctx context.Context, f *irsxml.Filing) error
}

// TriageQueue is an append-only log with a mutable status projection.
// Append deduplicates on (run, opportunity): an opportunity enters the
// queue at most once per workflow run.
type TriageQueue interface {
	Append(ctx context.Context, item scoring.TriageItem) (added bool, err error)
	List(ctx context.Context, status scoring.TriageStatus, limit int) ([]scoring.TriageItem, error)
	SetStatus(ctx context.Context, id string, status scoring.TriageStatus, decision string) error
}

// Checkpoint is one persisted workflow step transition.
type Checkpoint struct {
	RunID     string    `json:"run_id" db:"run_id"`
	StepID    string    `json:"step_id" db:"step_id"`
	State     string    `json:"state" db:"state"`
	Attempt   int       `json:"attempt" db:"attempt"`
	ResultRef string    `json:"result_ref,omitempty" db:"result_ref"`
	ErrorKind string    `json:"error_kind,omitempty" db:"error_kind"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CheckpointStore persists step transitions so a restart resumes from
// the first non-terminal step.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
	LoadCheckpoints(ctx context.Context, runID string) (map[string]Checkpoint, error)
}

// Store aggregates every persistence concern the pipeline needs.
type Store interface {
	ResultCache
	FilingCache
	TriageQueue
	CheckpointStore
}
