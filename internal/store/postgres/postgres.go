// Package postgres persists the intelligence store in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/grantscope/grantscope/internal/fault"
	"github.com/grantscope/grantscope/internal/irsxml"
	"github.com/grantscope/grantscope/internal/scoring"
	"github.com/grantscope/grantscope/internal/store"
)

// Schema is applied at startup. Statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS filings (
	ein          TEXT NOT NULL,
	tax_year     INT  NOT NULL,
	form_kind    TEXT NOT NULL,
	parsed_at    TIMESTAMPTZ NOT NULL,
	payload      JSONB NOT NULL,
	PRIMARY KEY (ein, tax_year, form_kind)
);

CREATE TABLE IF NOT EXISTS tool_results (
	fingerprint  TEXT PRIMARY KEY,
	tool_id      TEXT NOT NULL,
	tool_version TEXT NOT NULL,
	produced_at  TIMESTAMPTZ NOT NULL,
	expires_at   TIMESTAMPTZ NOT NULL,
	payload      JSONB NOT NULL,
	cost_micros  BIGINT NOT NULL DEFAULT 0,
	latency_ms   BIGINT NOT NULL DEFAULT 0,
	success      BOOLEAN NOT NULL,
	error_kind   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS tool_results_tool_idx ON tool_results (tool_id, produced_at DESC);

CREATE TABLE IF NOT EXISTS triage_items (
	id             TEXT PRIMARY KEY,
	run_id         TEXT NOT NULL,
	opportunity_id TEXT NOT NULL,
	status         TEXT NOT NULL,
	priority       DOUBLE PRECISION NOT NULL,
	overall        DOUBLE PRECISION NOT NULL,
	payload        JSONB NOT NULL,
	decision       TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL,
	UNIQUE (run_id, opportunity_id)
);
CREATE INDEX IF NOT EXISTS triage_status_idx ON triage_items (status, priority DESC);

CREATE TABLE IF NOT EXISTS workflow_checkpoints (
	run_id     TEXT NOT NULL,
	step_id    TEXT NOT NULL,
	state      TEXT NOT NULL,
	attempt    INT NOT NULL DEFAULT 0,
	result_ref TEXT NOT NULL DEFAULT '',
	error_kind TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, step_id)
);
`

// Store implements store.Store over sqlx.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open connects and applies the schema.
func Open(dsn string, timeout time.Duration) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, err, "connect postgres")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s := &Store{db: db, timeout: timeout}
	if _, err := db.Exec(Schema); err != nil {
		return nil, fault.Wrap(fault.KindTransient, err, "apply schema")
	}
	return s, nil
}

// New wraps an existing connection without applying the schema.
func New(db *sqlx.DB, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{db: db, timeout: timeout}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.timeout)
}

func (s *Store) Get(parent context.Context, fingerprint string) (store.ToolResult, bool, error) {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	var row struct {
		store.ToolResult
		ExpiresAt time.Time `db:"expires_at"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT fingerprint, tool_id, tool_version, produced_at, expires_at,
		       payload, cost_micros, latency_ms, success, error_kind
		FROM tool_results WHERE fingerprint = $1`, fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ToolResult{}, false, nil
	}
	if err != nil {
		return store.ToolResult{}, false, fault.Wrap(fault.KindTransient, err, "get tool result")
	}
	if time.Now().After(row.ExpiresAt) {
		return store.ToolResult{}, false, nil
	}
	return row.ToolResult, true, nil
}

func (s *Store) Put(parent context.Context, res store.ToolResult, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	ctx, cancel := s.ctx(parent)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_results
			(fingerprint, tool_id, tool_version, produced_at, expires_at,
			 payload, cost_micros, latency_ms, success, error_kind)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (fingerprint) DO UPDATE SET
			produced_at = EXCLUDED.produced_at,
			expires_at  = EXCLUDED.expires_at,
			payload     = EXCLUDED.payload,
			cost_micros = EXCLUDED.cost_micros,
			latency_ms  = EXCLUDED.latency_ms,
			success     = EXCLUDED.success,
			error_kind  = EXCLUDED.error_kind`,
		res.Fingerprint, res.ToolID, res.ToolVersion, res.ProducedAt,
		time.Now().Add(ttl), res.Payload, res.CostMicros, res.LatencyMS,
		res.Success, res.ErrorKind)
	return fault.Wrap(fault.KindTransient, err, "put tool result")
}

func (s *Store) GetFiling(parent context.Context, ein string, year int, kind irsxml.FormKind) (*irsxml.Filing, bool, error) {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	var payload []byte
	err := s.db.GetContext(ctx, &payload, `
		SELECT payload FROM filings
		WHERE ein = $1 AND tax_year = $2 AND form_kind = $3`, ein, year, string(kind))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fault.Wrap(fault.KindTransient, err, "get filing")
	}
	var f irsxml.Filing
	if err := json.Unmarshal(payload, &f); err != nil {
		return nil, false, fault.Wrap(fault.KindTransient, err, "decode filing")
	}
	return &f, true, nil
}

func (s *Store) PutFiling(parent context.Context, f *irsxml.Filing) error {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	payload, err := json.Marshal(f)
	if err != nil {
		return fault.Wrap(fault.KindInvalidArguments, err, "encode filing")
	}
	// Filings are immutable: first writer wins.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO filings (ein, tax_year, form_kind, parsed_at, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (ein, tax_year, form_kind) DO NOTHING`,
		f.EIN, f.TaxYear, string(f.Kind), f.ParsedAt, payload)
	return fault.Wrap(fault.KindTransient, err, "put filing")
}

func (s *Store) Append(parent context.Context, item scoring.TriageItem) (bool, error) {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	payload, err := json.Marshal(item)
	if err != nil {
		return false, fault.Wrap(fault.KindInvalidArguments, err, "encode triage item")
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO triage_items
			(id, run_id, opportunity_id, status, priority, overall, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id, opportunity_id) DO NOTHING`,
		item.ID, item.RunID, item.OpportunityID, string(item.Status),
		item.Priority, item.Overall, payload, item.CreatedAt)
	if err != nil {
		return false, fault.Wrap(fault.KindTransient, err, "append triage item")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) List(parent context.Context, status scoring.TriageStatus, limit int) ([]scoring.TriageItem, error) {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	query := `SELECT payload, status, decision FROM triage_items`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY priority DESC, created_at ASC LIMIT ` + itoa(limit)

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, err, "list triage items")
	}
	defer rows.Close()

	var out []scoring.TriageItem
	for rows.Next() {
		var payload []byte
		var st, decision string
		if err := rows.Scan(&payload, &st, &decision); err != nil {
			return nil, fault.Wrap(fault.KindTransient, err, "scan triage item")
		}
		var item scoring.TriageItem
		if err := json.Unmarshal(payload, &item); err != nil {
			continue
		}
		// The status projection is authoritative over the log payload.
		item.Status = scoring.TriageStatus(st)
		item.Decision = decision
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *Store) SetStatus(parent context.Context, id string, status scoring.TriageStatus, decision string) error {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE triage_items SET status = $2, decision = $3 WHERE id = $1`,
		id, string(status), decision)
	if err != nil {
		return fault.Wrap(fault.KindTransient, err, "set triage status")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.KindNotFound, "triage item %s", id)
	}
	return nil
}

func (s *Store) SaveCheckpoint(parent context.Context, cp store.Checkpoint) error {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_checkpoints
			(run_id, step_id, state, attempt, result_ref, error_kind, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id, step_id) DO UPDATE SET
			state = EXCLUDED.state,
			attempt = EXCLUDED.attempt,
			result_ref = EXCLUDED.result_ref,
			error_kind = EXCLUDED.error_kind,
			updated_at = EXCLUDED.updated_at`,
		cp.RunID, cp.StepID, cp.State, cp.Attempt, cp.ResultRef, cp.ErrorKind, cp.UpdatedAt)
	return fault.Wrap(fault.KindTransient, err, "save checkpoint")
}

func (s *Store) LoadCheckpoints(parent context.Context, runID string) (map[string]store.Checkpoint, error) {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	var rows []store.Checkpoint
	err := s.db.SelectContext(ctx, &rows, `
		SELECT run_id, step_id, state, attempt, result_ref, error_kind, updated_at
		FROM workflow_checkpoints WHERE run_id = $1`, runID)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, err, "load checkpoints")
	}
	out := make(map[string]store.Checkpoint, len(rows))
	for _, cp := range rows {
		out[cp.StepID] = cp
	}
	return out, nil
}

func itoa(n int) string {
	if n <= 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

var _ store.Store = (*Store)(nil)
