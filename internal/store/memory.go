package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/grantscope/grantscope/internal/irsxml"
	"github.com/grantscope/grantscope/internal/scoring"
)

// Memory is the in-process store implementation. Suitable for single
// node deployments and as the hot layer in front of Postgres.
type Memory struct {
	mu sync.RWMutex

	results     map[string]*resultEntry
	maxResults  int
	minRetained int // per-tool floor the LRU sweep will not cross

	filings map[string]*irsxml.Filing

	triageLog  []scoring.TriageItem
	triageByID map[string]int
	triageSeen map[string]bool // runID/opportunityID dedupe

	checkpoints map[string]map[string]Checkpoint
}

type resultEntry struct {
	res      ToolResult
	expires  time.Time
	accessed time.Time
}

// MemoryOption tunes the in-memory store.
type MemoryOption func(*Memory)

// WithResultCap bounds the result cache; least-recently-used entries
// are evicted past the cap, keeping at least minPerTool per tool.
func WithResultCap(max, minPerTool int) MemoryOption {
	return func(m *Memory) {
		m.maxResults = max
		m.minRetained = minPerTool
	}
}

// NewMemory builds an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		results:     map[string]*resultEntry{},
		maxResults:  10000,
		minRetained: 1,
		filings:     map[string]*irsxml.Filing{},
		triageByID:  map[string]int{},
		triageSeen:  map[string]bool{},
		checkpoints: map[string]map[string]Checkpoint{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Get(_ context.Context, fingerprint string) (ToolResult, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.results[fingerprint]
	if !ok {
		return ToolResult{}, false, nil
	}
	if time.Now().After(e.expires) {
		delete(m.results, fingerprint)
		return ToolResult{}, false, nil
	}
	e.accessed = time.Now()
	return e.res, true, nil
}

func (m *Memory) Put(_ context.Context, res ToolResult, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[res.Fingerprint] = &resultEntry{
		res:      res,
		expires:  time.Now().Add(ttl),
		accessed: time.Now(),
	}
	m.evictLocked()
	return nil
}

// evictLocked removes LRU entries past the cap, honoring the per-tool
// minimum retention floor.
func (m *Memory) evictLocked() {
	for len(m.results) > m.maxResults {
		perTool := map[string]int{}
		for _, e := range m.results {
			perTool[e.res.ToolID]++
		}
		var victim string
		var oldest time.Time
		for fp, e := range m.results {
			if perTool[e.res.ToolID] <= m.minRetained {
				continue
			}
			if victim == "" || e.accessed.Before(oldest) {
				victim, oldest = fp, e.accessed
			}
		}
		if victim == "" {
			return // every tool is at its retention floor
		}
		delete(m.results, victim)
	}
}

func filingKey(ein string, year int, kind irsxml.FormKind) string {
	return fmt.Sprintf("%s/%d/%s", ein, year, kind)
}

func (m *Memory) GetFiling(_ context.Context, ein string, year int, kind irsxml.FormKind) (*irsxml.Filing, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.filings[filingKey(ein, year, kind)]
	return f, ok, nil
}

func (m *Memory) PutFiling(_ context.Context, f *irsxml.Filing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := filingKey(f.EIN, f.TaxYear, f.Kind)
	// Filings are immutable once parsed.
	if _, exists := m.filings[key]; exists {
		return nil
	}
	m.filings[key] = f
	return nil
}

func (m *Memory) Append(_ context.Context, item scoring.TriageItem) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seenKey := item.RunID + "/" + item.OpportunityID
	if m.triageSeen[seenKey] {
		return false, nil
	}
	m.triageSeen[seenKey] = true
	m.triageByID[item.ID] = len(m.triageLog)
	m.triageLog = append(m.triageLog, item)
	return true, nil
}

func (m *Memory) List(_ context.Context, status scoring.TriageStatus, limit int) ([]scoring.TriageItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []scoring.TriageItem
	for _, item := range m.triageLog {
		if status != "" && item.Status != status {
			continue
		}
		out = append(out, item)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) SetStatus(_ context.Context, id string, status scoring.TriageStatus, decision string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.triageByID[id]
	if !ok {
		return fmt.Errorf("triage item %s not found", id)
	}
	m.triageLog[i].Status = status
	if decision != "" {
		m.triageLog[i].Decision = decision
	}
	return nil
}

func (m *Memory) SaveCheckpoint(_ context.Context, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.checkpoints[cp.RunID]
	if !ok {
		run = map[string]Checkpoint{}
		m.checkpoints[cp.RunID] = run
	}
	run[cp.StepID] = cp
	return nil
}

func (m *Memory) LoadCheckpoints(_ context.Context, runID string) (map[string]Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[string]Checkpoint{}
	for id, cp := range m.checkpoints[runID] {
		out[id] = cp
	}
	return out, nil
}

var _ Store = (*Memory)(nil)
