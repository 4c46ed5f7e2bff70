package store

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grantscope/grantscope/internal/irsxml"
	"github.com/grantscope/grantscope/internal/scoring"
)

func result(fp, toolID string) ToolResult {
	return ToolResult{
		Fingerprint: fp,
		ToolID:      toolID,
		ToolVersion: "1.0.0",
		ProducedAt:  time.Now(),
		Payload:     json.RawMessage(`{"ok":true}`),
		Success:     true,
	}
}

func TestMemoryResultCacheTTL(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Put(ctx, result("fp-1", "bmf_filter"), 10*time.Millisecond))

	got, ok, err := m.Get(ctx, "fp-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bmf_filter", got.ToolID)

	time.Sleep(20 * time.Millisecond)
	_, ok, err = m.Get(ctx, "fp-1")
	require.NoError(t, err)
	assert.False(t, ok, "expired entry must be a miss")
}

func TestMemoryResultCacheEviction(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(WithResultCap(4, 1))

	// Three results for tool A, one for tool B.
	for i := 0; i < 3; i++ {
		fp := fmt.Sprintf("a-%d", i)
		require.NoError(t, m.Put(ctx, result(fp, "tool_a"), time.Hour))
		time.Sleep(time.Millisecond)
	}
	require.NoError(t, m.Put(ctx, result("b-0", "tool_b"), time.Hour))
	time.Sleep(time.Millisecond)

	// Touch a-0 so a-1 becomes the LRU victim.
	_, _, _ = m.Get(ctx, "a-0")

	require.NoError(t, m.Put(ctx, result("a-3", "tool_a"), time.Hour))

	_, ok, _ := m.Get(ctx, "a-1")
	assert.False(t, ok, "LRU entry should be evicted")
	_, ok, _ = m.Get(ctx, "b-0")
	assert.True(t, ok, "per-tool floor protects tool_b's only entry")
	_, ok, _ = m.Get(ctx, "a-0")
	assert.True(t, ok)
}

func TestMemoryFilingImmutable(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	first := &irsxml.Filing{EIN: "30-0219424", TaxYear: 2023, Kind: irsxml.Form990PF, OrgName: "ORIGINAL"}
	second := &irsxml.Filing{EIN: "30-0219424", TaxYear: 2023, Kind: irsxml.Form990PF, OrgName: "REWRITE"}

	require.NoError(t, m.PutFiling(ctx, first))
	require.NoError(t, m.PutFiling(ctx, second))

	got, ok, err := m.GetFiling(ctx, "30-0219424", 2023, irsxml.Form990PF)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ORIGINAL", got.OrgName)

	_, ok, _ = m.GetFiling(ctx, "30-0219424", 2022, irsxml.Form990PF)
	assert.False(t, ok)
}

func TestMemoryTriageDedupe(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	cfg := scoring.DefaultTriageConfig()

	item := scoring.NewTriageItem(cfg, "run-1", "opp-1", scoring.CompositeScore{Overall: 0.5, Confidence: 0.8}, 50000)
	added, err := m.Append(ctx, item)
	require.NoError(t, err)
	assert.True(t, added)

	// Same opportunity in the same run is dropped even with a new ID.
	dup := scoring.NewTriageItem(cfg, "run-1", "opp-1", scoring.CompositeScore{Overall: 0.52, Confidence: 0.8}, 50000)
	added, err = m.Append(ctx, dup)
	require.NoError(t, err)
	assert.False(t, added)

	// A different run re-queues it.
	other := scoring.NewTriageItem(cfg, "run-2", "opp-1", scoring.CompositeScore{Overall: 0.5, Confidence: 0.8}, 50000)
	added, err = m.Append(ctx, other)
	require.NoError(t, err)
	assert.True(t, added)

	items, err := m.List(ctx, scoring.TriageQueued, 0)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestMemoryTriageStatus(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	cfg := scoring.DefaultTriageConfig()

	item := scoring.NewTriageItem(cfg, "run-1", "opp-1", scoring.CompositeScore{Overall: 0.5}, 0)
	_, err := m.Append(ctx, item)
	require.NoError(t, err)

	require.NoError(t, m.SetStatus(ctx, item.ID, scoring.TriageDecided, "approved for deep pass"))

	queued, _ := m.List(ctx, scoring.TriageQueued, 0)
	assert.Empty(t, queued)
	resolved, _ := m.List(ctx, scoring.TriageDecided, 0)
	require.Len(t, resolved, 1)
	assert.Equal(t, "approved for deep pass", resolved[0].Decision)

	assert.Error(t, m.SetStatus(ctx, "no-such-id", scoring.TriageDecided, ""))
}

func TestMemoryCheckpoints(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	cp := Checkpoint{RunID: "run-1", StepID: "filter", State: "succeeded", Attempt: 1, UpdatedAt: time.Now()}
	require.NoError(t, m.SaveCheckpoint(ctx, cp))
	cp2 := Checkpoint{RunID: "run-1", StepID: "score", State: "failed", Attempt: 3, ErrorKind: "transient", UpdatedAt: time.Now()}
	require.NoError(t, m.SaveCheckpoint(ctx, cp2))

	// Re-save overwrites the step's checkpoint.
	cp2.State = "succeeded"
	require.NoError(t, m.SaveCheckpoint(ctx, cp2))

	got, err := m.LoadCheckpoints(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "succeeded", got["score"].State)
	assert.Equal(t, 3, got["score"].Attempt)

	empty, err := m.LoadCheckpoints(ctx, "run-unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
