package workflow

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grantscope/grantscope/internal/budget"
	"github.com/grantscope/grantscope/internal/fault"
	"github.com/grantscope/grantscope/internal/store"
	"github.com/grantscope/grantscope/internal/tools"
)

const screeningWorkflow = `
name: screen-and-score
inputs: [ein, state]
steps:
  - id: filter
    tool: filter
    with:
      state: ${run.inputs.state}
  - id: enrich
    tool: enrich
    needs: [filter]
    with:
      ein: ${run.inputs.ein}
      count: ${steps.filter.out.count}
  - id: score
    tool: score
    needs: [enrich]
    with:
      assets: ${steps.enrich.out.assets}
      label: "assets:${steps.enrich.out.assets}"
`

func parseTestDef(t *testing.T) Definition {
	t.Helper()
	def, err := ParseDefinition([]byte(screeningWorkflow))
	require.NoError(t, err)
	return def
}

// newTestEngine registers three chained stub tools and returns the
// engine plus the shared memory store and call counters.
func newTestEngine(t *testing.T, tracker *budget.Tracker, enrichFail *atomic.Int32) (*Engine, *store.Memory, *atomic.Int32) {
	t.Helper()
	reg := tools.NewRegistry()
	var scoreCalls atomic.Int32

	require.NoError(t, reg.Register(&tools.Func{
		Meta: tools.Metadata{ID: "filter", Version: "1.0.0", Class: tools.ClassPure},
		ExecuteFn: func(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
			var in struct {
				State string `json:"state"`
			}
			require.NoError(t, json.Unmarshal(input, &in))
			b, _ := json.Marshal(map[string]any{"count": 3, "state": in.State})
			return b, nil
		},
	}))
	require.NoError(t, reg.Register(&tools.Func{
		Meta: tools.Metadata{ID: "enrich", Version: "1.0.0", Class: tools.ClassBillable, CostMicros: budget.FromDollars(0.10)},
		ExecuteFn: func(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
			if enrichFail != nil && enrichFail.Load() > 0 {
				enrichFail.Add(-1)
				return nil, fault.New(fault.KindTransient, "upstream hiccup")
			}
			var in struct {
				EIN   string  `json:"ein"`
				Count float64 `json:"count"`
			}
			require.NoError(t, json.Unmarshal(input, &in))
			b, _ := json.Marshal(map[string]any{"ein": in.EIN, "assets": 5000000, "count": in.Count})
			return b, nil
		},
	}))
	require.NoError(t, reg.Register(&tools.Func{
		Meta: tools.Metadata{ID: "score", Version: "1.0.0", Class: tools.ClassPure},
		ExecuteFn: func(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
			scoreCalls.Add(1)
			var in struct {
				Assets float64 `json:"assets"`
				Label  string  `json:"label"`
			}
			require.NoError(t, json.Unmarshal(input, &in))
			b, _ := json.Marshal(map[string]any{"overall": 0.8, "assets": in.Assets, "label": in.Label})
			return b, nil
		},
	}))

	mem := store.NewMemory()
	inv := tools.NewInvoker(reg, mem, tracker, 0)
	return NewEngine(inv, mem, 4), mem, &scoreCalls
}

func runInputs() map[string]any {
	return map[string]any{"ein": "30-0219424", "state": "VA"}
}

func TestParseDefinitionValidates(t *testing.T) {
	def := parseTestDef(t)
	assert.Equal(t, "screen-and-score", def.Name)
	assert.Len(t, def.Steps, 3)

	_, err := ParseDefinition([]byte("name: x\nsteps:\n  - id: a\n    tool: t\n  - id: a\n    tool: t\n"))
	assert.Contains(t, err.Error(), "duplicate step")

	_, err = ParseDefinition([]byte("name: x\nsteps:\n  - id: a\n    tool: t\n    needs: [ghost]\n"))
	assert.Contains(t, err.Error(), "unknown step")

	_, err = ParseDefinition([]byte("name: x\nsteps:\n  - id: a\n    tool: t\n    needs: [b]\n  - id: b\n    tool: t\n    needs: [a]\n"))
	assert.Contains(t, err.Error(), "cycle")

	_, err = ParseDefinition([]byte("steps: []\n"))
	assert.Error(t, err)
}

func TestParseDefinitionRejectsRefsOutsideNeeds(t *testing.T) {
	// b reads a's output without declaring the dependency; whether the
	// value resolved would depend on wave timing.
	_, err := ParseDefinition([]byte(`
name: x
steps:
  - id: a
    tool: t
  - id: b
    tool: t
    with:
      count: ${steps.a.out.count}
`))
	require.Error(t, err)
	assert.Equal(t, fault.KindInvalidArguments, fault.KindOf(err))
	assert.Contains(t, err.Error(), "references step a outside its needs")

	// Transitive ancestors are fine: c needs b needs a, and c reads a.
	_, err = ParseDefinition([]byte(`
name: x
steps:
  - id: a
    tool: t
  - id: b
    tool: t
    needs: [a]
  - id: c
    tool: t
    needs: [b]
    with:
      count: ${steps.a.out.count}
`))
	assert.NoError(t, err)
}

func TestStepBypassCacheReexecutes(t *testing.T) {
	reg := tools.NewRegistry()
	var calls atomic.Int32
	require.NoError(t, reg.Register(&tools.Func{
		Meta: tools.Metadata{ID: "count", Version: "1.0.0", Class: tools.ClassPure},
		ExecuteFn: func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
			calls.Add(1)
			return json.RawMessage(`{"ok":true}`), nil
		},
	}))
	mem := store.NewMemory()
	eng := NewEngine(tools.NewInvoker(reg, mem, nil, 0), mem, 4)

	def, err := ParseDefinition([]byte("name: x\nsteps:\n  - id: a\n    tool: count\n"))
	require.NoError(t, err)

	for _, runID := range []string{"run-1", "run-2"} {
		res, rerr := eng.Run(context.Background(), def, runID, nil)
		require.NoError(t, rerr)
		assert.True(t, res.Completed)
	}
	assert.Equal(t, int32(1), calls.Load(), "identical input is served from cache")

	def.Steps[0].BypassCache = true
	res, err := eng.Run(context.Background(), def, "run-3", nil)
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, int32(2), calls.Load(), "bypass_cache forces re-execution")
}

func TestRetryDelayGrowsWithJitter(t *testing.T) {
	base := 100 * time.Millisecond
	for attempt, want := range map[int]time.Duration{
		1: 100 * time.Millisecond,
		2: 200 * time.Millisecond,
		3: 400 * time.Millisecond,
	} {
		for i := 0; i < 50; i++ {
			d := retryDelay(base, attempt)
			assert.GreaterOrEqual(t, d, want, "attempt %d", attempt)
			assert.LessOrEqual(t, d, want+want/2, "attempt %d", attempt)
		}
	}
	// Zero base falls back to the default.
	assert.GreaterOrEqual(t, retryDelay(0, 1), 250*time.Millisecond)
}

func TestRunChainsOutputs(t *testing.T) {
	eng, mem, _ := newTestEngine(t, nil, nil)
	def := parseTestDef(t)

	res, err := eng.Run(context.Background(), def, "run-1", runInputs())
	require.NoError(t, err)
	assert.True(t, res.Completed)

	score := res.Steps["score"]
	require.Equal(t, StateSucceeded, score.State)
	var out struct {
		Assets float64 `json:"assets"`
		Label  string  `json:"label"`
	}
	require.NoError(t, json.Unmarshal(score.Output, &out))
	assert.Equal(t, float64(5000000), out.Assets, "step output flows into the next step")
	assert.Equal(t, "assets:5e+06", out.Label, "interpolated placeholder renders as text")

	cps, err := mem.LoadCheckpoints(context.Background(), "run-1")
	require.NoError(t, err)
	for _, id := range []string{"filter", "enrich", "score"} {
		assert.Equal(t, StateSucceeded, cps[id].State, id)
		assert.NotEmpty(t, cps[id].ResultRef, id)
	}
}

func TestRunMissingInput(t *testing.T) {
	eng, _, _ := newTestEngine(t, nil, nil)
	def := parseTestDef(t)

	_, err := eng.Run(context.Background(), def, "run-1", map[string]any{"ein": "30-0219424"})
	require.Error(t, err)
	assert.Equal(t, fault.KindInvalidArguments, fault.KindOf(err))
	assert.Contains(t, err.Error(), "missing input")
}

func TestRunUnresolvableReferenceFailsStep(t *testing.T) {
	eng, _, _ := newTestEngine(t, nil, nil)
	def := parseTestDef(t)
	def.Steps[2].With["assets"] = "${steps.enrich.out.nonexistent}"

	res, err := eng.Run(context.Background(), def, "run-1", runInputs())
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, StateFailed, res.Steps["score"].State)
	assert.Equal(t, "invalid_arguments", res.Steps["score"].ErrorKind)
	assert.Equal(t, 1, res.Steps["score"].Attempts, "validation failures are not retried")
}

func TestRunRetriesTransientFailures(t *testing.T) {
	var enrichFail atomic.Int32
	enrichFail.Store(2)
	eng, _, _ := newTestEngine(t, nil, &enrichFail)
	def := parseTestDef(t)
	def.Steps[1].Retries = 3
	def.Steps[1].Backoff = Duration(time.Millisecond)

	res, err := eng.Run(context.Background(), def, "run-1", runInputs())
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, 3, res.Steps["enrich"].Attempts)
}

func TestRunExhaustedRetries(t *testing.T) {
	var enrichFail atomic.Int32
	enrichFail.Store(10)
	eng, _, _ := newTestEngine(t, nil, &enrichFail)
	def := parseTestDef(t)
	def.Steps[1].Retries = 1
	def.Steps[1].Backoff = Duration(time.Millisecond)

	res, err := eng.Run(context.Background(), def, "run-1", runInputs())
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, StateFailed, res.Steps["enrich"].State)
	assert.Equal(t, "transient", res.Steps["enrich"].ErrorKind)
	assert.Equal(t, 2, res.Steps["enrich"].Attempts)
	// The dependent step is skipped, not failed.
	assert.Equal(t, StateSkipped, res.Steps["score"].State)
	assert.Equal(t, "dependency_failed", res.Steps["score"].ErrorKind)
}

func TestRunBudgetDenialSkipsDependents(t *testing.T) {
	tracker := budget.NewTracker(budget.Limits{Run: budget.FromDollars(0.05)})
	eng, _, _ := newTestEngine(t, tracker, nil)
	def := parseTestDef(t)

	res, err := eng.Run(context.Background(), def, "run-1", runInputs())
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, StateSucceeded, res.Steps["filter"].State)
	assert.Equal(t, StateFailed, res.Steps["enrich"].State)
	assert.Equal(t, "budget_exceeded", res.Steps["enrich"].ErrorKind)
	assert.Equal(t, 1, res.Steps["enrich"].Attempts, "budget denials are not retried")
	assert.Equal(t, StateSkipped, res.Steps["score"].State)
}

func TestResumeSkipsFinishedSteps(t *testing.T) {
	var enrichFail atomic.Int32
	enrichFail.Store(1)
	eng, _, scoreCalls := newTestEngine(t, nil, &enrichFail)
	def := parseTestDef(t)

	first, err := eng.Run(context.Background(), def, "run-1", runInputs())
	require.NoError(t, err)
	assert.False(t, first.Completed)
	assert.Equal(t, StateSucceeded, first.Steps["filter"].State)
	assert.Equal(t, StateFailed, first.Steps["enrich"].State)

	second, err := eng.Resume(context.Background(), def, "run-1", runInputs())
	require.NoError(t, err)
	assert.True(t, second.Completed)
	// filter was rehydrated from its checkpointed result; enrich and
	// score ran on the resumed attempt.
	assert.Equal(t, StateSucceeded, second.Steps["filter"].State)
	assert.Equal(t, StateSucceeded, second.Steps["enrich"].State)
	assert.Equal(t, int32(1), scoreCalls.Load())
}

func TestRunCancellation(t *testing.T) {
	reg := tools.NewRegistry()
	started := make(chan struct{})
	var once sync.Once
	require.NoError(t, reg.Register(&tools.Func{
		Meta: tools.Metadata{ID: "slow", Version: "1.0.0", Class: tools.ClassPure},
		ExecuteFn: func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			once.Do(func() { close(started) })
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}))
	mem := store.NewMemory()
	eng := NewEngine(tools.NewInvoker(reg, mem, nil, 0), mem, 4)

	def, err := ParseDefinition([]byte("name: slow\nsteps:\n  - id: a\n    tool: slow\n  - id: b\n    tool: slow\n    needs: [a]\n"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	res, rerr := eng.Run(ctx, def, "run-1", nil)
	require.Error(t, rerr)
	assert.Equal(t, fault.KindCancelled, fault.KindOf(rerr))
	// The in-flight step observed the cancellation; the dependent
	// never started.
	assert.Equal(t, StateFailed, res.Steps["a"].State)
	assert.Equal(t, StatePending, res.Steps["b"].State)
}

func TestStepTimeout(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(&tools.Func{
		Meta: tools.Metadata{ID: "slow", Version: "1.0.0", Class: tools.ClassPure},
		ExecuteFn: func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return json.RawMessage(`{}`), nil
			}
		},
	}))
	mem := store.NewMemory()
	eng := NewEngine(tools.NewInvoker(reg, mem, nil, 0), mem, 4)

	def, err := ParseDefinition([]byte("name: slow\nsteps:\n  - id: a\n    tool: slow\n"))
	require.NoError(t, err)
	def.Steps[0].Timeout = Duration(20 * time.Millisecond)

	res, rerr := eng.Run(context.Background(), def, "run-1", nil)
	require.NoError(t, rerr)
	assert.Equal(t, StateFailed, res.Steps["a"].State)
	assert.Equal(t, "timeout", res.Steps["a"].ErrorKind)
}
