package workflow

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/grantscope/grantscope/internal/fault"
	"github.com/grantscope/grantscope/internal/metrics"
	"github.com/grantscope/grantscope/internal/store"
	"github.com/grantscope/grantscope/internal/tools"
)

// Step states as persisted in checkpoints.
const (
	StatePending   = "pending"
	StateRunning   = "running"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
	StateSkipped   = "skipped"
)

// StepResult is the terminal record for one step of a run.
type StepResult struct {
	State       string          `json:"state"`
	Output      json.RawMessage `json:"output,omitempty"`
	ErrorKind   string          `json:"error_kind,omitempty"`
	Attempts    int             `json:"attempts"`
	Fingerprint string          `json:"fingerprint,omitempty"`
}

// RunResult aggregates a run. Completed means every step succeeded.
type RunResult struct {
	RunID     string                 `json:"run_id"`
	Workflow  string                 `json:"workflow"`
	Steps     map[string]*StepResult `json:"steps"`
	Completed bool                   `json:"completed"`
}

// Engine executes workflow definitions. The semaphore bounds step
// concurrency across all concurrent runs sharing the engine.
type Engine struct {
	inv *tools.Invoker
	cp  store.CheckpointStore
	sem *semaphore.Weighted
}

// NewEngine wires an engine. maxConcurrent bounds simultaneously
// executing steps; cp may be nil to disable checkpointing.
func NewEngine(inv *tools.Invoker, cp store.CheckpointStore, maxConcurrent int64) *Engine {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	return &Engine{inv: inv, cp: cp, sem: semaphore.NewWeighted(maxConcurrent)}
}

// Run executes def from the beginning.
func (e *Engine) Run(ctx context.Context, def Definition, runID string, inputs map[string]any) (RunResult, error) {
	return e.run(ctx, def, runID, inputs, nil)
}

// Resume re-executes def, rehydrating steps that already succeeded
// from their checkpointed results. Steps whose cached output has
// expired run again.
func (e *Engine) Resume(ctx context.Context, def Definition, runID string, inputs map[string]any) (RunResult, error) {
	if e.cp == nil {
		return e.run(ctx, def, runID, inputs, nil)
	}
	cps, err := e.cp.LoadCheckpoints(ctx, runID)
	if err != nil {
		return RunResult{}, err
	}
	preloaded := map[string]*StepResult{}
	for stepID, cp := range cps {
		if cp.State != StateSucceeded {
			continue
		}
		if res, ok := e.inv.Cached(ctx, cp.ResultRef); ok {
			preloaded[stepID] = &StepResult{
				State:       StateSucceeded,
				Output:      res.Payload,
				Attempts:    cp.Attempt,
				Fingerprint: cp.ResultRef,
			}
			log.Debug().Str("run", runID).Str("step", stepID).Msg("step rehydrated from checkpoint")
		}
	}
	return e.run(ctx, def, runID, inputs, preloaded)
}

func (e *Engine) run(ctx context.Context, def Definition, runID string, inputs map[string]any, preloaded map[string]*StepResult) (RunResult, error) {
	for _, name := range def.Inputs {
		if _, ok := inputs[name]; !ok {
			return RunResult{}, fault.New(fault.KindInvalidArguments, "missing input: run input %q required by %s", name, def.Name)
		}
	}

	result := RunResult{RunID: runID, Workflow: def.Name, Steps: map[string]*StepResult{}}
	var mu sync.Mutex
	for _, s := range def.Steps {
		if pre, ok := preloaded[s.ID]; ok {
			result.Steps[s.ID] = pre
		} else {
			result.Steps[s.ID] = &StepResult{State: StatePending}
		}
	}

	log.Info().Str("run", runID).Str("workflow", def.Name).Int("steps", len(def.Steps)).Msg("workflow run started")

	for {
		if err := ctx.Err(); err != nil {
			return result, fault.Wrap(fault.KindOf(err), err, "run %s", runID)
		}

		// Skip pending steps with a failed or skipped dependency.
		progressed := false
		for _, s := range def.Steps {
			sr := result.Steps[s.ID]
			if sr.State != StatePending {
				continue
			}
			for _, need := range s.Needs {
				dep := result.Steps[need].State
				if dep == StateFailed || dep == StateSkipped {
					sr.State = StateSkipped
					sr.ErrorKind = fault.KindDependencyFailed.String()
					e.checkpoint(ctx, runID, s.ID, sr)
					progressed = true
					break
				}
			}
		}

		// Collect the ready wave.
		var wave []StepDef
		for _, s := range def.Steps {
			if result.Steps[s.ID].State != StatePending {
				continue
			}
			ready := true
			for _, need := range s.Needs {
				if result.Steps[need].State != StateSucceeded {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, s)
			}
		}
		if len(wave) == 0 {
			if progressed {
				continue
			}
			break
		}

		outputs := map[string]json.RawMessage{}
		for id, sr := range result.Steps {
			if sr.State == StateSucceeded {
				outputs[id] = sr.Output
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		if def.Concurrency > 0 {
			g.SetLimit(def.Concurrency)
		}
		for _, s := range wave {
			s := s
			g.Go(func() error {
				if err := e.sem.Acquire(gctx, 1); err != nil {
					return err
				}
				defer e.sem.Release(1)
				sr := e.runStep(gctx, runID, s, inputs, outputs)
				mu.Lock()
				result.Steps[s.ID] = sr
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return result, fault.Wrap(fault.KindOf(err), err, "run %s", runID)
		}
	}

	result.Completed = true
	for _, sr := range result.Steps {
		if sr.State != StateSucceeded {
			result.Completed = false
			break
		}
	}
	log.Info().Str("run", runID).Bool("completed", result.Completed).Msg("workflow run finished")
	return result, nil
}

func (e *Engine) runStep(ctx context.Context, runID string, s StepDef, inputs map[string]any, outputs map[string]json.RawMessage) *StepResult {
	sr := &StepResult{State: StateRunning}
	e.checkpoint(ctx, runID, s.ID, sr)

	input, err := resolveWith(s.With, inputs, outputs)
	if err != nil {
		sr.State = StateFailed
		sr.ErrorKind = fault.KindOf(err).String()
		sr.Attempts = 1
		e.checkpoint(ctx, runID, s.ID, sr)
		log.Warn().Err(err).Str("run", runID).Str("step", s.ID).Msg("step input resolution failed")
		return sr
	}

	var res store.ToolResult
	for attempt := 1; ; attempt++ {
		sr.Attempts = attempt
		res, err = e.invokeOnce(ctx, s, input)
		if err == nil {
			break
		}
		kind := fault.KindOf(err)
		if attempt > s.Retries || !fault.Retryable(err) || kind == fault.KindInvalidArguments {
			sr.State = StateFailed
			sr.ErrorKind = kind.String()
			e.checkpoint(ctx, runID, s.ID, sr)
			log.Warn().Err(err).Str("run", runID).Str("step", s.ID).Int("attempts", attempt).Msg("step failed")
			return sr
		}
		select {
		case <-ctx.Done():
			sr.State = StateFailed
			sr.ErrorKind = fault.KindOf(ctx.Err()).String()
			e.checkpoint(ctx, runID, s.ID, sr)
			return sr
		case <-time.After(retryDelay(time.Duration(s.Backoff), attempt)):
		}
		log.Debug().Str("run", runID).Str("step", s.ID).Int("attempt", attempt+1).Msg("retrying step")
	}

	sr.State = StateSucceeded
	sr.Output = res.Payload
	sr.Fingerprint = res.Fingerprint
	e.checkpoint(ctx, runID, s.ID, sr)
	return sr
}

func (e *Engine) invokeOnce(ctx context.Context, s StepDef, input json.RawMessage) (store.ToolResult, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.Timeout))
		defer cancel()
	}
	return e.inv.Invoke(ctx, s.Tool, input, tools.InvokeOptions{BypassCache: s.BypassCache})
}

// retryDelay doubles the base each attempt and adds up to 50% jitter
// so retrying steps across a wave do not fire in lockstep.
func retryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	backoff := base << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(backoff)/2 + 1))
	return backoff + jitter
}

func (e *Engine) checkpoint(ctx context.Context, runID, stepID string, sr *StepResult) {
	metrics.StepTransitions.WithLabelValues(sr.State).Inc()
	if e.cp == nil {
		return
	}
	cp := store.Checkpoint{
		RunID:     runID,
		StepID:    stepID,
		State:     sr.State,
		Attempt:   sr.Attempts,
		ResultRef: sr.Fingerprint,
		ErrorKind: sr.ErrorKind,
		UpdatedAt: time.Now().UTC(),
	}
	// Checkpoint writes are best-effort; a failed write costs resume
	// fidelity, not correctness of the running workflow.
	if err := e.cp.SaveCheckpoint(ctx, cp); err != nil {
		log.Warn().Err(err).Str("run", runID).Str("step", stepID).Msg("checkpoint write failed")
	}
}
