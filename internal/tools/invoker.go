package tools

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/grantscope/grantscope/internal/budget"
	"github.com/grantscope/grantscope/internal/fault"
	"github.com/grantscope/grantscope/internal/metrics"
	"github.com/grantscope/grantscope/internal/store"
)

// InvokeOptions tune a single invocation.
type InvokeOptions struct {
	// BypassCache forces execution even when a fresh result exists.
	BypassCache bool
	// TTL overrides the tool's declared cache TTL when positive.
	TTL time.Duration
}

// Invoker executes tools: schema validation, cache lookup, budget
// reservation for billable tools, execution, output validation, and
// result caching.
type Invoker struct {
	reg        *Registry
	cache      store.ResultCache
	budget     *budget.Tracker
	defaultTTL time.Duration
}

// NewInvoker wires an invoker. cache and tracker may be nil; caching
// and budget enforcement are then disabled.
func NewInvoker(reg *Registry, cache store.ResultCache, tracker *budget.Tracker, defaultTTL time.Duration) *Invoker {
	if defaultTTL <= 0 {
		defaultTTL = 24 * time.Hour
	}
	return &Invoker{reg: reg, cache: cache, budget: tracker, defaultTTL: defaultTTL}
}

// Registry exposes the underlying registry for listing and checks.
func (inv *Invoker) Registry() *Registry { return inv.reg }

// Cached fetches a stored result by fingerprint without executing
// anything. Used by workflow resume to rehydrate finished steps.
func (inv *Invoker) Cached(ctx context.Context, fingerprint string) (store.ToolResult, bool) {
	if inv.cache == nil || fingerprint == "" {
		return store.ToolResult{}, false
	}
	res, ok, err := inv.cache.Get(ctx, fingerprint)
	if err != nil || !ok {
		return store.ToolResult{}, false
	}
	return res, true
}

// Invoke runs the tool referenced by ref ("id", "id@latest", or
// "id@1.2.0") against input. The returned ToolResult carries the
// payload, fingerprint, cost, and latency whether served from cache
// or executed fresh.
func (inv *Invoker) Invoke(ctx context.Context, ref string, input json.RawMessage, opts InvokeOptions) (store.ToolResult, error) {
	e, err := inv.reg.resolve(ref)
	if err != nil {
		return store.ToolResult{}, err
	}
	meta := e.meta
	logger := log.With().Str("tool", meta.Key()).Logger()

	if err := validateAgainst(e.input, input); err != nil {
		metrics.ToolInvocations.WithLabelValues(meta.ID, "invalid").Inc()
		return store.ToolResult{}, fault.Wrap(fault.KindInvalidArguments, err, "input rejected by %s", meta.Key())
	}
	if err := e.tool.Validate(input); err != nil {
		metrics.ToolInvocations.WithLabelValues(meta.ID, "invalid").Inc()
		if fault.KindOf(err) == fault.KindUnknown {
			err = fault.Wrap(fault.KindInvalidArguments, err, "input rejected by %s", meta.Key())
		}
		return store.ToolResult{}, err
	}

	fp, err := Fingerprint(meta.ID, meta.Version, input)
	if err != nil {
		return store.ToolResult{}, err
	}

	ttl := meta.CacheTTL
	if opts.TTL > 0 {
		ttl = opts.TTL
	}
	if ttl <= 0 {
		ttl = inv.defaultTTL
	}

	if inv.cache != nil && !opts.BypassCache {
		if cached, ok, cerr := inv.cache.Get(ctx, fp); cerr == nil && ok && cached.Success {
			metrics.CacheHits.WithLabelValues(meta.ID, "hit").Inc()
			metrics.ToolInvocations.WithLabelValues(meta.ID, "cached").Inc()
			logger.Debug().Str("fingerprint", fp).Msg("tool_cached")
			return cached, nil
		}
		metrics.CacheHits.WithLabelValues(meta.ID, "miss").Inc()
	} else if opts.BypassCache {
		metrics.CacheHits.WithLabelValues(meta.ID, "bypass").Inc()
	}

	// Billable tools hold a reservation across execution so concurrent
	// calls cannot overshoot the ceiling.
	reserved := budget.Micros(0)
	if meta.Class == ClassBillable && inv.budget != nil && meta.CostMicros > 0 {
		if err := inv.budget.Reserve(meta.CostMicros); err != nil {
			window := "run"
			var denied *budget.DeniedError
			if errors.As(err, &denied) {
				window = denied.Window
			}
			metrics.BudgetDenials.WithLabelValues(window).Inc()
			metrics.ToolInvocations.WithLabelValues(meta.ID, "denied").Inc()
			logger.Warn().Err(err).Msg("budget_denied")
			return store.ToolResult{}, err
		}
		reserved = meta.CostMicros
	}

	logger.Debug().Str("fingerprint", fp).Msg("tool_started")
	start := time.Now()
	payload, execErr := e.tool.Execute(ctx, input)
	elapsed := time.Since(start)
	metrics.ToolLatency.WithLabelValues(meta.ID).Observe(elapsed.Seconds())

	if execErr != nil {
		if reserved > 0 {
			inv.budget.Refund(reserved)
		}
		kind := fault.KindOf(execErr)
		metrics.ToolInvocations.WithLabelValues(meta.ID, "failed").Inc()
		logger.Warn().Err(execErr).Str("kind", kind.String()).Dur("elapsed", elapsed).Msg("tool_failed")
		return store.ToolResult{
			Fingerprint: fp,
			ToolID:      meta.ID,
			ToolVersion: meta.Version,
			ProducedAt:  time.Now(),
			LatencyMS:   elapsed.Milliseconds(),
			Success:     false,
			ErrorKind:   kind.String(),
		}, execErr
	}

	if err := validateAgainst(e.output, payload); err != nil {
		if reserved > 0 {
			inv.budget.Refund(reserved)
		}
		metrics.ToolInvocations.WithLabelValues(meta.ID, "failed").Inc()
		logger.Error().Err(err).Msg("tool_output_invalid")
		return store.ToolResult{}, fault.Wrap(fault.KindUnknown, err, "tool %s produced invalid output", meta.Key())
	}

	if reserved > 0 {
		inv.budget.Commit(reserved)
		metrics.BudgetCommitted.Add(float64(reserved))
	}

	res := store.ToolResult{
		Fingerprint: fp,
		ToolID:      meta.ID,
		ToolVersion: meta.Version,
		ProducedAt:  time.Now(),
		Payload:     payload,
		CostMicros:  int64(reserved),
		LatencyMS:   elapsed.Milliseconds(),
		Success:     true,
	}
	if inv.cache != nil {
		if err := inv.cache.Put(ctx, res, ttl); err != nil {
			logger.Warn().Err(err).Msg("result cache write failed")
		}
	}
	metrics.ToolInvocations.WithLabelValues(meta.ID, "succeeded").Inc()
	logger.Info().
		Str("fingerprint", fp).
		Dur("elapsed", elapsed).
		Int64("cost_micros", int64(reserved)).
		Msg("tool_succeeded")
	return res, nil
}

func validateAgainst(schema *jsonschema.Schema, raw json.RawMessage) error {
	if schema == nil {
		return nil
	}
	var doc any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}
	}
	return schema.Validate(doc)
}
