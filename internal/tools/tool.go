// Package tools is the execution framework every analysis capability
// runs through: a versioned registry, schema-validated invocation,
// fingerprint-keyed result caching, and budget accounting for billable
// calls.
package tools

import (
	"context"
	"encoding/json"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/grantscope/grantscope/internal/budget"
	"github.com/grantscope/grantscope/internal/fault"
)

// Class describes a tool's execution profile.
type Class string

const (
	// ClassPure tools are deterministic local computations.
	ClassPure Class = "pure"
	// ClassExternal tools call rate-limited remote services.
	ClassExternal Class = "external"
	// ClassBillable tools incur per-call cost and reserve budget.
	ClassBillable Class = "billable"
)

// Metadata declares a tool to the registry. InputSchema and
// OutputSchema are JSON Schema documents; the invoker enforces both.
type Metadata struct {
	ID           string         `yaml:"id" json:"id"`
	Version      string         `yaml:"version" json:"version"`
	Summary      string         `yaml:"summary" json:"summary"`
	Class        Class          `yaml:"class" json:"class"`
	CostMicros   budget.Micros  `yaml:"cost_micros" json:"cost_micros"`
	CacheTTL     time.Duration  `yaml:"cache_ttl" json:"cache_ttl"`
	Dependencies []string       `yaml:"dependencies" json:"dependencies,omitempty"`
	InputSchema  map[string]any `yaml:"input_schema" json:"input_schema"`
	OutputSchema map[string]any `yaml:"output_schema" json:"output_schema"`
}

// Key is the registry key, id@version.
func (m Metadata) Key() string { return m.ID + "@" + m.Version }

// UnmarshalYAML accepts cache_ttl as a duration string ("24h") in
// metadata files.
func (m *Metadata) UnmarshalYAML(node *yaml.Node) error {
	var aux struct {
		ID           string         `yaml:"id"`
		Version      string         `yaml:"version"`
		Summary      string         `yaml:"summary"`
		Class        Class          `yaml:"class"`
		CostMicros   budget.Micros  `yaml:"cost_micros"`
		CacheTTL     string         `yaml:"cache_ttl"`
		Dependencies []string       `yaml:"dependencies"`
		InputSchema  map[string]any `yaml:"input_schema"`
		OutputSchema map[string]any `yaml:"output_schema"`
	}
	if err := node.Decode(&aux); err != nil {
		return err
	}
	m.ID = aux.ID
	m.Version = aux.Version
	m.Summary = aux.Summary
	m.Class = aux.Class
	m.CostMicros = aux.CostMicros
	m.Dependencies = aux.Dependencies
	m.InputSchema = aux.InputSchema
	m.OutputSchema = aux.OutputSchema
	if aux.CacheTTL != "" {
		d, err := time.ParseDuration(aux.CacheTTL)
		if err != nil {
			return fault.Wrap(fault.KindInvalidArguments, err, "parse cache_ttl %q", aux.CacheTTL)
		}
		m.CacheTTL = d
	}
	return nil
}

// Tool is one executable capability. Validate covers semantic checks
// the schema cannot express; the invoker runs it after schema
// validation and before execution.
type Tool interface {
	Metadata() Metadata
	Validate(input json.RawMessage) error
	Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
}

// Func adapts a function to the Tool interface.
type Func struct {
	Meta       Metadata
	ValidateFn func(input json.RawMessage) error
	ExecuteFn  func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
}

func (f *Func) Metadata() Metadata { return f.Meta }

func (f *Func) Validate(input json.RawMessage) error {
	if f.ValidateFn == nil {
		return nil
	}
	return f.ValidateFn(input)
}

func (f *Func) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	return f.ExecuteFn(ctx, input)
}

var _ Tool = (*Func)(nil)
