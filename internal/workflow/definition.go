// Package workflow runs declarative step graphs over the tool
// framework: YAML definitions, ${...} templating between steps,
// bounded concurrency, per-step retries and timeouts, and checkpoint
// persistence for resume.
package workflow

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/grantscope/grantscope/internal/fault"
)

// Duration decodes both "30s" strings and integer nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		v, perr := time.ParseDuration(s)
		if perr != nil {
			return fault.Wrap(fault.KindInvalidArguments, perr, "parse duration %q", s)
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := node.Decode(&n); err != nil {
		return fault.Wrap(fault.KindInvalidArguments, err, "parse duration")
	}
	*d = Duration(n)
	return nil
}

// StepDef is one node of the step graph.
type StepDef struct {
	ID    string         `yaml:"id"`
	Tool  string         `yaml:"tool"`
	With  map[string]any `yaml:"with"`
	Needs []string       `yaml:"needs"`
	// Retries is the number of re-attempts after the first try.
	// Validation failures are never retried regardless.
	Retries int      `yaml:"retries"`
	Backoff Duration `yaml:"backoff"`
	Timeout Duration `yaml:"timeout"`
	// BypassCache forces execution even when a fresh cached result
	// exists for the resolved input.
	BypassCache bool `yaml:"bypass_cache"`
}

// Definition is a parsed workflow.
type Definition struct {
	Name        string    `yaml:"name"`
	Inputs      []string  `yaml:"inputs"`
	Concurrency int       `yaml:"concurrency"`
	Steps       []StepDef `yaml:"steps"`
}

// ParseDefinition decodes and validates a workflow document: unique
// step ids, resolvable needs references, and an acyclic graph.
func ParseDefinition(data []byte) (Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fault.Wrap(fault.KindInvalidArguments, err, "parse workflow")
	}
	if def.Name == "" {
		return Definition{}, fault.New(fault.KindInvalidArguments, "workflow needs a name")
	}
	if len(def.Steps) == 0 {
		return Definition{}, fault.New(fault.KindInvalidArguments, "workflow %s has no steps", def.Name)
	}

	byID := map[string]*StepDef{}
	for i := range def.Steps {
		s := &def.Steps[i]
		if s.ID == "" || s.Tool == "" {
			return Definition{}, fault.New(fault.KindInvalidArguments, "workflow %s: every step needs id and tool", def.Name)
		}
		if _, dup := byID[s.ID]; dup {
			return Definition{}, fault.New(fault.KindInvalidArguments, "workflow %s: duplicate step %s", def.Name, s.ID)
		}
		byID[s.ID] = s
	}
	for _, s := range def.Steps {
		for _, need := range s.Needs {
			if _, ok := byID[need]; !ok {
				return Definition{}, fault.New(fault.KindInvalidArguments,
					"workflow %s: step %s needs unknown step %s", def.Name, s.ID, need)
			}
		}
	}
	if cycle := findCycle(def.Steps); cycle != "" {
		return Definition{}, fault.New(fault.KindInvalidArguments, "workflow %s: dependency cycle at %s", def.Name, cycle)
	}

	// A ${steps.X...} reference outside the step's transitive needs
	// would resolve or miss depending on wave timing; reject it here so
	// the graph alone determines what a template can see.
	for _, s := range def.Steps {
		refs := map[string]bool{}
		stepRefs(s.With, refs)
		ancestors := transitiveNeeds(s.ID, byID)
		for ref := range refs {
			if !ancestors[ref] {
				return Definition{}, fault.New(fault.KindInvalidArguments,
					"workflow %s: step %s references step %s outside its needs", def.Name, s.ID, ref)
			}
		}
	}
	return def, nil
}

// stepRefs collects the step ids named by ${steps.X...} placeholders
// anywhere in a template value.
func stepRefs(v any, out map[string]bool) {
	switch t := v.(type) {
	case string:
		for _, m := range placeholderRe.FindAllStringSubmatch(t, -1) {
			parts := strings.SplitN(m[1], ".", 3)
			if len(parts) >= 2 && parts[0] == "steps" {
				out[parts[1]] = true
			}
		}
	case map[string]any:
		for _, vv := range t {
			stepRefs(vv, out)
		}
	case []any:
		for _, vv := range t {
			stepRefs(vv, out)
		}
	}
}

func transitiveNeeds(id string, byID map[string]*StepDef) map[string]bool {
	seen := map[string]bool{}
	stack := append([]string(nil), byID[id].Needs...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		if dep, ok := byID[n]; ok {
			stack = append(stack, dep.Needs...)
		}
	}
	return seen
}

// LoadDefinition reads a workflow file.
func LoadDefinition(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fault.Wrap(fault.KindInvalidArguments, err, "read %s", path)
	}
	def, err := ParseDefinition(data)
	if err != nil {
		return Definition{}, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

func findCycle(steps []StepDef) string {
	needs := map[string][]string{}
	for _, s := range steps {
		needs[s.ID] = s.Needs
	}
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := map[string]int{}
	var visit func(id string) string
	visit = func(id string) string {
		switch color[id] {
		case grey:
			return id
		case black:
			return ""
		}
		color[id] = grey
		for _, n := range needs[id] {
			if hit := visit(n); hit != "" {
				return hit
			}
		}
		color[id] = black
		return ""
	}
	for _, s := range steps {
		if hit := visit(s.ID); hit != "" {
			return hit
		}
	}
	return ""
}
