package workflow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/grantscope/grantscope/internal/fault"
)

var placeholderRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// resolveWith renders a step's `with` block: ${run.inputs.X} pulls
// from the run inputs, ${steps.ID.out.X.Y} from a finished step's
// output. A value that is exactly one placeholder keeps the resolved
// type; placeholders inside larger strings interpolate as text.
// Unresolvable references fail the step without retry.
func resolveWith(with map[string]any, inputs map[string]any, outputs map[string]json.RawMessage) (json.RawMessage, error) {
	resolved, err := resolveValue(with, inputs, outputs)
	if err != nil {
		return nil, err
	}
	out, merr := json.Marshal(resolved)
	if merr != nil {
		return nil, fault.Wrap(fault.KindInvalidArguments, merr, "encode step input")
	}
	return out, nil
}

func resolveValue(v any, inputs map[string]any, outputs map[string]json.RawMessage) (any, error) {
	switch t := v.(type) {
	case string:
		return resolveString(t, inputs, outputs)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			rv, err := resolveValue(val, inputs, outputs)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			rv, err := resolveValue(val, inputs, outputs)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

func resolveString(s string, inputs map[string]any, outputs map[string]json.RawMessage) (any, error) {
	// Whole-string placeholder keeps the referent's type.
	if m := placeholderRe.FindStringSubmatch(s); m != nil && m[0] == s {
		return lookupPath(m[1], inputs, outputs)
	}
	var firstErr error
	replaced := placeholderRe.ReplaceAllStringFunc(s, func(ph string) string {
		path := placeholderRe.FindStringSubmatch(ph)[1]
		val, err := lookupPath(path, inputs, outputs)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return ph
		}
		return fmt.Sprint(val)
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return replaced, nil
}

func lookupPath(path string, inputs map[string]any, outputs map[string]json.RawMessage) (any, error) {
	parts := strings.Split(path, ".")
	switch {
	case len(parts) >= 3 && parts[0] == "run" && parts[1] == "inputs":
		return walk(map[string]any(inputs), parts[2:], path)
	case len(parts) >= 3 && parts[0] == "steps" && parts[2] == "out":
		raw, ok := outputs[parts[1]]
		if !ok {
			return nil, fault.New(fault.KindInvalidArguments, "missing input: step %s has no output (ref ${%s})", parts[1], path)
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fault.Wrap(fault.KindInvalidArguments, err, "decode output of step %s", parts[1])
		}
		return walk(doc, parts[3:], path)
	default:
		return nil, fault.New(fault.KindInvalidArguments, "missing input: unrecognized reference ${%s}", path)
	}
}

func walk(doc any, fields []string, path string) (any, error) {
	cur := doc
	for _, field := range fields {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fault.New(fault.KindInvalidArguments, "missing input: ${%s} traverses a non-object", path)
		}
		cur, ok = m[field]
		if !ok {
			return nil, fault.New(fault.KindInvalidArguments, "missing input: ${%s} (no field %q)", path, field)
		}
	}
	return cur, nil
}
