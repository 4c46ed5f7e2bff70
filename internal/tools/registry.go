package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/grantscope/grantscope/internal/fault"
)

// Registry holds registered tools keyed by id@version and resolves
// @latest references. Registration failures are startup failures:
// duplicate keys, uncompilable schemas, and dependency cycles are all
// rejected before the first invocation.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	// versions[id] is sorted ascending so the last element is latest.
	versions map[string][]string
}

type entry struct {
	tool   Tool
	meta   Metadata
	input  *jsonschema.Schema
	output *jsonschema.Schema
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries:  map[string]*entry{},
		versions: map[string][]string{},
	}
}

// Register adds a tool. The metadata must carry a non-empty id and
// version and compilable schemas.
func (r *Registry) Register(t Tool) error {
	meta := t.Metadata()
	if meta.ID == "" || meta.Version == "" {
		return fault.New(fault.KindInvalidArguments, "tool metadata needs id and version")
	}
	in, err := compileSchema(meta.ID+"/input", meta.InputSchema)
	if err != nil {
		return fault.Wrap(fault.KindInvalidArguments, err, "tool %s: input schema", meta.Key())
	}
	out, err := compileSchema(meta.ID+"/output", meta.OutputSchema)
	if err != nil {
		return fault.Wrap(fault.KindInvalidArguments, err, "tool %s: output schema", meta.Key())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	key := meta.Key()
	if _, exists := r.entries[key]; exists {
		return fault.New(fault.KindInvalidArguments, "duplicate tool %s", key)
	}
	r.entries[key] = &entry{tool: t, meta: meta, input: in, output: out}
	r.versions[meta.ID] = insertVersion(r.versions[meta.ID], meta.Version)
	return nil
}

// MustRegister panics on registration failure. For wiring in main.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Resolve looks up a tool by reference: "id@1.2.0", "id@latest", or a
// bare "id" which also means latest.
func (r *Registry) Resolve(ref string) (Tool, Metadata, error) {
	e, err := r.resolve(ref)
	if err != nil {
		return nil, Metadata{}, err
	}
	return e.tool, e.meta, nil
}

func (r *Registry) resolve(ref string) (*entry, error) {
	id, version := ref, "latest"
	if at := strings.LastIndex(ref, "@"); at > 0 {
		id, version = ref[:at], ref[at+1:]
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if version == "latest" {
		vs := r.versions[id]
		if len(vs) == 0 {
			return nil, fault.New(fault.KindNotFound, "tool %s not registered", id)
		}
		version = vs[len(vs)-1]
	}
	e, ok := r.entries[id+"@"+version]
	if !ok {
		return nil, fault.New(fault.KindNotFound, "tool %s@%s not registered", id, version)
	}
	return e, nil
}

// List returns the metadata of every registered version, ordered by
// id then version.
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.entries))
	ids := make([]string, 0, len(r.versions))
	for id := range r.versions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		for _, v := range r.versions[id] {
			out = append(out, r.entries[id+"@"+v].meta)
		}
	}
	return out
}

// CheckDependencies verifies that every declared dependency resolves
// and that the dependency graph is acyclic. Call after all tools are
// registered; a failure here should abort startup.
func (r *Registry) CheckDependencies() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := map[string]int{}

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		switch color[id] {
		case black:
			return nil
		case grey:
			return fault.New(fault.KindInvalidArguments,
				"tool dependency cycle: %s", strings.Join(append(path, id), " -> "))
		}
		color[id] = grey
		vs := r.versions[id]
		if len(vs) == 0 {
			return fault.New(fault.KindNotFound, "dependency %s not registered (via %s)",
				id, strings.Join(path, " -> "))
		}
		meta := r.entries[id+"@"+vs[len(vs)-1]].meta
		for _, dep := range meta.Dependencies {
			depID := dep
			if at := strings.LastIndex(dep, "@"); at > 0 {
				depID = dep[:at]
			}
			if err := visit(depID, append(path, id)); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}

	for id := range r.versions {
		if err := visit(id, nil); err != nil {
			return err
		}
	}
	return nil
}

// VerifyDeclared checks that every declared metadata record has a
// matching registered tool. Run at startup after registration so a
// stale or mistyped declaration fails fast instead of at invoke time.
func (r *Registry) VerifyDeclared(metas []Metadata) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, meta := range metas {
		if _, ok := r.entries[meta.Key()]; !ok {
			return fault.New(fault.KindInvalidArguments, "declared tool %s is not registered", meta.Key())
		}
	}
	return nil
}

// LoadMetadataDir reads *.yaml tool declarations from dir. Used to
// cross-check registered tools against the declared catalog and to
// surface duplicates before serving.
func LoadMetadataDir(dir string) ([]Metadata, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidArguments, err, "glob %s", dir)
	}
	sort.Strings(paths)

	seen := map[string]string{}
	var out []Metadata
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, fault.Wrap(fault.KindInvalidArguments, err, "read %s", p)
		}
		var meta Metadata
		if err := yaml.Unmarshal(raw, &meta); err != nil {
			return nil, fault.Wrap(fault.KindInvalidArguments, err, "parse %s", p)
		}
		if meta.ID == "" || meta.Version == "" {
			return nil, fault.New(fault.KindInvalidArguments, "%s: id and version required", p)
		}
		if prev, dup := seen[meta.Key()]; dup {
			return nil, fault.New(fault.KindInvalidArguments,
				"duplicate tool %s declared in %s and %s", meta.Key(), prev, p)
		}
		seen[meta.Key()] = p
		out = append(out, meta)
	}
	return out, nil
}

func compileSchema(name string, doc map[string]any) (*jsonschema.Schema, error) {
	if doc == nil {
		return nil, nil
	}
	c := jsonschema.NewCompiler()
	url := "inmem://" + name + ".json"
	if err := c.AddResource(url, normalizeDoc(doc)); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// normalizeDoc rewrites yaml.v3's map[string]any trees so nested
// map[any]any values (possible under merge keys) become JSON-shaped.
func normalizeDoc(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeDoc(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeDoc(val)
		}
		return out
	case []any:
		for i := range t {
			t[i] = normalizeDoc(t[i])
		}
		return t
	default:
		return v
	}
}

// insertVersion keeps the slice sorted ascending by dotted numeric
// segments, so "1.10.0" sorts after "1.9.0".
func insertVersion(versions []string, v string) []string {
	versions = append(versions, v)
	sort.Slice(versions, func(i, j int) bool {
		return versionLess(versions[i], versions[j])
	})
	return versions
}

func versionLess(a, b string) bool {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		an, aerr := strconv.Atoi(as[i])
		bn, berr := strconv.Atoi(bs[i])
		if aerr != nil || berr != nil {
			if as[i] != bs[i] {
				return as[i] < bs[i]
			}
			continue
		}
		if an != bn {
			return an < bn
		}
	}
	return len(as) < len(bs)
}
