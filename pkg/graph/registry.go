package graph

import (
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"

	"github.com/flowgraph/graphengine/pkg/dataframe"
)

// Arity bounds how many inputs a node type accepts.
type Arity int

const (
	Arity0    Arity = iota // sources: manual_input, read, external_source
	Arity1                 // single-input transforms
	Arity2                 // join, cross_join, fuzzy_match
	ArityMany              // union, python_script
)

// TransformFunc runs a node's actual data transformation given its
// resolved settings and the collected input lazy frames, keyed by slot
// (InputSlotMain holds an ordered list; left/right hold at most one).
type TransformFunc func(settings interface{}, inputs NodeInputs) (*dataframe.LazyFrame, error)

// NodeInputs is the collected, slot-keyed input set passed to a
// TransformFunc.
type NodeInputs struct {
	Main  []*dataframe.LazyFrame
	Left  *dataframe.LazyFrame
	Right *dataframe.LazyFrame
}

// SchemaFunc predicts a node's output schema without materializing rows;
// it backs the node's schema_callback (§4.2.2).
type SchemaFunc func(settings interface{}, inputs NodeInputs) (dataframe.Schema, error)

// SettingGenerator seeds a freshly promised node's settings from its
// upstream schema(s), per §4.2.4.
type SettingGenerator func(inputs NodeInputs) interface{}

// SettingUpdator reconciles existing settings against current upstream
// schemas using the 4-step algorithm of §4.2.4. It mutates and returns
// the settings value.
type SettingUpdator func(existing interface{}, inputs NodeInputs) interface{}

// NodeTemplate is the closed-registry description of one node type.
type NodeTemplate struct {
	Type        string
	Arity       Arity
	IsStart     bool
	IsWide      bool
	NewSettings func() interface{}
	Transform   TransformFunc
	Schema      SchemaFunc
	Generator   SettingGenerator
	Updator     SettingUpdator
}

// Registry is the closed catalog of node types. It is built once at
// package init and never mutated at runtime, matching §1's "fixed
// node-type registry" non-goal (no user-supplied operator plugins).
type Registry struct {
	templates map[string]*NodeTemplate
	validate  *validator.Validate
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide closed node-type registry.
func DefaultRegistry() *Registry { return defaultRegistry }

// NewRegistry builds a registry pre-populated with every known node type.
func NewRegistry() *Registry {
	r := &Registry{
		templates: make(map[string]*NodeTemplate),
		validate:  validator.New(),
	}
	for _, t := range builtinTemplates() {
		r.templates[t.Type] = t
	}
	return r
}

// Lookup returns the template for a node type, or false if the type is
// not in the closed registry.
func (r *Registry) Lookup(nodeType string) (*NodeTemplate, bool) {
	t, ok := r.templates[nodeType]
	return t, ok
}

// Types returns every registered node type name.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.templates))
	for t := range r.templates {
		out = append(out, t)
	}
	return out
}

// ValidateSettings runs struct-tag validation on a settings value at
// add_<type>(settings) commit time. Node types whose settings are a bare
// map (the black-box external-collaborator types) have nothing to
// validate and are skipped.
func (r *Registry) ValidateSettings(settings interface{}) error {
	if settings == nil {
		return nil
	}
	v := reflect.ValueOf(settings)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	if err := r.validate.Struct(settings); err != nil {
		return fmt.Errorf("graph: invalid settings: %w", err)
	}
	return nil
}
