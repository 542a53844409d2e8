package graph

import (
	"fmt"

	"github.com/flowgraph/graphengine/pkg/codegen"
	"github.com/flowgraph/graphengine/pkg/dataframe"
	"github.com/flowgraph/graphengine/pkg/models"
)

// Settings structs for the node types with a concrete transform. Field
// order here is the "type template" field ordering that CanonicalizeSettings
// relies on for deterministic hashing.

type ManualInputSettings struct {
	Rows   []dataframe.Row  `json:"rows"`
	Schema dataframe.Schema `json:"schema"`
}

type ReadSettings struct {
	Source dataframe.SourceDescriptor `json:"source"`
}

type OutputSettings struct {
	Sink dataframe.SinkDescriptor `json:"sink"`
}

type SelectSettings struct {
	Columns []dataframe.ColumnRename `json:"columns"`
}

type FilterSettings struct {
	Expression string `json:"expression" validate:"required"`
}

type FormulaSettings struct {
	Column     string `json:"column" validate:"required"`
	Expression string `json:"expression" validate:"required"`
	DType      dataframe.DType
}

type SortSettings struct {
	Keys []dataframe.SortKey `json:"keys" validate:"required,min=1"`
}

type SampleSettings struct {
	N int `json:"n" validate:"min=0"`
}

type UniqueSettings struct {
	Columns []string `json:"columns"`
}

type RecordIDSettings struct {
	Column string `json:"column" validate:"required"`
}

type RecordCountSettings struct {
	Column string `json:"column" validate:"required"`
}

type GroupBySettings struct {
	By   []string             `json:"by"`
	Aggs []dataframe.AggFunc  `json:"aggs" validate:"required,min=1"`
}

type PivotSettings struct {
	RowKeys     []string `json:"row_keys" validate:"required,min=1"`
	ColumnsFrom string   `json:"columns_from" validate:"required"`
	Values      string   `json:"values" validate:"required"`
	Op          string   `json:"op" validate:"required"`
}

type UnpivotSettings struct {
	IDCols    []string `json:"id_cols"`
	ValueCols []string `json:"value_cols" validate:"required,min=1"`
	NameCol   string   `json:"name_col" validate:"required"`
	ValueCol  string   `json:"value_col" validate:"required"`
}

type JoinSettings struct {
	LeftOn      []string                  `json:"left_on" validate:"required,min=1"`
	RightOn     []string                  `json:"right_on" validate:"required,min=1"`
	Kind        dataframe.JoinKind        `json:"kind"`
	LeftSelect  []dataframe.ColumnRename  `json:"left_select"`
	RightSelect []dataframe.ColumnRename  `json:"right_select"`
}

type CrossJoinSettings struct {
	LeftSelect  []dataframe.ColumnRename `json:"left_select"`
	RightSelect []dataframe.ColumnRename `json:"right_select"`
}

type UnionSettings struct{}

// PythonScriptSettings holds a python_script node's source (§4.4). The
// kernel ID scopes the node's published artifacts within the flow's
// artifact namespace; when unset, the transform uses the kernel ID "node".
type PythonScriptSettings struct {
	Source   string `json:"source" validate:"required"`
	KernelID string `json:"kernel_id"`
}

// ExploreDataSettings holds an explore_data node's preview jq filter and an
// optional row cap, both applied lazily at Collect time.
type ExploreDataSettings struct {
	Filter string `json:"filter"`
	Limit  int    `json:"limit" validate:"min=0"`
}

// builtinTemplates returns the closed registry's node-type table.
func builtinTemplates() []*NodeTemplate {
	return []*NodeTemplate{
		{
			Type:        "manual_input",
			Arity:       Arity0,
			IsStart:     true,
			NewSettings: func() interface{} { return &ManualInputSettings{} },
			Transform: func(settings interface{}, _ NodeInputs) (*dataframe.LazyFrame, error) {
				s := settings.(*ManualInputSettings)
				return dataframe.Lit(dataframe.NewFrame(s.Schema, s.Rows)), nil
			},
			Schema: func(settings interface{}, _ NodeInputs) (dataframe.Schema, error) {
				return settings.(*ManualInputSettings).Schema, nil
			},
		},
		{
			Type:        "read",
			Arity:       Arity0,
			IsStart:     true,
			NewSettings: func() interface{} { return &ReadSettings{} },
			Transform: func(settings interface{}, _ NodeInputs) (*dataframe.LazyFrame, error) {
				s := settings.(*ReadSettings)
				return dataframe.LazyRead(s.Source, sharedRegistry)
			},
		},
		{
			Type:        "output",
			Arity:       Arity1,
			NewSettings: func() interface{} { return &OutputSettings{} },
			Transform: func(settings interface{}, in NodeInputs) (*dataframe.LazyFrame, error) {
				s := settings.(*OutputSettings)
				lf, err := singleMain(in)
				if err != nil {
					return nil, err
				}
				if err := dataframe.Write(lf, s.Sink, sharedRegistry); err != nil {
					return nil, err
				}
				return lf, nil
			},
		},
		{
			Type:        "select",
			Arity:       Arity1,
			NewSettings: func() interface{} { return &SelectSettings{} },
			Transform: func(settings interface{}, in NodeInputs) (*dataframe.LazyFrame, error) {
				s := settings.(*SelectSettings)
				lf, err := singleMain(in)
				if err != nil {
					return nil, err
				}
				return dataframe.Select(lf, s.Columns), nil
			},
			Generator: generateSelect,
			Updator:   updateSelect,
		},
		{
			Type:        "filter",
			Arity:       Arity1,
			NewSettings: func() interface{} { return &FilterSettings{} },
			Transform: func(settings interface{}, in NodeInputs) (*dataframe.LazyFrame, error) {
				s := settings.(*FilterSettings)
				lf, err := singleMain(in)
				if err != nil {
					return nil, err
				}
				fn, err := CompileRowPredicate(s.Expression)
				if err != nil {
					return nil, err
				}
				return dataframe.Filter(lf, fn), nil
			},
		},
		{
			Type:        "formula",
			Arity:       Arity1,
			NewSettings: func() interface{} { return &FormulaSettings{} },
			Transform: func(settings interface{}, in NodeInputs) (*dataframe.LazyFrame, error) {
				s := settings.(*FormulaSettings)
				lf, err := singleMain(in)
				if err != nil {
					return nil, err
				}
				fn, err := CompileRowExpression(s.Expression)
				if err != nil {
					return nil, err
				}
				dtype := s.DType
				if dtype == "" {
					dtype = dataframe.DTypeAny
				}
				return dataframe.Formula(lf, s.Column, dtype, fn), nil
			},
		},
		{
			Type:        "sort",
			Arity:       Arity1,
			NewSettings: func() interface{} { return &SortSettings{} },
			Transform: func(settings interface{}, in NodeInputs) (*dataframe.LazyFrame, error) {
				s := settings.(*SortSettings)
				lf, err := singleMain(in)
				if err != nil {
					return nil, err
				}
				return dataframe.Sort(lf, s.Keys), nil
			},
		},
		{
			Type:        "sample",
			Arity:       Arity1,
			NewSettings: func() interface{} { return &SampleSettings{} },
			Transform: func(settings interface{}, in NodeInputs) (*dataframe.LazyFrame, error) {
				s := settings.(*SampleSettings)
				lf, err := singleMain(in)
				if err != nil {
					return nil, err
				}
				return dataframe.SampleN(lf, s.N), nil
			},
		},
		{
			Type:        "unique",
			Arity:       Arity1,
			NewSettings: func() interface{} { return &UniqueSettings{} },
			Transform: func(settings interface{}, in NodeInputs) (*dataframe.LazyFrame, error) {
				s := settings.(*UniqueSettings)
				lf, err := singleMain(in)
				if err != nil {
					return nil, err
				}
				return dataframe.Unique(lf, s.Columns), nil
			},
		},
		{
			Type:        "record_id",
			Arity:       Arity1,
			NewSettings: func() interface{} { return &RecordIDSettings{} },
			Transform: func(settings interface{}, in NodeInputs) (*dataframe.LazyFrame, error) {
				s := settings.(*RecordIDSettings)
				lf, err := singleMain(in)
				if err != nil {
					return nil, err
				}
				return dataframe.RecordID(lf, s.Column), nil
			},
		},
		{
			Type:        "record_count",
			Arity:       Arity1,
			NewSettings: func() interface{} { return &RecordCountSettings{} },
			Transform: func(settings interface{}, in NodeInputs) (*dataframe.LazyFrame, error) {
				s := settings.(*RecordCountSettings)
				lf, err := singleMain(in)
				if err != nil {
					return nil, err
				}
				return dataframe.RecordCount(lf, s.Column), nil
			},
		},
		{
			Type:        "group_by",
			Arity:       Arity1,
			IsWide:      true,
			NewSettings: func() interface{} { return &GroupBySettings{} },
			Transform: func(settings interface{}, in NodeInputs) (*dataframe.LazyFrame, error) {
				s := settings.(*GroupBySettings)
				lf, err := singleMain(in)
				if err != nil {
					return nil, err
				}
				return dataframe.GroupBy(lf, s.By, s.Aggs), nil
			},
			Generator: generateGroupBy,
			Updator:   updateGroupBy,
		},
		{
			Type:        "pivot",
			Arity:       Arity1,
			IsWide:      true,
			NewSettings: func() interface{} { return &PivotSettings{} },
			Transform: func(settings interface{}, in NodeInputs) (*dataframe.LazyFrame, error) {
				s := settings.(*PivotSettings)
				lf, err := singleMain(in)
				if err != nil {
					return nil, err
				}
				return dataframe.Pivot(lf, s.RowKeys, s.ColumnsFrom, s.Values, s.Op), nil
			},
			Generator: generatePivot,
			Updator:   updatePivot,
		},
		{
			Type:        "unpivot",
			Arity:       Arity1,
			NewSettings: func() interface{} { return &UnpivotSettings{} },
			Transform: func(settings interface{}, in NodeInputs) (*dataframe.LazyFrame, error) {
				s := settings.(*UnpivotSettings)
				lf, err := singleMain(in)
				if err != nil {
					return nil, err
				}
				return dataframe.Unpivot(lf, s.IDCols, s.ValueCols, s.NameCol, s.ValueCol), nil
			},
			Generator: generateUnpivot,
			Updator:   updateUnpivot,
		},
		{
			Type:        "join",
			Arity:       Arity2,
			IsWide:      true,
			NewSettings: func() interface{} { return &JoinSettings{} },
			Transform: func(settings interface{}, in NodeInputs) (*dataframe.LazyFrame, error) {
				s := settings.(*JoinSettings)
				if in.Left == nil || in.Right == nil {
					return nil, fmt.Errorf("graph: join requires both left and right inputs")
				}
				kind := s.Kind
				if kind == "" {
					kind = dataframe.JoinInner
				}
				return dataframe.Join(in.Left, in.Right, s.LeftOn, s.RightOn, kind, s.RightSelect), nil
			},
			Generator: generateJoin,
			Updator:   updateJoin,
		},
		{
			Type:        "cross_join",
			Arity:       Arity2,
			IsWide:      true,
			NewSettings: func() interface{} { return &CrossJoinSettings{} },
			Transform: func(settings interface{}, in NodeInputs) (*dataframe.LazyFrame, error) {
				s := settings.(*CrossJoinSettings)
				if in.Left == nil || in.Right == nil {
					return nil, fmt.Errorf("graph: cross_join requires both left and right inputs")
				}
				return dataframe.CrossJoin(in.Left, in.Right, s.LeftSelect, s.RightSelect), nil
			},
			Generator: generateCrossJoin,
			Updator:   updateCrossJoin,
		},
		{
			Type:        "union",
			Arity:       ArityMany,
			NewSettings: func() interface{} { return &UnionSettings{} },
			Transform: func(_ interface{}, in NodeInputs) (*dataframe.LazyFrame, error) {
				if len(in.Main) == 0 {
					return nil, fmt.Errorf("graph: union requires at least one input")
				}
				return dataframe.Union(in.Main), nil
			},
		},

		{
			Type:        "python_script",
			Arity:       ArityMany,
			IsWide:      true,
			NewSettings: func() interface{} { return &PythonScriptSettings{} },
			Transform:   pythonScriptTransform,
		},

		// Black-box / external-collaborator node types (§1: "consumed as
		// black-box operators" or genuinely out of this engine's scope).
		// They are registered so the graph can hold, hash, and schedule
		// them, but their transform is supplied by an external binding
		// that is not part of this engine.
		stubTemplate("fuzzy_match", Arity2, true, generateFuzzyMatch, updateFuzzyMatch),
		stubTemplate("text_to_rows", Arity1, false, nil, nil),
		stubTemplate("graph_solver", Arity1, true, nil, nil),
		stubTemplate("polars_code", Arity1, true, nil, nil),
		{
			Type:        "explore_data",
			Arity:       Arity1,
			NewSettings: func() interface{} { return &ExploreDataSettings{} },
			Transform:   exploreDataTransform,
		},
		stubTemplate("external_source", Arity0, false, nil, nil),
	}
}

// stubTemplate registers a node type whose Transform is an external
// collaborator not implemented by this engine (§1 Non-goals: "Concrete
// fuzzy-match, graph-solver, and analytics sub-libraries — consumed as
// black-box operators"). The node still participates in hashing,
// scheduling, and (where given) setting reconciliation.
func stubTemplate(nodeType string, arity Arity, wide bool, gen SettingGenerator, upd SettingUpdator) *NodeTemplate {
	return &NodeTemplate{
		Type:        nodeType,
		Arity:       arity,
		IsWide:      wide,
		NewSettings: func() interface{} { return map[string]interface{}{} },
		Transform: func(_ interface{}, _ NodeInputs) (*dataframe.LazyFrame, error) {
			return nil, fmt.Errorf("graph: node type %q has no in-process transform, it is an external collaborator", nodeType)
		},
		Generator: gen,
		Updator:   upd,
	}
}

// pythonScriptTransform runs a python_script node's source through
// pkg/codegen's usage-analysis/rewrite/assembly pipeline (§4.4) to
// validate it and derive the function the remote kernel executor would
// run. This engine has no embedded Python kernel, so only the one
// transform fully computable without actually running the script —
// a direct passthrough of its single input — is performed in-process;
// anything else is handed off the same way the fuzzy_match/graph_solver
// black boxes are (§1: "consumed as black-box operators"), now with the
// compiled function body and required packages available for that
// external collaborator to use.
func pythonScriptTransform(settings interface{}, in NodeInputs) (*dataframe.LazyFrame, error) {
	s := settings.(*PythonScriptSettings)
	kernelID := s.KernelID
	if kernelID == "" {
		kernelID = "node"
	}

	inputVars := make([]string, len(in.Main))
	for i := range in.Main {
		inputVars[i] = fmt.Sprintf("upstream_%d", i)
	}

	compiled, err := codegen.Compile(kernelID, s.Source, kernelID, inputVars)
	if err != nil {
		return nil, fmt.Errorf("graph: python_script %s: %w", kernelID, err)
	}
	if len(compiled.Usage.UnsupportedCalls) > 0 {
		return nil, fmt.Errorf("%w: %v", models.ErrCodegenUnsupported, compiled.Usage.UnsupportedCalls)
	}

	if compiled.Usage.PassthroughOutput {
		return singleMain(in)
	}

	return nil, fmt.Errorf("graph: python_script %s has no in-process transform beyond passthrough, it requires the remote kernel executor: %w", kernelID, models.ErrExecutorNotFound)
}

// exploreDataTransform applies the node's preview jq filter and row cap to
// its single input, lazily — same shape as the filter builtin but with
// a jq predicate in place of an expr-lang one (see CompileRowJQPredicate).
func exploreDataTransform(settings interface{}, in NodeInputs) (*dataframe.LazyFrame, error) {
	s := settings.(*ExploreDataSettings)
	lf, err := singleMain(in)
	if err != nil {
		return nil, err
	}
	if s.Filter != "" {
		fn, err := CompileRowJQPredicate(s.Filter)
		if err != nil {
			return nil, fmt.Errorf("graph: explore_data: %w", err)
		}
		lf = dataframe.Filter(lf, fn)
	}
	if s.Limit > 0 {
		lf = dataframe.SampleN(lf, s.Limit)
	}
	return lf, nil
}

func singleMain(in NodeInputs) (*dataframe.LazyFrame, error) {
	if len(in.Main) != 1 {
		return nil, fmt.Errorf("graph: expected exactly one main input, got %d", len(in.Main))
	}
	return in.Main[0], nil
}

// sharedRegistry backs the "mem" source/sink scheme for manual_input-style
// nodes and tests; a real deployment would replace this with a file-
// system-backed dataframe library (§1 Non-goals: concrete file formats
// are an external collaborator).
var sharedRegistry = dataframe.NewMemRegistry()
