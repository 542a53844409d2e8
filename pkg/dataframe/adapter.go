// Package dataframe is the narrow interface the graph engine uses to talk
// to a lazy columnar dataframe library, plus an in-memory reference
// implementation sufficient to run the engine end-to-end without a real
// dataframe or file-format library wired in.
package dataframe

import (
	"fmt"
	"sort"
)

// DType is the logical column type used for schema prediction. It deliberately
// stays coarse: the engine only needs enough type information to drive
// settings generators/updators and join/group-by planning, not a full type
// system.
type DType string

const (
	DTypeString  DType = "string"
	DTypeInt64   DType = "int64"
	DTypeFloat64 DType = "float64"
	DTypeBool    DType = "bool"
	DTypeAny     DType = "any"
)

// ColumnDef is one (name, dtype) pair of a Schema.
type ColumnDef struct {
	Name  string
	DType DType
}

// Schema is an ordered list of columns. Column order is significant: it is
// part of the canonical form hashed by pkg/graph and returned by write
// operations.
type Schema []ColumnDef

// Names returns the column names in schema order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// Has reports whether the schema contains a column with the given name.
func (s Schema) Has(name string) bool {
	for _, c := range s {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Row is a single record keyed by column name.
type Row map[string]any

// Frame is a materialized, schema-typed table.
type Frame struct {
	Schema Schema
	Rows   []Row
}

// NewFrame builds a Frame from a schema and rows, without validating that
// every row matches the schema; nothing in this package, Collect included,
// checks rows against the schema.
func NewFrame(schema Schema, rows []Row) *Frame {
	return &Frame{Schema: schema, Rows: rows}
}

// Clone returns a deep-enough copy of the frame for safe concurrent reads;
// rows are shallow-copied maps, which is sufficient because node transforms
// treat row values as immutable.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	rows := make([]Row, len(f.Rows))
	for i, r := range f.Rows {
		nr := make(Row, len(r))
		for k, v := range r {
			nr[k] = v
		}
		rows[i] = nr
	}
	schema := make(Schema, len(f.Schema))
	copy(schema, f.Schema)
	return &Frame{Schema: schema, Rows: rows}
}

// LazyFrame is a closure-chain of operations over a source Frame, mirroring
// lazy columnar evaluation without requiring a real query planner: each
// operation captures the previous step and is only run on Collect.
type LazyFrame struct {
	schema Schema
	eval   func() (*Frame, error)
}

// Lit wraps a frame that is already materialized into a LazyFrame, used
// when a manual_input node embeds raw rows directly (§4.1).
func Lit(f *Frame) *LazyFrame {
	return &LazyFrame{
		schema: f.Schema,
		eval:   func() (*Frame, error) { return f, nil },
	}
}

// MakeEmpty returns an empty frame with the given schema, used for
// schema-only propagation when a node's upstream hasn't materialized data.
func MakeEmpty(schema Schema) *LazyFrame {
	return &LazyFrame{
		schema: schema,
		eval:   func() (*Frame, error) { return NewFrame(schema, nil), nil },
	}
}

// Chain builds a new LazyFrame from this one by applying fn at Collect time.
// outSchema is the predicted schema of the result, used by CollectSchema
// without materializing rows.
func (lf *LazyFrame) Chain(outSchema Schema, fn func(*Frame) (*Frame, error)) *LazyFrame {
	prev := lf
	return &LazyFrame{
		schema: outSchema,
		eval: func() (*Frame, error) {
			in, err := prev.eval()
			if err != nil {
				return nil, err
			}
			return fn(in)
		},
	}
}

// Collect materializes the lazy frame. The streaming flag is accepted for
// interface parity with §4.1; the in-memory implementation has no streaming
// mode and always evaluates eagerly, falling back identically whether or
// not streaming was requested.
func Collect(lf *LazyFrame, streaming bool) (*Frame, error) {
	if lf == nil {
		return NewFrame(nil, nil), nil
	}
	f, err := lf.eval()
	if err != nil {
		return nil, fmt.Errorf("collect: %w", err)
	}
	return f, nil
}

// CollectSchema returns the predicted schema without materializing rows.
func CollectSchema(lf *LazyFrame) Schema {
	if lf == nil {
		return nil
	}
	return lf.schema
}

// SourceDescriptor identifies where a LazyFrame reads from. Scheme "mem"
// addresses an in-process named frame (used by manual_input/tests); scheme
// "file" is the one concrete convenience path backed by encoding/csv (§7).
type SourceDescriptor struct {
	Scheme string
	Path   string
	Format string // "csv" for scheme "file"
}

// SinkDescriptor identifies a write target, mirroring SourceDescriptor.
type SinkDescriptor struct {
	Scheme string
	Path   string
	Format string
	Mode   string // "overwrite" | "append"
}

// SampleTopN materializes up to n rows for UI preview without forcing a
// full collect when the source is already bounded; for the in-memory
// adapter this simply collects and truncates.
func SampleTopN(lf *LazyFrame, n int) (*Frame, error) {
	f, err := Collect(lf, false)
	if err != nil {
		return nil, err
	}
	if n >= 0 && len(f.Rows) > n {
		f = &Frame{Schema: f.Schema, Rows: f.Rows[:n]}
	}
	return f, nil
}

// SortedColumnNames returns a frame's column names in sorted order, a
// helper used throughout the setting generators/updators.
func SortedColumnNames(s Schema) []string {
	names := s.Names()
	sort.Strings(names)
	return names
}
