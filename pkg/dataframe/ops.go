package dataframe

import (
	"fmt"
	"sort"
)

// Select projects and optionally renames columns. cols maps old_name ->
// new_name; only columns present in cols are kept, in the order given.
func Select(lf *LazyFrame, cols []ColumnRename) *LazyFrame {
	outSchema := make(Schema, 0, len(cols))
	inSchema := CollectSchema(lf)
	for _, c := range cols {
		dtype := DTypeAny
		for _, in := range inSchema {
			if in.Name == c.OldName {
				dtype = in.DType
				break
			}
		}
		outSchema = append(outSchema, ColumnDef{Name: c.NewName, DType: dtype})
	}

	return lf.Chain(outSchema, func(f *Frame) (*Frame, error) {
		rows := make([]Row, len(f.Rows))
		for i, row := range f.Rows {
			nr := make(Row, len(cols))
			for _, c := range cols {
				nr[c.NewName] = row[c.OldName]
			}
			rows[i] = nr
		}
		return NewFrame(outSchema, rows), nil
	})
}

// ColumnRename is one column selection with an optional rename, used by
// Select, Join and CrossJoin, and by pkg/graph's setting generators that
// build their own SelectInput-equivalent lists.
type ColumnRename struct {
	OldName string
	NewName string
}

// FilterFunc evaluates a single row, returning true to keep it.
type FilterFunc func(Row) (bool, error)

// Filter keeps rows for which fn returns true; schema is unchanged.
func Filter(lf *LazyFrame, fn FilterFunc) *LazyFrame {
	schema := CollectSchema(lf)
	return lf.Chain(schema, func(f *Frame) (*Frame, error) {
		var out []Row
		for _, row := range f.Rows {
			keep, err := fn(row)
			if err != nil {
				return nil, fmt.Errorf("filter: %w", err)
			}
			if keep {
				out = append(out, row)
			}
		}
		return NewFrame(f.Schema, out), nil
	})
}

// FormulaFunc computes a new column value from a row.
type FormulaFunc func(Row) (any, error)

// Formula adds or replaces a single computed column.
func Formula(lf *LazyFrame, column string, dtype DType, fn FormulaFunc) *LazyFrame {
	inSchema := CollectSchema(lf)
	outSchema := make(Schema, 0, len(inSchema)+1)
	replaced := false
	for _, c := range inSchema {
		if c.Name == column {
			outSchema = append(outSchema, ColumnDef{Name: column, DType: dtype})
			replaced = true
		} else {
			outSchema = append(outSchema, c)
		}
	}
	if !replaced {
		outSchema = append(outSchema, ColumnDef{Name: column, DType: dtype})
	}

	return lf.Chain(outSchema, func(f *Frame) (*Frame, error) {
		rows := make([]Row, len(f.Rows))
		for i, row := range f.Rows {
			nr := make(Row, len(row)+1)
			for k, v := range row {
				nr[k] = v
			}
			v, err := fn(row)
			if err != nil {
				return nil, fmt.Errorf("formula: %w", err)
			}
			nr[column] = v
			rows[i] = nr
		}
		return NewFrame(outSchema, rows), nil
	})
}

// SortKey is one column of a multi-column sort.
type SortKey struct {
	Column     string
	Descending bool
}

// Sort orders rows by the given keys; schema is unchanged.
func Sort(lf *LazyFrame, keys []SortKey) *LazyFrame {
	schema := CollectSchema(lf)
	return lf.Chain(schema, func(f *Frame) (*Frame, error) {
		rows := append([]Row(nil), f.Rows...)
		sort.SliceStable(rows, func(i, j int) bool {
			for _, k := range keys {
				c := compareValues(rows[i][k.Column], rows[j][k.Column])
				if c == 0 {
					continue
				}
				if k.Descending {
					return c > 0
				}
				return c < 0
			}
			return false
		})
		return NewFrame(f.Schema, rows), nil
	})
}

func compareValues(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// SampleN truncates to the first n rows (the in-memory adapter has no
// random sampling, only "top n" which matches the UI preview use case).
func SampleN(lf *LazyFrame, n int) *LazyFrame {
	schema := CollectSchema(lf)
	return lf.Chain(schema, func(f *Frame) (*Frame, error) {
		if n >= 0 && len(f.Rows) > n {
			return NewFrame(f.Schema, f.Rows[:n]), nil
		}
		return f, nil
	})
}

// Unique drops duplicate rows, comparing on the given columns (all columns
// if cols is empty), keeping the first occurrence.
func Unique(lf *LazyFrame, cols []string) *LazyFrame {
	schema := CollectSchema(lf)
	keyCols := cols
	if len(keyCols) == 0 {
		keyCols = schema.Names()
	}
	return lf.Chain(schema, func(f *Frame) (*Frame, error) {
		seen := make(map[string]struct{})
		var out []Row
		for _, row := range f.Rows {
			key := rowKey(row, keyCols)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, row)
		}
		return NewFrame(f.Schema, out), nil
	})
}

func rowKey(row Row, cols []string) string {
	key := ""
	for _, c := range cols {
		key += fmt.Sprintf("\x1f%v", row[c])
	}
	return key
}

// RecordID adds a 1-based sequential id column.
func RecordID(lf *LazyFrame, column string) *LazyFrame {
	inSchema := CollectSchema(lf)
	outSchema := append(Schema{{Name: column, DType: DTypeInt64}}, inSchema...)
	return lf.Chain(outSchema, func(f *Frame) (*Frame, error) {
		rows := make([]Row, len(f.Rows))
		for i, row := range f.Rows {
			nr := make(Row, len(row)+1)
			for k, v := range row {
				nr[k] = v
			}
			nr[column] = int64(i + 1)
			rows[i] = nr
		}
		return NewFrame(outSchema, rows), nil
	})
}

// RecordCount collapses the frame to a single row holding the row count.
func RecordCount(lf *LazyFrame, column string) *LazyFrame {
	outSchema := Schema{{Name: column, DType: DTypeInt64}}
	return lf.Chain(outSchema, func(f *Frame) (*Frame, error) {
		return NewFrame(outSchema, []Row{{column: int64(len(f.Rows))}}), nil
	})
}

// AggFunc is one aggregation applied to a group's rows.
type AggFunc struct {
	Column string // source column
	Output string // output column name
	Op     string // "sum", "count", "mean", "min", "max"
}

// GroupBy groups rows by the given columns and applies aggregations.
func GroupBy(lf *LazyFrame, by []string, aggs []AggFunc) *LazyFrame {
	outSchema := make(Schema, 0, len(by)+len(aggs))
	inSchema := CollectSchema(lf)
	for _, b := range by {
		dtype := DTypeAny
		for _, c := range inSchema {
			if c.Name == b {
				dtype = c.DType
			}
		}
		outSchema = append(outSchema, ColumnDef{Name: b, DType: dtype})
	}
	for _, a := range aggs {
		dtype := DTypeFloat64
		if a.Op == "count" {
			dtype = DTypeInt64
		}
		outSchema = append(outSchema, ColumnDef{Name: a.Output, DType: dtype})
	}

	return lf.Chain(outSchema, func(f *Frame) (*Frame, error) {
		type group struct {
			key  Row
			rows []Row
		}
		order := []string{}
		groups := map[string]*group{}
		for _, row := range f.Rows {
			k := rowKey(row, by)
			g, ok := groups[k]
			if !ok {
				key := make(Row, len(by))
				for _, b := range by {
					key[b] = row[b]
				}
				g = &group{key: key}
				groups[k] = g
				order = append(order, k)
			}
			g.rows = append(g.rows, row)
		}
		sort.Strings(order)

		out := make([]Row, 0, len(order))
		for _, k := range order {
			g := groups[k]
			row := make(Row, len(by)+len(aggs))
			for _, b := range by {
				row[b] = g.key[b]
			}
			for _, a := range aggs {
				row[a.Output] = aggregate(g.rows, a)
			}
			out = append(out, row)
		}
		return NewFrame(outSchema, out), nil
	})
}

func aggregate(rows []Row, a AggFunc) any {
	switch a.Op {
	case "count":
		return int64(len(rows))
	case "sum", "mean":
		var sum float64
		var n int
		for _, row := range rows {
			if v, ok := toFloat(row[a.Column]); ok {
				sum += v
				n++
			}
		}
		if a.Op == "mean" && n > 0 {
			return sum / float64(n)
		}
		return sum
	case "min", "max":
		var best float64
		first := true
		for _, row := range rows {
			v, ok := toFloat(row[a.Column])
			if !ok {
				continue
			}
			if first || (a.Op == "min" && v < best) || (a.Op == "max" && v > best) {
				best = v
				first = false
			}
		}
		return best
	default:
		return nil
	}
}

// JoinKind selects how unmatched rows from each side are handled.
type JoinKind string

const (
	JoinInner JoinKind = "inner"
	JoinLeft  JoinKind = "left"
	JoinRight JoinKind = "right"
	JoinOuter JoinKind = "outer"
)

// Join combines left and right frames on matching key columns.
func Join(left, right *LazyFrame, leftOn, rightOn []string, kind JoinKind, rightSelect []ColumnRename) *LazyFrame {
	leftSchema := CollectSchema(left)
	rightSchema := make(Schema, 0, len(rightSelect))
	for _, c := range rightSelect {
		for _, rc := range CollectSchema(right) {
			if rc.Name == c.OldName {
				rightSchema = append(rightSchema, ColumnDef{Name: c.NewName, DType: rc.DType})
			}
		}
	}
	outSchema := append(append(Schema{}, leftSchema...), rightSchema...)

	return &LazyFrame{
		schema: outSchema,
		eval: func() (*Frame, error) {
			lf2, err := Collect(left, false)
			if err != nil {
				return nil, err
			}
			rf, err := Collect(right, false)
			if err != nil {
				return nil, err
			}

			index := map[string][]Row{}
			for _, row := range rf.Rows {
				k := rowKey(row, rightOn)
				index[k] = append(index[k], row)
			}

			var out []Row
			matchedRight := map[int]bool{}
			for _, lrow := range lf2.Rows {
				k := rowKey(lrow, leftOn)
				matches := index[k]
				if len(matches) == 0 && (kind == JoinLeft || kind == JoinOuter) {
					out = append(out, mergeJoinRow(lrow, nil, rightSelect))
					continue
				}
				for ridx, rrow := range rf.Rows {
					if rowKey(rrow, rightOn) != k {
						continue
					}
					matchedRight[ridx] = true
					out = append(out, mergeJoinRow(lrow, rrow, rightSelect))
				}
			}
			if kind == JoinRight || kind == JoinOuter {
				for i, rrow := range rf.Rows {
					if !matchedRight[i] {
						out = append(out, mergeJoinRow(nil, rrow, rightSelect))
					}
				}
			}
			return NewFrame(outSchema, out), nil
		},
	}
}

func mergeJoinRow(left, right Row, rightSelect []ColumnRename) Row {
	out := make(Row, len(left)+len(rightSelect))
	for k, v := range left {
		out[k] = v
	}
	for _, c := range rightSelect {
		if right != nil {
			out[c.NewName] = right[c.OldName]
		} else {
			out[c.NewName] = nil
		}
	}
	return out
}

// CrossJoin produces the Cartesian product of left and right.
func CrossJoin(left, right *LazyFrame, leftSelect, rightSelect []ColumnRename) *LazyFrame {
	outSchema := append(append(Schema{}, projectSchema(CollectSchema(left), leftSelect)...), projectSchema(CollectSchema(right), rightSelect)...)
	return &LazyFrame{
		schema: outSchema,
		eval: func() (*Frame, error) {
			lf2, err := Collect(left, false)
			if err != nil {
				return nil, err
			}
			rf, err := Collect(right, false)
			if err != nil {
				return nil, err
			}
			out := make([]Row, 0, len(lf2.Rows)*len(rf.Rows))
			for _, lrow := range lf2.Rows {
				for _, rrow := range rf.Rows {
					out = append(out, mergeJoinRow(projectRow(lrow, leftSelect), rrow, rightSelect))
				}
			}
			return NewFrame(outSchema, out), nil
		},
	}
}

func projectSchema(s Schema, sel []ColumnRename) Schema {
	out := make(Schema, 0, len(sel))
	for _, c := range sel {
		dtype := DTypeAny
		for _, in := range s {
			if in.Name == c.OldName {
				dtype = in.DType
			}
		}
		out = append(out, ColumnDef{Name: c.NewName, DType: dtype})
	}
	return out
}

func projectRow(row Row, sel []ColumnRename) Row {
	out := make(Row, len(sel))
	for _, c := range sel {
		out[c.NewName] = row[c.OldName]
	}
	return out
}

// Union concatenates frames sharing a compatible schema.
func Union(frames []*LazyFrame) *LazyFrame {
	var schema Schema
	if len(frames) > 0 {
		schema = CollectSchema(frames[0])
	}
	return &LazyFrame{
		schema: schema,
		eval: func() (*Frame, error) {
			var out []Row
			for _, lf := range frames {
				f, err := Collect(lf, false)
				if err != nil {
					return nil, err
				}
				out = append(out, f.Rows...)
			}
			return NewFrame(schema, out), nil
		},
	}
}

// Pivot reshapes rows into columns: one output row per distinct value of
// `rows`, one output column per distinct value of `columnsFrom`, cells
// filled by aggregating `values` with op.
func Pivot(lf *LazyFrame, rowKeys []string, columnsFrom, values, op string) *LazyFrame {
	return &LazyFrame{
		schema: nil, // pivot's column set depends on data; predicted lazily below
		eval: func() (*Frame, error) {
			f, err := Collect(lf, false)
			if err != nil {
				return nil, err
			}

			colValues := map[string]struct{}{}
			for _, row := range f.Rows {
				colValues[fmt.Sprint(row[columnsFrom])] = struct{}{}
			}
			cols := make([]string, 0, len(colValues))
			for c := range colValues {
				cols = append(cols, c)
			}
			sort.Strings(cols)

			schema := make(Schema, 0, len(rowKeys)+len(cols))
			for _, k := range rowKeys {
				schema = append(schema, ColumnDef{Name: k, DType: DTypeAny})
			}
			for _, c := range cols {
				schema = append(schema, ColumnDef{Name: c, DType: DTypeFloat64})
			}

			order := []string{}
			groups := map[string]Row{}
			groupRows := map[string][]Row{}
			for _, row := range f.Rows {
				k := rowKey(row, rowKeys)
				if _, ok := groups[k]; !ok {
					gr := make(Row, len(rowKeys))
					for _, rk := range rowKeys {
						gr[rk] = row[rk]
					}
					groups[k] = gr
					order = append(order, k)
				}
				groupRows[k] = append(groupRows[k], row)
			}
			sort.Strings(order)

			out := make([]Row, 0, len(order))
			for _, k := range order {
				row := make(Row, len(schema))
				for rk, v := range groups[k] {
					row[rk] = v
				}
				byCol := map[string][]Row{}
				for _, r := range groupRows[k] {
					c := fmt.Sprint(r[columnsFrom])
					byCol[c] = append(byCol[c], r)
				}
				for _, c := range cols {
					if rs, ok := byCol[c]; ok {
						row[c] = aggregate(rs, AggFunc{Column: values, Op: op})
					}
				}
				out = append(out, row)
			}
			return NewFrame(schema, out), nil
		},
	}
}

// Unpivot is the inverse of Pivot: melts `valueCols` into name/value pairs,
// keeping `idCols` unchanged per emitted row.
func Unpivot(lf *LazyFrame, idCols, valueCols []string, nameCol, valueCol string) *LazyFrame {
	inSchema := CollectSchema(lf)
	schema := make(Schema, 0, len(idCols)+2)
	for _, id := range idCols {
		dtype := DTypeAny
		for _, c := range inSchema {
			if c.Name == id {
				dtype = c.DType
			}
		}
		schema = append(schema, ColumnDef{Name: id, DType: dtype})
	}
	schema = append(schema, ColumnDef{Name: nameCol, DType: DTypeString}, ColumnDef{Name: valueCol, DType: DTypeAny})

	return lf.Chain(schema, func(f *Frame) (*Frame, error) {
		var out []Row
		for _, row := range f.Rows {
			for _, vc := range valueCols {
				nr := make(Row, len(idCols)+2)
				for _, id := range idCols {
					nr[id] = row[id]
				}
				nr[nameCol] = vc
				nr[valueCol] = row[vc]
				out = append(out, nr)
			}
		}
		return NewFrame(schema, out), nil
	})
}
