package graph

import (
	"fmt"
	"sort"

	"github.com/flowgraph/graphengine/pkg/dataframe"
)

// reconcileSelectInputs runs the 4-step reconciliation algorithm of
// §4.2.4 against a slice of dataframe.ColumnRename, treating OldName as
// the SelectInput's old_name. It is shared by the select, join and
// cross_join updators; the other updators filter their column lists
// themselves.
func reconcileSelectInputs(existing []dataframe.ColumnRename, upstream dataframe.Schema) []dataframe.ColumnRename {
	upstreamNames := make(map[string]bool, len(upstream))
	for _, c := range upstream {
		upstreamNames[c.Name] = true
	}

	// Step 1: mark removal candidates (old_name not in upstream).
	keep := make([]dataframe.ColumnRename, 0, len(existing))
	seenOld := make(map[string]bool, len(existing))
	for _, c := range existing {
		if !upstreamNames[c.OldName] {
			continue // step 4: drop, never re-add
		}
		keep = append(keep, c) // step 3: still available
		seenOld[c.OldName] = true
	}

	// Step 2: add new SelectInput for upstream columns missing from settings.
	names := upstream.Names()
	sort.Strings(names)
	for _, name := range names {
		if seenOld[name] {
			continue
		}
		keep = append(keep, dataframe.ColumnRename{OldName: name, NewName: name})
		seenOld[name] = true
	}

	return keep
}

func generateSelect(in NodeInputs) interface{} {
	lf := singleOrNil(in)
	cols := []dataframe.ColumnRename{}
	if lf != nil {
		for _, name := range dataframe.SortedColumnNames(dataframe.CollectSchema(lf)) {
			cols = append(cols, dataframe.ColumnRename{OldName: name, NewName: name})
		}
	}
	return &SelectSettings{Columns: cols}
}

func updateSelect(existing interface{}, in NodeInputs) interface{} {
	s, ok := existing.(*SelectSettings)
	if !ok || s == nil {
		s = &SelectSettings{}
	}
	lf := singleOrNil(in)
	if lf == nil {
		return s
	}
	s.Columns = reconcileSelectInputs(s.Columns, dataframe.CollectSchema(lf))
	return s
}

func generateGroupBy(in NodeInputs) interface{} {
	lf := singleOrNil(in)
	s := &GroupBySettings{}
	if lf != nil {
		names := dataframe.SortedColumnNames(dataframe.CollectSchema(lf))
		if len(names) > 0 {
			s.By = []string{names[0]}
		}
	}
	return s
}

func updateGroupBy(existing interface{}, in NodeInputs) interface{} {
	s, ok := existing.(*GroupBySettings)
	if !ok || s == nil {
		return &GroupBySettings{}
	}
	lf := singleOrNil(in)
	if lf == nil {
		return s
	}
	schema := dataframe.CollectSchema(lf)
	available := schema.Has
	filteredBy := s.By[:0]
	for _, b := range s.By {
		if available(b) {
			filteredBy = append(filteredBy, b)
		}
	}
	s.By = filteredBy
	filteredAggs := s.Aggs[:0]
	for _, a := range s.Aggs {
		if a.Op == "count" || available(a.Column) {
			filteredAggs = append(filteredAggs, a)
		}
	}
	s.Aggs = filteredAggs
	return s
}

func generatePivot(in NodeInputs) interface{} {
	lf := singleOrNil(in)
	s := &PivotSettings{Op: "sum"}
	if lf == nil {
		return s
	}
	names := dataframe.SortedColumnNames(dataframe.CollectSchema(lf))
	if len(names) > 0 {
		s.RowKeys = []string{names[0]}
	}
	if len(names) > 1 {
		s.ColumnsFrom = names[1]
	}
	if len(names) > 2 {
		s.Values = names[2]
	}
	return s
}

func updatePivot(existing interface{}, in NodeInputs) interface{} {
	s, ok := existing.(*PivotSettings)
	if !ok || s == nil {
		return &PivotSettings{Op: "sum"}
	}
	lf := singleOrNil(in)
	if lf == nil {
		return s
	}
	schema := dataframe.CollectSchema(lf)
	keys := s.RowKeys[:0]
	for _, k := range s.RowKeys {
		if schema.Has(k) {
			keys = append(keys, k)
		}
	}
	s.RowKeys = keys
	if !schema.Has(s.ColumnsFrom) {
		s.ColumnsFrom = ""
	}
	if !schema.Has(s.Values) {
		s.Values = ""
	}
	return s
}

func generateUnpivot(in NodeInputs) interface{} {
	lf := singleOrNil(in)
	s := &UnpivotSettings{NameCol: "variable", ValueCol: "value"}
	if lf == nil {
		return s
	}
	names := dataframe.SortedColumnNames(dataframe.CollectSchema(lf))
	if len(names) > 0 {
		s.IDCols = []string{names[0]}
	}
	if len(names) > 1 {
		s.ValueCols = names[1:]
	}
	return s
}

func updateUnpivot(existing interface{}, in NodeInputs) interface{} {
	s, ok := existing.(*UnpivotSettings)
	if !ok || s == nil {
		return &UnpivotSettings{NameCol: "variable", ValueCol: "value"}
	}
	lf := singleOrNil(in)
	if lf == nil {
		return s
	}
	schema := dataframe.CollectSchema(lf)
	ids := s.IDCols[:0]
	for _, c := range s.IDCols {
		if schema.Has(c) {
			ids = append(ids, c)
		}
	}
	s.IDCols = ids
	vals := s.ValueCols[:0]
	for _, c := range s.ValueCols {
		if schema.Has(c) {
			vals = append(vals, c)
		}
	}
	s.ValueCols = vals
	return s
}

// generateJoin seeds left_select/right_select with one ColumnRename per
// column, suffixing right-side names that collide with a left-side name
// (§4.2.4: "the generator suffixes the right side").
func generateJoin(in NodeInputs) interface{} {
	s := &JoinSettings{Kind: dataframe.JoinInner}
	if in.Left != nil {
		s.LeftSelect = identitySelect(dataframe.CollectSchema(in.Left))
	}
	if in.Right != nil {
		s.RightSelect = suffixCollisions(dataframe.CollectSchema(in.Right), dataframe.CollectSchema(in.Left), "right_")
	}
	return s
}

func updateJoin(existing interface{}, in NodeInputs) interface{} {
	s, ok := existing.(*JoinSettings)
	if !ok || s == nil {
		return generateJoin(in)
	}
	if in.Left != nil {
		s.LeftSelect = reconcileSelectInputs(s.LeftSelect, dataframe.CollectSchema(in.Left))
	}
	if in.Right != nil {
		s.RightSelect = reconcileSelectInputs(s.RightSelect, dataframe.CollectSchema(in.Right))
	}
	return s
}

func generateCrossJoin(in NodeInputs) interface{} {
	s := &CrossJoinSettings{}
	if in.Left != nil {
		s.LeftSelect = identitySelect(dataframe.CollectSchema(in.Left))
	}
	if in.Right != nil {
		s.RightSelect = suffixCollisions(dataframe.CollectSchema(in.Right), dataframe.CollectSchema(in.Left), "right_")
	}
	return s
}

func updateCrossJoin(existing interface{}, in NodeInputs) interface{} {
	s, ok := existing.(*CrossJoinSettings)
	if !ok || s == nil {
		return generateCrossJoin(in)
	}
	if in.Left != nil {
		s.LeftSelect = reconcileSelectInputs(s.LeftSelect, dataframe.CollectSchema(in.Left))
	}
	if in.Right != nil {
		s.RightSelect = reconcileSelectInputs(s.RightSelect, dataframe.CollectSchema(in.Right))
	}
	return s
}

func generateFuzzyMatch(in NodeInputs) interface{} {
	settings := map[string]interface{}{}
	if in.Left != nil {
		settings["left_select"] = identitySelect(dataframe.CollectSchema(in.Left))
	}
	if in.Right != nil {
		settings["right_select"] = suffixCollisions(dataframe.CollectSchema(in.Right), dataframe.CollectSchema(in.Left), "right_")
	}
	return settings
}

func updateFuzzyMatch(existing interface{}, in NodeInputs) interface{} {
	m, ok := existing.(map[string]interface{})
	if !ok || m == nil {
		return generateFuzzyMatch(in)
	}
	return m
}

func identitySelect(schema dataframe.Schema) []dataframe.ColumnRename {
	names := dataframe.SortedColumnNames(schema)
	out := make([]dataframe.ColumnRename, len(names))
	for i, n := range names {
		out[i] = dataframe.ColumnRename{OldName: n, NewName: n}
	}
	return out
}

// suffixCollisions builds an identity select list for schema, renaming
// any column whose name also appears in other to avoid a duplicate
// output column (§4.2.4: "Overlapping names across left/right must have
// distinct new_name values").
func suffixCollisions(schema, other dataframe.Schema, prefix string) []dataframe.ColumnRename {
	otherNames := make(map[string]bool, len(other))
	for _, c := range other {
		otherNames[c.Name] = true
	}
	names := dataframe.SortedColumnNames(schema)
	out := make([]dataframe.ColumnRename, len(names))
	for i, n := range names {
		newName := n
		if otherNames[n] {
			newName = fmt.Sprintf("%s%s", prefix, n)
		}
		out[i] = dataframe.ColumnRename{OldName: n, NewName: newName}
	}
	return out
}

func singleOrNil(in NodeInputs) *dataframe.LazyFrame {
	if len(in.Main) == 1 {
		return in.Main[0]
	}
	if in.Left != nil {
		return in.Left
	}
	return nil
}
