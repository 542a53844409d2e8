package worker

import (
	"fmt"

	"github.com/flowgraph/graphengine/pkg/dataframe"
)

// toWireFrame materializes a LazyFrame for transport, per §4.3.3: the
// worker protocol exchanges fully collected frames since a remote process
// cannot share the submitter's in-memory closures.
func toWireFrame(lf *dataframe.LazyFrame) (WireFrame, error) {
	frame, err := dataframe.Collect(lf, false)
	if err != nil {
		return WireFrame{}, fmt.Errorf("worker: collect for transport: %w", err)
	}
	cols := make([]WireColumn, len(frame.Schema))
	for i, c := range frame.Schema {
		cols[i] = WireColumn{Name: c.Name, DType: string(c.DType)}
	}
	rows := make([]map[string]interface{}, len(frame.Rows))
	for i, r := range frame.Rows {
		rows[i] = map[string]interface{}(r)
	}
	return WireFrame{Columns: cols, Rows: rows}, nil
}

// fromWireFrame rebuilds a Frame from its wire form and wraps it as an
// already-materialized LazyFrame via dataframe.Lit.
func fromWireFrame(wf WireFrame) *dataframe.LazyFrame {
	schema := make(dataframe.Schema, len(wf.Columns))
	for i, c := range wf.Columns {
		schema[i] = dataframe.ColumnDef{Name: c.Name, DType: dataframe.DType(c.DType)}
	}
	rows := make([]dataframe.Row, len(wf.Rows))
	for i, r := range wf.Rows {
		rows[i] = dataframe.Row(r)
	}
	return dataframe.Lit(dataframe.NewFrame(schema, rows))
}

// toWireInputsFrames materializes a graph.NodeInputs' main, left and right
// frames for transport.
func toWireInputsFrames(main []*dataframe.LazyFrame, left, right *dataframe.LazyFrame) (WireInputs, error) {
	out := WireInputs{}
	for _, lf := range main {
		wf, err := toWireFrame(lf)
		if err != nil {
			return WireInputs{}, err
		}
		out.Main = append(out.Main, wf)
	}
	if left != nil {
		wf, err := toWireFrame(left)
		if err != nil {
			return WireInputs{}, err
		}
		out.Left = &wf
	}
	if right != nil {
		wf, err := toWireFrame(right)
		if err != nil {
			return WireInputs{}, err
		}
		out.Right = &wf
	}
	return out, nil
}
