package dataframe

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchema_NamesAndHas(t *testing.T) {
	s := Schema{{Name: "a", DType: DTypeString}, {Name: "b", DType: DTypeInt64}}
	assert.Equal(t, []string{"a", "b"}, s.Names())
	assert.True(t, s.Has("a"))
	assert.False(t, s.Has("c"))
}

func TestFrame_Clone_IsIndependentOfSource(t *testing.T) {
	f := NewFrame(Schema{{Name: "x", DType: DTypeInt64}}, []Row{{"x": int64(1)}})
	clone := f.Clone()
	clone.Rows[0]["x"] = int64(99)
	assert.Equal(t, int64(1), f.Rows[0]["x"])
	assert.Equal(t, int64(99), clone.Rows[0]["x"])
}

func TestFrame_Clone_Nil(t *testing.T) {
	var f *Frame
	assert.Nil(t, f.Clone())
}

func TestLit_CollectReturnsWrappedFrame(t *testing.T) {
	f := NewFrame(Schema{{Name: "x", DType: DTypeInt64}}, []Row{{"x": int64(1)}})
	lf := Lit(f)
	got, err := Collect(lf, false)
	require.NoError(t, err)
	assert.Equal(t, f, got)
	assert.Equal(t, f.Schema, CollectSchema(lf))
}

func TestMakeEmpty_CollectsNoRows(t *testing.T) {
	schema := Schema{{Name: "x", DType: DTypeInt64}}
	lf := MakeEmpty(schema)
	got, err := Collect(lf, false)
	require.NoError(t, err)
	assert.Empty(t, got.Rows)
	assert.Equal(t, schema, CollectSchema(lf))
}

func TestChain_AppliesFnAtCollectTime(t *testing.T) {
	base := Lit(NewFrame(Schema{{Name: "x", DType: DTypeInt64}}, []Row{{"x": int64(1)}, {"x": int64(2)}}))
	outSchema := Schema{{Name: "x", DType: DTypeInt64}}
	chained := base.Chain(outSchema, func(f *Frame) (*Frame, error) {
		rows := make([]Row, 0, len(f.Rows))
		for _, r := range f.Rows {
			if r["x"].(int64) > 1 {
				rows = append(rows, r)
			}
		}
		return NewFrame(f.Schema, rows), nil
	})
	got, err := Collect(chained, false)
	require.NoError(t, err)
	assert.Len(t, got.Rows, 1)
	assert.Equal(t, int64(2), got.Rows[0]["x"])
}

func TestChain_PropagatesUpstreamError(t *testing.T) {
	boom := errors.New("boom")
	base := &LazyFrame{eval: func() (*Frame, error) { return nil, boom }}
	chained := base.Chain(nil, func(f *Frame) (*Frame, error) { return f, nil })
	_, err := Collect(chained, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestCollect_NilLazyFrameReturnsEmptyFrame(t *testing.T) {
	f, err := Collect(nil, false)
	require.NoError(t, err)
	assert.NotNil(t, f)
	assert.Empty(t, f.Rows)
}

func TestCollectSchema_Nil(t *testing.T) {
	assert.Nil(t, CollectSchema(nil))
}

func TestSampleTopN_TruncatesRows(t *testing.T) {
	lf := Lit(NewFrame(Schema{{Name: "x", DType: DTypeInt64}}, []Row{{"x": int64(1)}, {"x": int64(2)}, {"x": int64(3)}}))
	f, err := SampleTopN(lf, 2)
	require.NoError(t, err)
	assert.Len(t, f.Rows, 2)
}

func TestSampleTopN_NegativeNKeepsAllRows(t *testing.T) {
	lf := Lit(NewFrame(Schema{{Name: "x", DType: DTypeInt64}}, []Row{{"x": int64(1)}, {"x": int64(2)}}))
	f, err := SampleTopN(lf, -1)
	require.NoError(t, err)
	assert.Len(t, f.Rows, 2)
}

func TestSortedColumnNames(t *testing.T) {
	s := Schema{{Name: "b", DType: DTypeString}, {Name: "a", DType: DTypeString}}
	assert.Equal(t, []string{"a", "b"}, SortedColumnNames(s))
}
