package codegen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_SingleInputPassthroughWithLogging(t *testing.T) {
	source := strings.Join([]string{
		"import flowfile",
		"import polars as pl",
		`df = flowfile.read_input()`,
		`flowfile.log_info("starting")`,
		"flowfile.publish_output(df)",
	}, "\n")

	fn, err := Compile("3", source, "k1", []string{"upstream_2"})
	require.NoError(t, err)

	assert.Contains(t, fn.FuncDef, "def _node_3(input_df: pl.LazyFrame")
	assert.Contains(t, fn.FuncDef, "df = input_df")
	assert.Contains(t, fn.FuncDef, `print(f"[INFO]`)
	assert.Contains(t, fn.FuncDef, "return input_df")
	assert.True(t, fn.Usage.PassthroughOutput)
	assert.Equal(t, "_node_3_3 = _node_3(upstream_2, _artifacts=_artifacts)", fn.CallSite)
	assert.Equal(t, []string{"import polars as pl"}, fn.Imports)
}

func TestCompile_DirectPassthroughIsDetected(t *testing.T) {
	source := "flowfile.read_input()\nflowfile.publish_output(input_df)"
	fn, err := Compile("4", source, "", nil)
	require.NoError(t, err)
	assert.True(t, fn.Usage.PassthroughOutput)
}

func TestCompile_NestedReadInputPassthroughReturnsInputDf(t *testing.T) {
	source := "flowfile.publish_output(flowfile.read_input())"
	fn, err := Compile("6", source, "", nil)
	require.NoError(t, err)
	assert.True(t, fn.Usage.PassthroughOutput)
	assert.Contains(t, fn.FuncDef, "return input_df")
	assert.NotContains(t, fn.FuncDef, ".lazy()")
}

func TestCompile_ArtifactPublishBecomesKernelAssignment(t *testing.T) {
	source := `flowfile.publish_artifact("model", fit(X, y))`
	fn, err := Compile("5", source, "kernel-a", nil)
	require.NoError(t, err)
	assert.Contains(t, fn.FuncDef, `_artifacts["kernel-a"]["model"] = fit(X, y)`)
	assert.Equal(t, []string{"model"}, fn.Usage.ArtifactsPublished)
}

func TestCompile_CompoundStatementIsKeptVerbatimAndFlagged(t *testing.T) {
	source := "for row in rows:\n    flowfile.display(row)\n"
	fn, err := Compile("1", source, "", nil)
	require.NoError(t, err)
	assert.Contains(t, fn.FuncDef, "for row in rows:")
	assert.Contains(t, fn.Usage.UnsupportedCalls, "display")
	assert.Contains(t, fn.FuncDef, "# warning: flowfile.display() is not supported")
}
