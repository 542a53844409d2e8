package codegen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func analyze(t *testing.T, src string) *FlowfileUsageAnalysis {
	t.Helper()
	prog, err := Parse(src)
	require.NoError(t, err)
	return AnalyzeUsage(prog)
}

func TestAnalyzeUsage_SingleInputPassthrough(t *testing.T) {
	a := analyze(t, "df = flowfile.read_input()\nflowfile.publish_output(df)")
	assert.Equal(t, InputModeSingle, a.InputMode)
	assert.True(t, a.HasReadInput)
	assert.True(t, a.HasOutput)
}

func TestAnalyzeUsage_DirectPassthroughOutput(t *testing.T) {
	a := analyze(t, "flowfile.publish_output(input_df)")
	assert.True(t, a.PassthroughOutput)
}

func TestAnalyzeUsage_NestedReadInputCallIsPassthrough(t *testing.T) {
	a := analyze(t, "flowfile.publish_output(flowfile.read_input())")
	assert.True(t, a.PassthroughOutput)
	assert.True(t, a.HasReadInput)
}

func TestAnalyzeUsage_MultiInput(t *testing.T) {
	a := analyze(t, "all_inputs = flowfile.read_inputs()")
	assert.Equal(t, InputModeMulti, a.InputMode)
	assert.True(t, a.HasReadInputs)
}

func TestAnalyzeUsage_ArtifactPublishConsumeDelete(t *testing.T) {
	a := analyze(t, strings.Join([]string{
		`flowfile.publish_artifact("model", trained)`,
		`m = flowfile.read_artifact("model")`,
		`flowfile.delete_artifact("model")`,
	}, "\n"))
	assert.Equal(t, []string{"model"}, a.ArtifactsPublished)
	assert.Equal(t, []string{"model"}, a.ArtifactsConsumed)
	assert.Equal(t, []string{"model"}, a.ArtifactsDeleted)
	assert.False(t, a.DynamicArtifactNames)
}

func TestAnalyzeUsage_DynamicArtifactName(t *testing.T) {
	a := analyze(t, `flowfile.publish_artifact(artifact_name, trained)`)
	assert.True(t, a.DynamicArtifactNames)
}

func TestAnalyzeUsage_Logging(t *testing.T) {
	a := analyze(t, `flowfile.log_warning("careful")`)
	assert.True(t, a.HasLogging)
}

func TestAnalyzeUsage_ListArtifacts(t *testing.T) {
	a := analyze(t, `names = flowfile.list_artifacts()`)
	assert.True(t, a.HasListArtifacts)
}

func TestAnalyzeUsage_UnsupportedCall(t *testing.T) {
	a := analyze(t, `flowfile.display(df)`)
	assert.Contains(t, a.UnsupportedCalls, "display")
}

func TestAnalyzeUsage_UnsupportedCallInsideRawBlock(t *testing.T) {
	a := analyze(t, "if debug:\n    flowfile.display(df)\n")
	assert.Contains(t, a.UnsupportedCalls, "display")
}
