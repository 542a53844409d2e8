package codegen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateArtifactUsage_OrderedPublishThenConsumeOK(t *testing.T) {
	nodes := []ScriptNode{
		{NodeID: "a", KernelID: "k1", Usage: &FlowfileUsageAnalysis{ArtifactsPublished: []string{"model"}}},
		{NodeID: "b", KernelID: "k1", Usage: &FlowfileUsageAnalysis{ArtifactsConsumed: []string{"model"}}, DependsOn: []string{"a"}},
	}
	assert.NoError(t, ValidateArtifactUsage(nodes))
}

func TestValidateArtifactUsage_ConsumeBeforePublishFails(t *testing.T) {
	nodes := []ScriptNode{
		{NodeID: "a", KernelID: "k1", Usage: &FlowfileUsageAnalysis{ArtifactsConsumed: []string{"model"}}},
		{NodeID: "b", KernelID: "k1", Usage: &FlowfileUsageAnalysis{ArtifactsPublished: []string{"model"}}, DependsOn: []string{"a"}},
	}
	err := ValidateArtifactUsage(nodes)
	assert.Error(t, err)
}

func TestValidateArtifactUsage_DifferentKernelsDoNotShareArtifacts(t *testing.T) {
	nodes := []ScriptNode{
		{NodeID: "a", KernelID: "k1", Usage: &FlowfileUsageAnalysis{ArtifactsPublished: []string{"model"}}},
		{NodeID: "b", KernelID: "k2", Usage: &FlowfileUsageAnalysis{ArtifactsConsumed: []string{"model"}}, DependsOn: []string{"a"}},
	}
	err := ValidateArtifactUsage(nodes)
	assert.Error(t, err)
}

func TestValidateArtifactUsage_DynamicNameSkipsStaticCheck(t *testing.T) {
	nodes := []ScriptNode{
		{NodeID: "a", KernelID: "k1", Usage: &FlowfileUsageAnalysis{ArtifactsConsumed: []string{"whatever"}, DynamicArtifactNames: true}},
	}
	assert.NoError(t, ValidateArtifactUsage(nodes))
}

func TestValidateArtifactUsage_CycleIsError(t *testing.T) {
	nodes := []ScriptNode{
		{NodeID: "a", Usage: &FlowfileUsageAnalysis{}, DependsOn: []string{"b"}},
		{NodeID: "b", Usage: &FlowfileUsageAnalysis{}, DependsOn: []string{"a"}},
	}
	err := ValidateArtifactUsage(nodes)
	assert.Error(t, err)
}
