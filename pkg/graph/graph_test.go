package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph/graphengine/pkg/dataframe"
	"github.com/flowgraph/graphengine/pkg/models"
)

func newTestGraph(t *testing.T) *Graph {
	t.Helper()
	return NewGraph("flow-1", models.FlowSettings{
		ExecutionMode:     models.ExecutionModeDevelopment,
		ExecutionLocation: models.ExecutionLocationLocal,
	}, nil)
}

func addManualInput(t *testing.T, g *Graph, id string, rows []dataframe.Row, schema []string) {
	t.Helper()
	_, err := g.AddNodePromise(id, "manual_input")
	require.NoError(t, err)
	require.NoError(t, g.AddNode(id, &ManualInputSettings{
		Rows:   rows,
		Schema: schemaOf(schema...),
	}))
}

func TestGraph_AddNodePromiseThenCommitSettings(t *testing.T) {
	g := newTestGraph(t)
	node, err := g.AddNodePromise("n1", "select")
	require.NoError(t, err)
	assert.True(t, node.IsPromise())

	require.NoError(t, g.AddNode("n1", &SelectSettings{Columns: nil}))
	n, ok := g.Node("n1")
	require.True(t, ok)
	assert.False(t, n.IsPromise())
}

func TestGraph_AddNodePromise_UnknownTypeRejected(t *testing.T) {
	g := newTestGraph(t)
	_, err := g.AddNodePromise("n1", "not_a_real_type")
	assert.ErrorIs(t, err, models.ErrInvalidNodeType)
}

func TestGraph_AddEdge_RejectsCycle(t *testing.T) {
	g := newTestGraph(t)
	addManualInput(t, g, "a", nil, []string{"id"})
	_, err := g.AddNodePromise("b", "select")
	require.NoError(t, err)
	require.NoError(t, g.AddNode("b", &SelectSettings{}))

	require.NoError(t, g.AddEdge("a", "b", models.InputSlotMain))
	err = g.AddEdge("b", "a", models.InputSlotMain)
	assert.ErrorIs(t, err, models.ErrCyclicDependency)
}

func TestGraph_AddEdge_RejectsSelfLoop(t *testing.T) {
	g := newTestGraph(t)
	addManualInput(t, g, "a", nil, []string{"id"})
	err := g.AddEdge("a", "a", models.InputSlotMain)
	assert.ErrorIs(t, err, models.ErrCyclicDependency)
}

func TestGraph_NodeIsCorrect_RequiresArity(t *testing.T) {
	g := newTestGraph(t)
	_, err := g.AddNodePromise("sel", "select")
	require.NoError(t, err)
	require.NoError(t, g.AddNode("sel", &SelectSettings{}))

	n, _ := g.Node("sel")
	assert.False(t, n.IsCorrect(), "select with no input should not be correct")

	addManualInput(t, g, "src", nil, []string{"id"})
	require.NoError(t, g.AddEdge("src", "sel", models.InputSlotMain))
	assert.True(t, n.IsCorrect())
}

func TestGraph_DeleteEdge_ResetsTarget(t *testing.T) {
	g := newTestGraph(t)
	addManualInput(t, g, "src", nil, []string{"id"})
	_, err := g.AddNodePromise("sel", "select")
	require.NoError(t, err)
	require.NoError(t, g.AddNode("sel", &SelectSettings{}))
	require.NoError(t, g.AddEdge("src", "sel", models.InputSlotMain))

	n, _ := g.Node("sel")
	n.SetStatus(NodeStatusComplete)
	n.SetCachedResultKey("somehash")

	require.NoError(t, g.DeleteEdge("src", "sel", models.InputSlotMain))
	assert.Equal(t, NodeStatusNotRun, n.Status())
	assert.Empty(t, n.CachedResultKey())
	assert.False(t, n.IsCorrect())
}

func TestGraph_DeleteNode_ResetsDownstream(t *testing.T) {
	g := newTestGraph(t)
	addManualInput(t, g, "src", nil, []string{"id"})
	_, err := g.AddNodePromise("sel", "select")
	require.NoError(t, err)
	require.NoError(t, g.AddNode("sel", &SelectSettings{}))
	require.NoError(t, g.AddEdge("src", "sel", models.InputSlotMain))

	sel, _ := g.Node("sel")
	sel.SetStatus(NodeStatusComplete)

	require.NoError(t, g.DeleteNode("src"))
	_, ok := g.Node("src")
	assert.False(t, ok)
	assert.Equal(t, NodeStatusNotRun, sel.Status())
	assert.Empty(t, g.ParentIDs("sel"))
}

func TestGraph_ComputeHash_DeterministicForSameSettings(t *testing.T) {
	g := newTestGraph(t)
	addManualInput(t, g, "src", nil, []string{"id"})

	h1, err := g.ComputeHash("src")
	require.NoError(t, err)
	h2, err := g.ComputeHash("src")
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestGraph_SettingsChange_ResetsTransitively(t *testing.T) {
	g := newTestGraph(t)
	addManualInput(t, g, "src", nil, []string{"id"})
	_, err := g.AddNodePromise("sel", "select")
	require.NoError(t, err)
	require.NoError(t, g.AddNode("sel", &SelectSettings{}))
	require.NoError(t, g.AddEdge("src", "sel", models.InputSlotMain))

	sel, _ := g.Node("sel")
	sel.SetStatus(NodeStatusComplete)

	require.NoError(t, g.AddNode("src", &ManualInputSettings{Schema: schemaOf("id", "name")}))
	assert.Equal(t, NodeStatusNotRun, sel.Status())
}

func TestGraph_HistoryCapturesOnMutation(t *testing.T) {
	g := newTestGraph(t)
	addManualInput(t, g, "src", nil, []string{"id"})
	assert.GreaterOrEqual(t, g.History().Len(), 1)
}
