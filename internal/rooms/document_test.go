package rooms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hai2k2yt/flowsync/internal/models"
)

func testNode(id string, x, y float64) models.Node {
	return models.Node{ID: id, Type: "default", Position: models.XY{X: x, Y: y}}
}

func testEdge(id, source, target string) models.Edge {
	return models.Edge{ID: id, Source: source, Target: target}
}

func testFlow(nodes []models.Node, edges []models.Edge) models.FlowData {
	return models.FlowData{Nodes: nodes, Edges: edges}
}

func nodeIDs(flow models.FlowData) []string {
	ids := make([]string, 0, len(flow.Nodes))
	for _, n := range flow.Nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

func edgeIDs(flow models.FlowData) []string {
	ids := make([]string, 0, len(flow.Edges))
	for _, e := range flow.Edges {
		ids = append(ids, e.ID)
	}
	return ids
}

func boolPtr(b bool) *bool { return &b }

// TestNewDocument tests building the indexed working copy from flow data
func TestNewDocument(t *testing.T) {
	t.Run("preserves insertion order through a round trip", func(t *testing.T) {
		flow := testFlow(
			[]models.Node{testNode("n1", 0, 0), testNode("n2", 10, 10), testNode("n3", 20, 20)},
			[]models.Edge{testEdge("e1", "n1", "n2"), testEdge("e2", "n2", "n3")},
		)
		doc := newDocument(flow)
		out := doc.flowData()
		assert.Equal(t, []string{"n1", "n2", "n3"}, nodeIDs(out))
		assert.Equal(t, []string{"e1", "e2"}, edgeIDs(out))
	})

	t.Run("first occurrence wins on duplicate ids", func(t *testing.T) {
		dup := testNode("n1", 99, 99)
		flow := testFlow(
			[]models.Node{testNode("n1", 0, 0), dup},
			[]models.Edge{testEdge("e1", "n1", "n1"), testEdge("e1", "n1", "n1")},
		)
		doc := newDocument(flow)
		out := doc.flowData()
		require.Len(t, out.Nodes, 1)
		assert.Equal(t, 0.0, out.Nodes[0].Position.X)
		assert.Len(t, out.Edges, 1)
	})

	t.Run("carries the viewport opaquely", func(t *testing.T) {
		vp := &models.Viewport{X: 1, Y: 2, Zoom: 0.5}
		flow := models.FlowData{Viewport: vp}
		doc := newDocument(flow)
		assert.Equal(t, vp, doc.flowData().Viewport)
	})
}

// TestDocumentClone tests that clones are isolated from their source
func TestDocumentClone(t *testing.T) {
	flow := testFlow(
		[]models.Node{testNode("n1", 0, 0), testNode("n2", 10, 10)},
		[]models.Edge{testEdge("e1", "n1", "n2")},
	)
	doc := newDocument(flow)
	cl := doc.clone()

	ok := cl.applyNodeChange(models.NodeChange{Type: models.NodeChangeRemove, ID: "n2"})
	require.True(t, ok)
	require.True(t, cl.applyNodeChange(models.NodeChange{
		Type: models.NodeChangeAdd,
		Item: &models.Node{ID: "n3", Position: models.XY{X: 5, Y: 5}},
	}))

	assert.Equal(t, []string{"n1", "n3"}, nodeIDs(cl.flowData()))
	assert.Empty(t, cl.flowData().Edges, "removing n2 should prune its edge in the clone")

	original := doc.flowData()
	assert.Equal(t, []string{"n1", "n2"}, nodeIDs(original))
	assert.Equal(t, []string{"e1"}, edgeIDs(original))
}

// TestReplaceNodes tests whole-collection node swaps and edge pruning
func TestReplaceNodes(t *testing.T) {
	t.Run("prunes edges whose endpoints vanish", func(t *testing.T) {
		doc := newDocument(testFlow(
			[]models.Node{testNode("n1", 0, 0), testNode("n2", 1, 1), testNode("n3", 2, 2)},
			[]models.Edge{testEdge("e1", "n1", "n2"), testEdge("e2", "n2", "n3"), testEdge("e3", "n1", "n3")},
		))
		pruned := doc.replaceNodes([]models.Node{testNode("n1", 0, 0), testNode("n3", 2, 2)})
		assert.Equal(t, 2, pruned)
		out := doc.flowData()
		assert.Equal(t, []string{"n1", "n3"}, nodeIDs(out))
		assert.Equal(t, []string{"e3"}, edgeIDs(out))
	})

	t.Run("drops duplicate ids in the replacement", func(t *testing.T) {
		doc := newDocument(testFlow(nil, nil))
		doc.replaceNodes([]models.Node{testNode("n1", 0, 0), testNode("n1", 9, 9)})
		out := doc.flowData()
		require.Len(t, out.Nodes, 1)
		assert.Equal(t, 0.0, out.Nodes[0].Position.X)
	})

	t.Run("empty replacement clears everything", func(t *testing.T) {
		doc := newDocument(testFlow(
			[]models.Node{testNode("n1", 0, 0), testNode("n2", 1, 1)},
			[]models.Edge{testEdge("e1", "n1", "n2")},
		))
		pruned := doc.replaceNodes(nil)
		assert.Equal(t, 1, pruned)
		out := doc.flowData()
		assert.Empty(t, out.Nodes)
		assert.Empty(t, out.Edges)
	})
}

// TestReplaceEdges tests whole-collection edge swaps
func TestReplaceEdges(t *testing.T) {
	doc := newDocument(testFlow(
		[]models.Node{testNode("n1", 0, 0), testNode("n2", 1, 1)},
		[]models.Edge{testEdge("e0", "n1", "n2")},
	))

	dropped := doc.replaceEdges([]models.Edge{
		testEdge("e1", "n1", "n2"),
		testEdge("e1", "n2", "n1"),
		testEdge("e2", "n1", "ghost"),
	})
	assert.Equal(t, 2, dropped, "one duplicate id and one dead endpoint")
	assert.Equal(t, []string{"e1"}, edgeIDs(doc.flowData()))
}

// TestApplyNodeChange tests each granular node mutation variant
func TestApplyNodeChange(t *testing.T) {
	base := func() *document {
		return newDocument(testFlow(
			[]models.Node{testNode("n1", 0, 0), testNode("n2", 10, 10)},
			[]models.Edge{testEdge("e1", "n1", "n2")},
		))
	}

	t.Run("add appends a new node", func(t *testing.T) {
		doc := base()
		ok := doc.applyNodeChange(models.NodeChange{
			Type: models.NodeChangeAdd,
			Item: &models.Node{ID: "n3", Position: models.XY{X: 5, Y: 5}},
		})
		require.True(t, ok)
		assert.Equal(t, []string{"n1", "n2", "n3"}, nodeIDs(doc.flowData()))
	})

	t.Run("add refuses an existing id", func(t *testing.T) {
		doc := base()
		ok := doc.applyNodeChange(models.NodeChange{
			Type: models.NodeChangeAdd,
			Item: &models.Node{ID: "n1"},
		})
		assert.False(t, ok)
	})

	t.Run("add refuses a nil or unnamed item", func(t *testing.T) {
		doc := base()
		assert.False(t, doc.applyNodeChange(models.NodeChange{Type: models.NodeChangeAdd}))
		assert.False(t, doc.applyNodeChange(models.NodeChange{Type: models.NodeChangeAdd, Item: &models.Node{}}))
	})

	t.Run("remove deletes the node and prunes incident edges", func(t *testing.T) {
		doc := base()
		ok := doc.applyNodeChange(models.NodeChange{Type: models.NodeChangeRemove, ID: "n2"})
		require.True(t, ok)
		out := doc.flowData()
		assert.Equal(t, []string{"n1"}, nodeIDs(out))
		assert.Empty(t, out.Edges)
	})

	t.Run("remove reports false for a missing id", func(t *testing.T) {
		doc := base()
		assert.False(t, doc.applyNodeChange(models.NodeChange{Type: models.NodeChangeRemove, ID: "ghost"}))
	})

	t.Run("replace with the same id swaps the payload in place", func(t *testing.T) {
		doc := base()
		ok := doc.applyNodeChange(models.NodeChange{
			Type: models.NodeChangeReplace,
			ID:   "n1",
			Item: &models.Node{ID: "n1", Type: "special", Position: models.XY{X: 7, Y: 7}},
		})
		require.True(t, ok)
		out := doc.flowData()
		assert.Equal(t, []string{"n1", "n2"}, nodeIDs(out))
		assert.Equal(t, "special", out.Nodes[0].Type)
		assert.Equal(t, []string{"e1"}, edgeIDs(out), "same-id replace keeps edges alive")
	})

	t.Run("replace with a new id keeps the order slot and prunes old edges", func(t *testing.T) {
		doc := base()
		ok := doc.applyNodeChange(models.NodeChange{
			Type: models.NodeChangeReplace,
			ID:   "n1",
			Item: &models.Node{ID: "n9", Position: models.XY{X: 7, Y: 7}},
		})
		require.True(t, ok)
		out := doc.flowData()
		assert.Equal(t, []string{"n9", "n2"}, nodeIDs(out))
		assert.Empty(t, out.Edges, "edges referencing the old id are pruned")
	})

	t.Run("replace refuses a missing target or a taken id", func(t *testing.T) {
		doc := base()
		assert.False(t, doc.applyNodeChange(models.NodeChange{
			Type: models.NodeChangeReplace,
			ID:   "ghost",
			Item: &models.Node{ID: "ghost"},
		}))
		assert.False(t, doc.applyNodeChange(models.NodeChange{
			Type: models.NodeChangeReplace,
			ID:   "n1",
			Item: &models.Node{ID: "n2"},
		}))
	})

	t.Run("position updates coordinates and optional absolute", func(t *testing.T) {
		doc := base()
		ok := doc.applyNodeChange(models.NodeChange{
			Type:             models.NodeChangePosition,
			ID:               "n1",
			Position:         &models.XY{X: 42, Y: 43},
			PositionAbsolute: &models.XY{X: 142, Y: 143},
		})
		require.True(t, ok)
		n := doc.flowData().Nodes[0]
		assert.Equal(t, models.XY{X: 42, Y: 43}, n.Position)
		require.NotNil(t, n.PositionAbsolute)
		assert.Equal(t, models.XY{X: 142, Y: 143}, *n.PositionAbsolute)
	})

	t.Run("position refuses a nil payload", func(t *testing.T) {
		doc := base()
		assert.False(t, doc.applyNodeChange(models.NodeChange{Type: models.NodeChangePosition, ID: "n1"}))
	})

	t.Run("dimensions updates width and height", func(t *testing.T) {
		doc := base()
		ok := doc.applyNodeChange(models.NodeChange{
			Type:       models.NodeChangeDimensions,
			ID:         "n2",
			Dimensions: &models.Dimensions{Width: 200, Height: 100},
		})
		require.True(t, ok)
		n := doc.flowData().Nodes[1]
		assert.Equal(t, 200.0, n.Width)
		assert.Equal(t, 100.0, n.Height)
	})

	t.Run("select toggles the flag", func(t *testing.T) {
		doc := base()
		require.True(t, doc.applyNodeChange(models.NodeChange{
			Type:     models.NodeChangeSelect,
			ID:       "n1",
			Selected: boolPtr(true),
		}))
		assert.True(t, doc.flowData().Nodes[0].Selected)
	})

	t.Run("unknown variant reports false", func(t *testing.T) {
		doc := base()
		assert.False(t, doc.applyNodeChange(models.NodeChange{Type: "teleport", ID: "n1"}))
	})
}

// TestApplyEdgeChange tests each granular edge mutation variant
func TestApplyEdgeChange(t *testing.T) {
	base := func() *document {
		return newDocument(testFlow(
			[]models.Node{testNode("n1", 0, 0), testNode("n2", 10, 10), testNode("n3", 20, 20)},
			[]models.Edge{testEdge("e1", "n1", "n2")},
		))
	}

	t.Run("add appends an edge with live endpoints", func(t *testing.T) {
		doc := base()
		ok := doc.applyEdgeChange(models.EdgeChange{
			Type: models.EdgeChangeAdd,
			Item: &models.Edge{ID: "e2", Source: "n2", Target: "n3"},
		})
		require.True(t, ok)
		assert.Equal(t, []string{"e1", "e2"}, edgeIDs(doc.flowData()))
	})

	t.Run("add refuses a dead endpoint or duplicate id", func(t *testing.T) {
		doc := base()
		assert.False(t, doc.applyEdgeChange(models.EdgeChange{
			Type: models.EdgeChangeAdd,
			Item: &models.Edge{ID: "e2", Source: "n1", Target: "ghost"},
		}))
		assert.False(t, doc.applyEdgeChange(models.EdgeChange{
			Type: models.EdgeChangeAdd,
			Item: &models.Edge{ID: "e1", Source: "n1", Target: "n2"},
		}))
	})

	t.Run("remove deletes the edge", func(t *testing.T) {
		doc := base()
		require.True(t, doc.applyEdgeChange(models.EdgeChange{Type: models.EdgeChangeRemove, ID: "e1"}))
		assert.Empty(t, doc.flowData().Edges)
		assert.False(t, doc.applyEdgeChange(models.EdgeChange{Type: models.EdgeChangeRemove, ID: "e1"}))
	})

	t.Run("replace swaps payload or id", func(t *testing.T) {
		doc := base()
		require.True(t, doc.applyEdgeChange(models.EdgeChange{
			Type: models.EdgeChangeReplace,
			ID:   "e1",
			Item: &models.Edge{ID: "e1", Source: "n1", Target: "n3", Label: "rerouted"},
		}))
		assert.Equal(t, "n3", doc.flowData().Edges[0].Target)

		require.True(t, doc.applyEdgeChange(models.EdgeChange{
			Type: models.EdgeChangeReplace,
			ID:   "e1",
			Item: &models.Edge{ID: "e9", Source: "n1", Target: "n2"},
		}))
		assert.Equal(t, []string{"e9"}, edgeIDs(doc.flowData()))
	})

	t.Run("replace refuses dead endpoints", func(t *testing.T) {
		doc := base()
		assert.False(t, doc.applyEdgeChange(models.EdgeChange{
			Type: models.EdgeChangeReplace,
			ID:   "e1",
			Item: &models.Edge{ID: "e1", Source: "ghost", Target: "n2"},
		}))
	})

	t.Run("select toggles the flag", func(t *testing.T) {
		doc := base()
		require.True(t, doc.applyEdgeChange(models.EdgeChange{
			Type:     models.EdgeChangeSelect,
			ID:       "e1",
			Selected: boolPtr(true),
		}))
		assert.True(t, doc.flowData().Edges[0].Selected)
	})
}
