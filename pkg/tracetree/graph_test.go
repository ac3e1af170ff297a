// Unit tests for graph layout
package tracetree

import (
	"fmt"
	"testing"

	"github.com/andrewh/a2atrace/pkg/span"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayoutGraph_Empty(t *testing.T) {
	t.Parallel()
	g := LayoutGraph(nil, DefaultLayout())
	assert.Empty(t, g.Positions)
	assert.Empty(t, g.Edges)
	assert.Equal(t, Rect{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}, g.Bounds)
}

func TestLayoutGraph_ChildrenUnderParent(t *testing.T) {
	t.Parallel()
	h := BuildHierarchy([]span.Span{
		mkSpan("r", "agent.run", "", 0, 100),
		mkSpan("c1", "agent.a", "r", 10, 20),
		mkSpan("c2", "agent.b", "r", 30, 40),
	}, "", "")
	c := DefaultLayout()
	g := LayoutGraph(h.Nodes, c)

	assert.Equal(t, Point{X: 0, Y: 0}, g.Positions["r"])
	assert.Equal(t, Point{X: 0, Y: 60}, g.Positions["c1"])
	assert.Equal(t, Point{X: 155, Y: 60}, g.Positions["c2"], "second child pushed right by width+spacing")

	require.Len(t, g.Edges, 2)
	assert.Equal(t, Edge{From: "r", To: "c1", X1: 70, Y1: 40, X2: 70, Y2: 60}, g.Edges[0])
	assert.Equal(t, Edge{From: "r", To: "c2", X1: 70, Y1: 40, X2: 225, Y2: 60}, g.Edges[1])

	assert.Equal(t, Rect{MinX: -15, MinY: -15, MaxX: 310, MaxY: 115}, g.Bounds)
	assert.Equal(t, []string{"r", "c1", "c2"}, []string{g.Nodes[0].Node.ID(), g.Nodes[1].Node.ID(), g.Nodes[2].Node.ID()})
}

func TestLayoutGraph_RootLevelCentred(t *testing.T) {
	t.Parallel()
	h := setupTree(t)
	filtered := FilterTree(h.Nodes, "agent.run", Promote)
	g := LayoutGraph(filtered, DefaultLayout())

	assert.Equal(t, -77.5, g.Positions["s"].X)
	assert.Equal(t, 77.5, g.Positions["w"].X)
	assert.Equal(t, 0.0, g.Positions["s"].Y)
}

func TestLayoutGraph_CollisionShiftsFollowers(t *testing.T) {
	t.Parallel()
	// r has children a and b; a has children a1, a2; b has child b1.
	// a1, a2 start under a, b1 under b, so b1 must move past a2.
	h := BuildHierarchy([]span.Span{
		mkSpan("r", "agent.run", "", 0, 100),
		mkSpan("a", "agent.a", "r", 1, 50),
		mkSpan("b", "agent.b", "r", 2, 50),
		mkSpan("a1", "agent.a1", "a", 3, 10),
		mkSpan("a2", "agent.a2", "a", 4, 10),
		mkSpan("b1", "agent.b1", "b", 5, 10),
	}, "", "")
	g := LayoutGraph(h.Nodes, DefaultLayout())

	assert.Equal(t, 0.0, g.Positions["a"].X)
	assert.Equal(t, 155.0, g.Positions["b"].X)
	assert.Equal(t, 0.0, g.Positions["a1"].X)
	assert.Equal(t, 155.0, g.Positions["a2"].X)
	assert.Equal(t, 310.0, g.Positions["b1"].X)
	assert.Equal(t, 120.0, g.Positions["b1"].Y)
}

func TestLayoutGraph_FractionalConstantsKeepGap(t *testing.T) {
	t.Parallel()
	spans := []span.Span{mkSpan("r", "agent.run", "", 0, 100)}
	for i := range 7 {
		spans = append(spans, mkSpan(fmt.Sprintf("c%d", i), "agent.step", "r", i+1, i+2))
	}
	h := BuildHierarchy(spans, "", "")
	c := LayoutConstants{NodeWidth: 1.1, NodeHeight: 1, LevelHeight: 2, Spacing: 2.2, Padding: 0.5}
	g := LayoutGraph(h.Nodes, c)

	var xs []float64
	for _, p := range g.Nodes {
		if p.Level == 1 {
			xs = append(xs, p.X)
		}
	}
	require.Len(t, xs, 7)
	for i := 1; i < len(xs); i++ {
		assert.GreaterOrEqual(t, xs[i]-xs[i-1], c.NodeWidth+c.Spacing, "gap between c%d and c%d", i-1, i)
	}
}

func TestLayoutGraph_Deterministic(t *testing.T) {
	t.Parallel()
	h := setupTree(t)
	a := LayoutGraph(h.Nodes, DefaultLayout())
	b := LayoutGraph(h.Nodes, DefaultLayout())
	assert.Equal(t, a.Positions, b.Positions)
	assert.Equal(t, a.Edges, b.Edges)
	assert.Equal(t, a.Bounds, b.Bounds)
}

func TestLayoutGraph_OrphanLevelUsesCursor(t *testing.T) {
	t.Parallel()
	h := setupTree(t)
	nodes := byID(h.Nodes)
	// Depth-1 and depth-2 nodes without their parents present.
	filtered := FilterTree([]*Node{nodes["s1"], nodes["w1"], nodes["w"]}, "", DropSubtree)
	g := LayoutGraph(filtered, DefaultLayout())
	// s1 and w1 are depth 1 after the shift, w depth 0.
	assert.Equal(t, 0.0, g.Positions["w"].X)
	assert.Equal(t, 0.0, g.Positions["s1"].X, "no parent placed: first cursor slot")
	assert.Equal(t, 155.0, g.Positions["w1"].X, "under w, then pushed past s1")
}
