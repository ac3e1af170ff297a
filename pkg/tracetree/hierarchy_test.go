// Unit tests for hierarchy reconstruction
// Covers parent resolution, root selection, cycle truncation and offsets
package tracetree

import (
	"testing"

	"github.com/andrewh/a2atrace/pkg/span"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Scenario A.
func TestBuildHierarchy_SimpleTree(t *testing.T) {
	t.Parallel()
	spans := []span.Span{
		mkSpan("c2", "agent.tool", "r", 50, 90),
		mkSpan("r", "agent.run", "", 0, 100),
		mkSpan("c1", "agent.tool", "r", 10, 40),
	}
	h := BuildHierarchy(spans, "", "")
	require.NotNil(t, h.Root)
	assert.Equal(t, "r", h.Root.ID())
	assert.Equal(t, RootEarliest, h.Rule)
	assert.Equal(t, []string{"r", "c1", "c2"}, ids(h.Nodes))
	assert.Equal(t, []string{"c1", "c2"}, ids(h.Root.Children))

	nodes := byID(h.Nodes)
	assert.Equal(t, 0, nodes["r"].Depth)
	assert.Equal(t, 1, nodes["c1"].Depth)
	assert.Equal(t, 1, nodes["c2"].Depth)
	assert.Same(t, h.Root, nodes["c1"].Parent())
	assert.Nil(t, h.Root.Parent())
}

// Scenario B: a parent reference that only matches a backend span id.
func TestBuildHierarchy_ContextSpanIDFallback(t *testing.T) {
	t.Parallel()
	y := mkSpan("y", "agent.run", "", 0, 100)
	y.Context.SpanID = "p-ext"
	x := mkSpan("x", "agent.tool", "p-ext", 10, 20)

	h := BuildHierarchy([]span.Span{x, y}, "", "")
	require.NotNil(t, h.Root)
	assert.Equal(t, "y", h.Root.ID())
	assert.Equal(t, []string{"y", "x"}, ids(h.Nodes))
	assert.Empty(t, h.Orphans)
}

func TestBuildHierarchy_IDLookupWinsOverContextID(t *testing.T) {
	t.Parallel()
	a := mkSpan("a", "agent.a", "", 0, 100)
	b := mkSpan("b", "agent.b", "", 0, 100)
	b.Context.SpanID = "a" // collides with a's batch id
	c := mkSpan("c", "agent.c", "a", 10, 20)

	h := BuildHierarchy([]span.Span{a, b, c}, "", "")
	require.NotNil(t, h.Root)
	assert.Equal(t, "a", h.Root.ID())
	assert.Equal(t, []string{"a", "c"}, ids(h.Nodes))
}

// Scenario D: no entry span, nothing correlated, earliest root-level span wins.
func TestBuildHierarchy_FallbackEarliest(t *testing.T) {
	t.Parallel()
	spans := []span.Span{
		mkSpan("late", "agent.run", "", 50, 60),
		mkSpan("early", "agent.run", "", 5, 90),
		mkSpan("child", "agent.tool", "late", 52, 55),
	}
	h := BuildHierarchy(spans, "sess-1", "a2a.server.Handler.run")
	require.NotNil(t, h.Root)
	assert.Equal(t, "early", h.Root.ID())
	assert.Equal(t, RootEarliest, h.Rule)
	assert.Equal(t, []string{"early"}, ids(h.Nodes), "spans outside the root subtree are excluded")
}

func TestBuildHierarchy_EntrySpanPreferred(t *testing.T) {
	t.Parallel()
	entry := "a2a.server.Handler.run"
	spans := []span.Span{
		withSession(mkSpan("top", "http.request", "", 0, 100), "session_id", "s1"),
		mkSpan("entry", entry, "top", 10, 90),
		mkSpan("tool", "agent.tool", "entry", 20, 30),
		mkSpan("sibling", "agent.other", "top", 91, 95),
	}
	h := BuildHierarchy(spans, "s1", entry)
	require.NotNil(t, h.Root)
	assert.Equal(t, "entry", h.Root.ID())
	assert.Equal(t, RootEntrySpan, h.Rule)
	assert.Nil(t, h.Root.Parent(), "the canonical root has no parent")
	assert.Equal(t, 0, h.Root.Depth)
	assert.Equal(t, []string{"entry", "tool"}, ids(h.Nodes))
	assert.Equal(t, at(0), h.Start, "bounds cover the whole trace")
	assert.Equal(t, at(100), h.End)
}

func TestBuildHierarchy_EntrySpanFirstInInputOrder(t *testing.T) {
	t.Parallel()
	entry := "a2a.server.Handler.run"
	spans := []span.Span{
		mkSpan("listed-first", entry, "", 20, 30),
		mkSpan("starts-first", entry, "", 10, 30),
	}
	h := BuildHierarchy(spans, "", entry)
	require.NotNil(t, h.Root)
	assert.Equal(t, "listed-first", h.Root.ID())
	assert.Equal(t, RootEntrySpan, h.Rule)
}

func TestBuildHierarchy_CorrelatedRootFirstInInputOrder(t *testing.T) {
	t.Parallel()
	spans := []span.Span{
		withSession(mkSpan("a", "agent.run", "gone", 50, 60), "session_id", "k"),
		withSession(mkSpan("b", "agent.run", "gone", 10, 60), "session_id", "k"),
	}
	h := BuildHierarchy(spans, "k", "")
	require.NotNil(t, h.Root)
	assert.Equal(t, "a", h.Root.ID(), "later-starting span listed first wins")
	assert.Equal(t, RootCorrelated, h.Rule)
}

func TestBuildHierarchy_CorrelatedRootPreferred(t *testing.T) {
	t.Parallel()
	spans := []span.Span{
		mkSpan("early", "agent.run", "", 0, 10),
		withSession(mkSpan("late", "agent.run", "", 20, 30), "sessionId", "s1"),
		withSession(mkSpan("later", "agent.run", "", 25, 30), "session.id", "s1"),
		withSession(mkSpan("child", "agent.tool", "early", 1, 2), "session_id", "s1"),
	}
	h := BuildHierarchy(spans, "s1", "")
	require.NotNil(t, h.Root)
	assert.Equal(t, "late", h.Root.ID(), "first correlated root-level span in input order")
	assert.Equal(t, RootCorrelated, h.Rule)
	assert.True(t, h.Root.Correlated)
}

func TestBuildHierarchy_OrphanBecomesRootLevel(t *testing.T) {
	t.Parallel()
	spans := []span.Span{
		mkSpan("orphan", "agent.tool", "missing", 0, 10),
		mkSpan("root", "agent.run", "", 5, 50),
	}
	h := BuildHierarchy(spans, "", "")
	require.NotNil(t, h.Root)
	assert.Equal(t, "orphan", h.Root.ID(), "orphan is root-level and starts first")
	assert.Equal(t, []string{"orphan"}, h.Orphans)
}

func TestBuildHierarchy_SelfParentIsOrphan(t *testing.T) {
	t.Parallel()
	h := BuildHierarchy([]span.Span{mkSpan("a", "agent.run", "a", 0, 10)}, "", "")
	require.NotNil(t, h.Root)
	assert.Equal(t, "a", h.Root.ID())
	assert.Empty(t, h.Root.Children)
	assert.Equal(t, []string{"a"}, h.Orphans)
}

func TestBuildHierarchy_FullCycleHasNoRoot(t *testing.T) {
	t.Parallel()
	spans := []span.Span{
		mkSpan("a", "agent.a", "b", 0, 10),
		mkSpan("b", "agent.b", "a", 1, 9),
	}
	h := BuildHierarchy(spans, "", "")
	assert.Nil(t, h.Root)
	assert.Empty(t, h.Nodes)
	assert.Equal(t, RootNone, h.Rule)
}

func TestBuildHierarchy_EntryInsideCycleTruncates(t *testing.T) {
	t.Parallel()
	spans := []span.Span{
		mkSpan("a", "entry.span", "c", 0, 10),
		mkSpan("b", "agent.b", "a", 1, 9),
		mkSpan("c", "agent.c", "b", 2, 8),
	}
	h := BuildHierarchy(spans, "", "entry.span")
	require.NotNil(t, h.Root)
	assert.Equal(t, []string{"a", "b", "c"}, ids(h.Nodes))
	nodes := byID(h.Nodes)
	assert.Empty(t, nodes["c"].Children, "back edge to the root is cut")
	assert.Equal(t, 2, nodes["c"].Depth)
}

func TestBuildHierarchy_RelativeOffsets(t *testing.T) {
	t.Parallel()
	spans := []span.Span{
		mkSpan("r", "agent.run", "", 0, 200),
		mkSpan("c", "agent.tool", "r", 50, 100),
	}
	h := BuildHierarchy(spans, "", "")
	nodes := byID(h.Nodes)
	assert.InDelta(t, 0, nodes["r"].RelativeStart, 1e-9)
	assert.InDelta(t, 100, nodes["r"].RelativeEnd, 1e-9)
	assert.InDelta(t, 25, nodes["c"].RelativeStart, 1e-9)
	assert.InDelta(t, 50, nodes["c"].RelativeEnd, 1e-9)
}

func TestBuildHierarchy_ZeroDurationTrace(t *testing.T) {
	t.Parallel()
	spans := []span.Span{
		mkSpan("r", "agent.run", "", 10, 10),
		mkSpan("c", "agent.tool", "r", 10, 10),
	}
	h := BuildHierarchy(spans, "", "")
	for _, n := range h.Nodes {
		assert.Zero(t, n.RelativeStart)
		assert.Zero(t, n.RelativeEnd)
	}
}

func TestBuildHierarchy_ChildrenSortedByStartThenInput(t *testing.T) {
	t.Parallel()
	spans := []span.Span{
		mkSpan("r", "agent.run", "", 0, 100),
		mkSpan("z", "agent.tool", "r", 30, 40),
		mkSpan("y", "agent.tool", "r", 10, 20),
		mkSpan("x", "agent.tool", "r", 10, 20),
	}
	h := BuildHierarchy(spans, "", "")
	assert.Equal(t, []string{"y", "x", "z"}, ids(h.Root.Children))
}

func TestBuildHierarchy_Empty(t *testing.T) {
	t.Parallel()
	h := BuildHierarchy(nil, "s", "e")
	assert.Nil(t, h.Root)
	assert.Empty(t, h.Nodes)
}
