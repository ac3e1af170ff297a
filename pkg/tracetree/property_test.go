// Property-based tests for the reconstruction pipeline using pgregory.net/rapid
// Covers grouping partition, depth monotonicity, cycle safety, flatten
// completeness, collapse, layout gaps and offset anchoring under filters
package tracetree

import (
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/andrewh/a2atrace/pkg/span"
	"pgregory.net/rapid"
)

// --- Generators ---

var spanNames = []string{
	"a2a.server.Handler.run",
	"agent.invoke",
	"internal.Setup",
	"agent.tools.call",
	"llm.client.Generate",
}

// genBatch generates a multi-trace batch whose parent references may
// point at batch ids, backend span ids, missing spans, or form cycles.
func genBatch(t *rapid.T) []span.Span {
	nTraces := rapid.IntRange(1, 3).Draw(t, "traces")
	var spans []span.Span
	for k := range nTraces {
		traceID := fmt.Sprintf("trace-%d", k)
		n := rapid.IntRange(1, 15).Draw(t, fmt.Sprintf("size%d", k))
		for i := range n {
			label := fmt.Sprintf("t%d-s%d", k, i)
			start := rapid.IntRange(0, 1000).Draw(t, label+"-start")
			dur := rapid.IntRange(0, 500).Draw(t, label+"-dur")
			s := span.Span{
				ID:         label,
				Name:       rapid.SampledFrom(spanNames).Draw(t, label+"-name"),
				Context:    span.Context{TraceID: traceID, SpanID: "ctx-" + label},
				StartTime:  at(start),
				EndTime:    at(start + dur),
				StatusCode: rapid.SampledFrom([]span.StatusCode{span.StatusOK, span.StatusError, span.StatusUnset}).Draw(t, label+"-status"),
			}
			switch p := rapid.IntRange(-2, n-1).Draw(t, label+"-parent"); {
			case p == -2:
			case p == -1:
				s.ParentID = "missing"
			case rapid.Bool().Draw(t, label+"-ctxref"):
				s.ParentID = fmt.Sprintf("ctx-t%d-s%d", k, p)
			default:
				s.ParentID = fmt.Sprintf("t%d-s%d", k, p)
			}
			if key := rapid.SampledFrom([]string{"", "s1", "s2"}).Draw(t, label+"-session"); key != "" {
				alias := rapid.SampledFrom(span.CorrelationAliases).Draw(t, label+"-alias")
				s.Attributes = map[string]any{alias: key}
			}
			spans = append(spans, s)
		}
	}
	return spans
}

func drawKey(t *rapid.T) string {
	return rapid.SampledFrom([]string{"", "s1", "s2", "s3"}).Draw(t, "key")
}

func drawEntry(t *rapid.T) string {
	return rapid.SampledFrom(append([]string{"", "no.such.span"}, spanNames...)).Draw(t, "entry")
}

// --- Property checks ---

func checkGroupingPartition(t *rapid.T, spans []span.Span, key string) {
	groups := GroupTraces(spans, key)

	relevant := map[string]bool{}
	for _, s := range spans {
		if key == "" || s.IsCorrelated(key) {
			relevant[s.Context.TraceID] = true
		}
	}
	var want []string
	for _, s := range spans {
		if relevant[s.Context.TraceID] {
			want = append(want, s.ID)
		}
	}

	seenTrace := map[string]bool{}
	var got []string
	for i, g := range groups {
		if seenTrace[g.TraceID] {
			t.Fatalf("trace %s appears in two groups", g.TraceID)
		}
		seenTrace[g.TraceID] = true
		if i > 0 && g.StartTime.Before(groups[i-1].StartTime) {
			t.Fatalf("groups not ordered by start time")
		}
		for _, s := range g.Spans {
			if s.Context.TraceID != g.TraceID {
				t.Fatalf("span %s of trace %s grouped under %s", s.ID, s.Context.TraceID, g.TraceID)
			}
			got = append(got, s.ID)
		}
	}
	sort.Strings(want)
	sort.Strings(got)
	if fmt.Sprint(want) != fmt.Sprint(got) {
		t.Fatalf("grouped spans %v, want %v", got, want)
	}
}

func checkHierarchy(t *rapid.T, h Hierarchy) {
	if h.Root == nil {
		if len(h.Nodes) != 0 {
			t.Fatalf("nil root with %d nodes", len(h.Nodes))
		}
		return
	}
	if h.Root.Depth != 0 || h.Root.Parent() != nil {
		t.Fatalf("root depth %d, parent %v", h.Root.Depth, h.Root.Parent())
	}
	if h.Nodes[0] != h.Root {
		t.Fatalf("pre-order does not start at the root")
	}
	seen := map[string]bool{}
	for _, n := range h.Nodes {
		if seen[n.ID()] {
			t.Fatalf("span %s visited twice", n.ID())
		}
		seen[n.ID()] = true
		if p := n.Parent(); p != nil && n.Depth != p.Depth+1 {
			t.Fatalf("span %s depth %d under parent depth %d", n.ID(), n.Depth, p.Depth)
		}
		for i := 1; i < len(n.Children); i++ {
			if n.Children[i].Span.StartTime.Before(n.Children[i-1].Span.StartTime) {
				t.Fatalf("children of %s not ordered by start", n.ID())
			}
		}
	}
}

func checkStructure(t *rapid.T, nodes []*Node) {
	for _, n := range nodes {
		if p := n.Parent(); p != nil && n.Depth != p.Depth+1 {
			t.Fatalf("span %s depth %d under parent depth %d", n.ID(), n.Depth, p.Depth)
		}
	}
}

// --- Properties ---

func TestProperty_GroupingPartition(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		checkGroupingPartition(t, genBatch(t), drawKey(t))
	})
}

func TestProperty_HierarchyDepthAndCycles(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		spans := genBatch(t)
		key, entry := drawKey(t), drawEntry(t)
		for _, g := range GroupTraces(spans, "") {
			checkHierarchy(t, BuildHierarchy(g.Spans, key, entry))
		}
	})
}

func TestProperty_FullExpansionFlattensEverything(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		for _, g := range GroupTraces(genBatch(t), "") {
			h := BuildHierarchy(g.Spans, "", "")
			if h.Root == nil {
				continue
			}
			flat := FlattenForTimeline(h.Root, ExpandAll(h.Nodes))
			if fmt.Sprint(ids(flat)) != fmt.Sprint(ids(h.Nodes)) {
				t.Fatalf("flatten %v, want pre-order %v", ids(flat), ids(h.Nodes))
			}
		}
	})
}

func TestProperty_CollapseHidesExactlySubtree(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		groups := GroupTraces(genBatch(t), "")
		h := BuildHierarchy(groups[0].Spans, "", "")
		if h.Root == nil {
			return
		}
		target := rapid.SampledFrom(h.Nodes).Draw(t, "collapse")

		hidden := map[string]bool{}
		stack := append([]*Node(nil), target.Children...)
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			hidden[n.ID()] = true
			stack = append(stack, n.Children...)
		}
		var want []string
		for _, n := range h.Nodes {
			if !hidden[n.ID()] {
				want = append(want, n.ID())
			}
		}

		expanded := ExpandAll(h.Nodes)
		delete(expanded, target.ID())
		got := ids(FlattenForTimeline(h.Root, expanded))
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Fatalf("collapsing %s: got %v, want %v", target.ID(), got, want)
		}
	})
}

func TestProperty_LayoutGap(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := LayoutConstants{
			NodeWidth:   rapid.Float64Range(0.1, 200).Draw(t, "width"),
			NodeHeight:  rapid.Float64Range(0.1, 80).Draw(t, "height"),
			LevelHeight: rapid.Float64Range(0.1, 120).Draw(t, "levelHeight"),
			Spacing:     rapid.Float64Range(0, 40).Draw(t, "spacing"),
			Padding:     rapid.Float64Range(0, 40).Draw(t, "padding"),
		}
		groups := GroupTraces(genBatch(t), "")
		h := BuildHierarchy(groups[0].Spans, "", drawEntry(t))
		nodes := FilterTree(h.Nodes, rapid.SampledFrom([]string{"", "internal.", "agent."}).Draw(t, "pattern"), ExcludePolicy(rapid.IntRange(0, 1).Draw(t, "policy")))
		g := LayoutGraph(nodes, c)

		if len(g.Positions) != len(nodes) {
			t.Fatalf("positioned %d of %d nodes", len(g.Positions), len(nodes))
		}
		byLevel := map[int][]float64{}
		for _, p := range g.Nodes {
			if p.Y != float64(p.Level)*c.LevelHeight {
				t.Fatalf("node %s at y=%v on level %d", p.Node.ID(), p.Y, p.Level)
			}
			if p.X-c.Padding < g.Bounds.MinX || p.X+c.NodeWidth+c.Padding > g.Bounds.MaxX {
				t.Fatalf("node %s outside bounds", p.Node.ID())
			}
			byLevel[p.Level] = append(byLevel[p.Level], p.X)
		}
		for level, xs := range byLevel {
			sort.Float64s(xs)
			for i := 1; i < len(xs); i++ {
				if xs[i]-xs[i-1] < c.NodeWidth+c.Spacing {
					t.Fatalf("level %d: gap %v < %v", level, xs[i]-xs[i-1], c.NodeWidth+c.Spacing)
				}
			}
		}
	})
}

func TestProperty_FilterKeepsOffsetsAndStructure(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		groups := GroupTraces(genBatch(t), "")
		h := BuildHierarchy(groups[0].Spans, "", drawEntry(t))
		pattern := rapid.SampledFrom(append([]string{"", "agent.", "."}, spanNames...)).Draw(t, "pattern")
		policy := ExcludePolicy(rapid.IntRange(0, 1).Draw(t, "policy"))

		original := byID(h.Nodes)
		filtered := FilterTree(h.Nodes, pattern, policy)
		checkStructure(t, filtered)

		minDepth := -1
		for _, n := range filtered {
			o := original[n.ID()]
			if o == nil {
				t.Fatalf("unknown node %s after filter", n.ID())
			}
			if n.RelativeStart != o.RelativeStart || n.RelativeEnd != o.RelativeEnd {
				t.Fatalf("offsets of %s changed", n.ID())
			}
			if pattern != "" && containsName(n, pattern) {
				t.Fatalf("excluded node %s survived", n.ID())
			}
			if minDepth < 0 || n.Depth < minDepth {
				minDepth = n.Depth
			}
		}
		if len(filtered) > 0 && minDepth != 0 {
			t.Fatalf("shallowest survivor at depth %d", minDepth)
		}
		if policy == DropSubtree && pattern != "" {
			for _, n := range filtered {
				for a := original[n.ID()].Parent(); a != nil; a = a.Parent() {
					if containsName(a, pattern) {
						t.Fatalf("%s survived under excluded %s", n.ID(), a.ID())
					}
				}
			}
		}
	})
}

func containsName(n *Node, pattern string) bool {
	return strings.Contains(n.Span.Name, pattern)
}

func TestProperty_BuildIsDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		spans := genBatch(t)
		opts := Options{
			CorrelationKey: drawKey(t),
			EntrySpanName:  drawEntry(t),
			ExcludePattern: rapid.SampledFrom([]string{"", "internal."}).Draw(t, "pattern"),
			ExcludePolicy:  ExcludePolicy(rapid.IntRange(0, 1).Draw(t, "policy")),
		}
		a, err := Build(spans, opts)
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		b, _ := Build(spans, opts)
		if fmt.Sprint(ids(a.Timeline)) != fmt.Sprint(ids(b.Timeline)) {
			t.Fatalf("timeline differs between runs")
		}
		if fmt.Sprint(a.Graph.Positions) != fmt.Sprint(b.Graph.Positions) {
			t.Fatalf("positions differ between runs")
		}
		if len(a.Timeline) != len(a.Nodes) {
			t.Fatalf("default expansion shows %d of %d nodes", len(a.Timeline), len(a.Nodes))
		}
	})
}
