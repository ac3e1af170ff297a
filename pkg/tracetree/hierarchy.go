// Span hierarchy reconstruction for a single trace
// Resolves parents across both identifier spaces, picks a canonical root
// and extracts its subtree with depths and trace-relative offsets
package tracetree

import (
	"sort"
	"time"

	"github.com/andrewh/a2atrace/pkg/span"
)

// Node wraps a span with its computed position in the hierarchy.
// Children own the tree; the parent link is a lookup reference only.
type Node struct {
	Span       span.Span
	Depth      int
	Children   []*Node
	Correlated bool

	// RelativeStart and RelativeEnd place the span on a 0-100 scale of the
	// whole trace's duration. Both are 0 for zero-duration traces.
	RelativeStart float64
	RelativeEnd   float64

	parent *Node
	index  int // position in the input batch, for tie-breaks
}

// ID is the span's batch-local identifier.
func (n *Node) ID() string { return n.Span.ID }

// Parent returns the node's parent, or nil for a root.
func (n *Node) Parent() *Node { return n.parent }

// RootRule records which rule chose the canonical root.
type RootRule string

const (
	RootNone       RootRule = ""
	RootEntrySpan  RootRule = "entry-span"
	RootCorrelated RootRule = "correlated"
	RootEarliest   RootRule = "earliest"
)

// Hierarchy is the canonical root's subtree for one trace.
type Hierarchy struct {
	Root *Node
	// Nodes is the reachable subtree in pre-order, children by start time.
	Nodes []*Node
	// Start and End bound every span passed in, not just the subtree.
	Start time.Time
	End   time.Time
	Rule  RootRule
	// Orphans lists ids of spans whose parent reference did not resolve.
	Orphans []string
}

// BuildHierarchy links one trace's spans into a tree and returns the
// subtree under the canonical root. Unresolvable parents make a span
// root-level; cycles are truncated. Root is nil when no span is
// root-level.
func BuildHierarchy(spans []span.Span, correlationKey, entrySpanName string) Hierarchy {
	if len(spans) == 0 {
		return Hierarchy{}
	}

	nodes := make([]*Node, len(spans))
	byID := make(map[string]*Node, len(spans))
	byContextID := make(map[string]*Node, len(spans))
	h := Hierarchy{Start: spans[0].StartTime, End: spans[0].EndTime}
	for i, s := range spans {
		n := &Node{Span: s, Correlated: s.IsCorrelated(correlationKey), index: i}
		nodes[i] = n
		if _, dup := byID[s.ID]; !dup {
			byID[s.ID] = n
		}
		if s.Context.SpanID != "" {
			if _, dup := byContextID[s.Context.SpanID]; !dup {
				byContextID[s.Context.SpanID] = n
			}
		}
		if s.StartTime.Before(h.Start) {
			h.Start = s.StartTime
		}
		if s.EndTime.After(h.End) {
			h.End = s.EndTime
		}
	}

	var rootLevel []*Node
	for _, n := range nodes {
		if p := resolveParent(n, byID, byContextID); p != nil {
			n.parent = p
			p.Children = append(p.Children, n)
			continue
		}
		if n.Span.ParentID != "" {
			h.Orphans = append(h.Orphans, n.Span.ID)
		}
		rootLevel = append(rootLevel, n)
	}

	h.Root, h.Rule = selectRoot(nodes, rootLevel, entrySpanName)
	if h.Root == nil {
		return h
	}

	for _, n := range nodes {
		sortByStart(n.Children)
	}
	h.Nodes = extractSubtree(h.Root)

	total := h.End.Sub(h.Start)
	for _, n := range h.Nodes {
		n.RelativeStart, n.RelativeEnd = relativeSpan(n.Span, h.Start, total)
	}
	return h
}

// resolveParent looks the parent reference up by batch id first, then by
// backend span id. A span naming itself is treated as unresolved.
func resolveParent(n *Node, byID, byContextID map[string]*Node) *Node {
	ref := n.Span.ParentID
	if ref == "" {
		return nil
	}
	p, ok := byID[ref]
	if !ok {
		p, ok = byContextID[ref]
	}
	if !ok || p == n {
		return nil
	}
	return p
}

// selectRoot applies the root rules in priority order. The entry span and
// correlated rules take the first match in input order; only the earliest
// fallback looks at start times.
func selectRoot(nodes, rootLevel []*Node, entrySpanName string) (*Node, RootRule) {
	if entrySpanName != "" {
		for _, n := range nodes {
			if n.Span.Name == entrySpanName {
				return n, RootEntrySpan
			}
		}
	}
	if len(rootLevel) == 0 {
		return nil, RootNone
	}
	for _, n := range rootLevel {
		if n.Correlated {
			return n, RootCorrelated
		}
	}

	ordered := make([]*Node, len(rootLevel))
	copy(ordered, rootLevel)
	sortByStart(ordered)
	return ordered[0], RootEarliest
}

// sortByStart orders nodes by start time, falling back to input order.
func sortByStart(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i].Span.StartTime, nodes[j].Span.StartTime
		if !a.Equal(b) {
			return a.Before(b)
		}
		return nodes[i].index < nodes[j].index
	})
}

// extractSubtree walks the tree under root in pre-order with an explicit
// stack, assigning depths. Edges back into visited nodes are cut.
func extractSubtree(root *Node) []*Node {
	root.parent = nil
	root.Depth = 0
	visited := map[*Node]bool{root: true}
	stack := []*Node{root}
	var out []*Node

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, n)

		kept := n.Children[:0]
		for _, c := range n.Children {
			if visited[c] {
				continue
			}
			visited[c] = true
			c.parent = n
			c.Depth = n.Depth + 1
			kept = append(kept, c)
		}
		n.Children = kept
		for i := len(kept) - 1; i >= 0; i-- {
			stack = append(stack, kept[i])
		}
	}
	return out
}

func relativeSpan(s span.Span, traceStart time.Time, total time.Duration) (float64, float64) {
	if total <= 0 {
		return 0, 0
	}
	start := float64(s.StartTime.Sub(traceStart)) / float64(total) * 100
	end := float64(s.EndTime.Sub(traceStart)) / float64(total) * 100
	if end < start {
		end = start
	}
	return start, end
}
