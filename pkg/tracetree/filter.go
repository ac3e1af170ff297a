// Name-based exclusion over a built hierarchy
// Produces a fresh node set; surviving relative offsets stay anchored to
// the full trace bounds
package tracetree

import (
	"fmt"
	"strings"
)

// ExcludePolicy decides what happens to descendants of an excluded node.
type ExcludePolicy int

const (
	// DropSubtree removes a matched node together with all its descendants.
	DropSubtree ExcludePolicy = iota
	// Promote removes only matched nodes; their surviving descendants are
	// re-parented to the nearest surviving ancestor.
	Promote
)

func (p ExcludePolicy) String() string {
	switch p {
	case DropSubtree:
		return "drop"
	case Promote:
		return "promote"
	}
	return fmt.Sprintf("ExcludePolicy(%d)", int(p))
}

// ParseExcludePolicy maps "drop" (or "drop-subtree") and "promote" to a policy.
func ParseExcludePolicy(s string) (ExcludePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop", "drop-subtree":
		return DropSubtree, nil
	case "promote":
		return Promote, nil
	}
	return DropSubtree, fmt.Errorf("unknown exclude policy %q, valid policies: drop, promote", s)
}

// FilterTree removes nodes whose name contains pattern and returns clones
// of the survivors in input order. The input nodes are not modified.
//
// Under DropSubtree, depths are shifted so the shallowest survivor is 0.
// Under Promote, depths are recomputed from the re-parented structure so
// each node stays one level below its new parent. Relative offsets are
// copied unchanged in both cases.
func FilterTree(nodes []*Node, pattern string, policy ExcludePolicy) []*Node {
	inSet := make(map[*Node]bool, len(nodes))
	for _, n := range nodes {
		inSet[n] = true
	}
	matched := func(n *Node) bool {
		return pattern != "" && strings.Contains(n.Span.Name, pattern)
	}

	removed := make(map[*Node]bool)
	for _, n := range nodes {
		if matched(n) {
			removed[n] = true
		}
	}
	if policy == DropSubtree && len(removed) > 0 {
		for _, n := range nodes {
			if hasRemovedAncestor(n, inSet, removed) {
				removed[n] = true
			}
		}
	}

	clones := make(map[*Node]*Node, len(nodes))
	out := make([]*Node, 0, len(nodes)-len(removed))
	for _, n := range nodes {
		if removed[n] {
			continue
		}
		c := &Node{
			Span:          n.Span,
			Depth:         n.Depth,
			Correlated:    n.Correlated,
			RelativeStart: n.RelativeStart,
			RelativeEnd:   n.RelativeEnd,
			index:         n.index,
		}
		clones[n] = c
		out = append(out, c)
	}

	for _, n := range nodes {
		c, ok := clones[n]
		if !ok {
			continue
		}
		for a := n.parent; a != nil && inSet[a]; a = a.parent {
			if pc, ok := clones[a]; ok {
				c.parent = pc
				pc.Children = append(pc.Children, c)
				break
			}
			if policy == DropSubtree {
				break
			}
		}
	}
	for _, c := range out {
		sortByStart(c.Children)
	}

	switch policy {
	case Promote:
		assignDepths(Roots(out))
	default:
		shiftDepths(out)
	}
	return out
}

// hasRemovedAncestor walks up the parent chain within the node set.
func hasRemovedAncestor(n *Node, inSet, removed map[*Node]bool) bool {
	seen := map[*Node]bool{n: true}
	for a := n.parent; a != nil && inSet[a] && !seen[a]; a = a.parent {
		if removed[a] {
			return true
		}
		seen[a] = true
	}
	return false
}

func shiftDepths(nodes []*Node) {
	if len(nodes) == 0 {
		return
	}
	minDepth := nodes[0].Depth
	for _, n := range nodes[1:] {
		minDepth = min(minDepth, n.Depth)
	}
	for _, n := range nodes {
		n.Depth -= minDepth
	}
}

func assignDepths(roots []*Node) {
	stack := make([]*Node, 0, len(roots))
	for _, r := range roots {
		r.Depth = 0
		stack = append(stack, r)
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, c := range n.Children {
			c.Depth = n.Depth + 1
			stack = append(stack, c)
		}
	}
}

// Roots returns the nodes without a parent, in input order.
func Roots(nodes []*Node) []*Node {
	var roots []*Node
	for _, n := range nodes {
		if n.parent == nil {
			roots = append(roots, n)
		}
	}
	return roots
}
