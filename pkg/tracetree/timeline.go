// Timeline projection: expand/collapse-aware pre-order flattening
package tracetree

// ExpandedSet holds the ids of nodes whose children are shown.
type ExpandedSet map[string]struct{}

// NewExpandedSet returns a set containing ids.
func NewExpandedSet(ids ...string) ExpandedSet {
	s := make(ExpandedSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// ExpandAll returns a set containing every node id.
func ExpandAll(nodes []*Node) ExpandedSet {
	s := make(ExpandedSet, len(nodes))
	for _, n := range nodes {
		s[n.ID()] = struct{}{}
	}
	return s
}

// Has reports whether id is expanded. A nil set expands nothing.
func (s ExpandedSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Toggle flips id and reports whether it is now expanded.
func (s ExpandedSet) Toggle(id string) bool {
	if s.Has(id) {
		delete(s, id)
		return false
	}
	s[id] = struct{}{}
	return true
}

// Clone copies the set.
func (s ExpandedSet) Clone() ExpandedSet {
	c := make(ExpandedSet, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

// FlattenForTimeline lists root and its visible descendants in pre-order.
// Children of a node are emitted only when its id is in expanded.
func FlattenForTimeline(root *Node, expanded ExpandedSet) []*Node {
	if root == nil {
		return nil
	}
	return FlattenForest([]*Node{root}, expanded)
}

// FlattenForest flattens several roots one after another.
func FlattenForest(roots []*Node, expanded ExpandedSet) []*Node {
	var out []*Node
	stack := make([]*Node, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, roots[i])
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, n)
		if !expanded.Has(n.ID()) {
			continue
		}
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
	return out
}
