// Graph projection: per-level placement with horizontal collision resolution
package tracetree

import (
	"math"
	"sort"
)

// LayoutConstants size the graph grid.
type LayoutConstants struct {
	NodeWidth   float64 `mapstructure:"node_width" json:"nodeWidth" yaml:"nodeWidth"`
	NodeHeight  float64 `mapstructure:"node_height" json:"nodeHeight" yaml:"nodeHeight"`
	LevelHeight float64 `mapstructure:"level_height" json:"levelHeight" yaml:"levelHeight"`
	Spacing     float64 `mapstructure:"spacing" json:"spacing" yaml:"spacing"`
	Padding     float64 `mapstructure:"padding" json:"padding" yaml:"padding"`
}

// DefaultLayout returns the stock node grid.
func DefaultLayout() LayoutConstants {
	return LayoutConstants{NodeWidth: 140, NodeHeight: 40, LevelHeight: 60, Spacing: 15, Padding: 15}
}

// Point is a node's top-left corner.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Rect is an axis-aligned box.
type Rect struct {
	MinX float64 `json:"minX" yaml:"minX"`
	MinY float64 `json:"minY" yaml:"minY"`
	MaxX float64 `json:"maxX" yaml:"maxX"`
	MaxY float64 `json:"maxY" yaml:"maxY"`
}

func (r Rect) Width() float64  { return r.MaxX - r.MinX }
func (r Rect) Height() float64 { return r.MaxY - r.MinY }

// Edge joins a parent's bottom-centre to a child's top-centre.
type Edge struct {
	From string  `json:"from" yaml:"from"`
	To   string  `json:"to" yaml:"to"`
	X1   float64 `json:"x1" yaml:"x1"`
	Y1   float64 `json:"y1" yaml:"y1"`
	X2   float64 `json:"x2" yaml:"x2"`
	Y2   float64 `json:"y2" yaml:"y2"`
}

// PlacedNode is a node with its grid position.
type PlacedNode struct {
	Node  *Node
	Level int
	Point
}

// Graph is the laid-out node/edge set.
type Graph struct {
	Positions map[string]Point
	// Nodes are ordered by level, then x.
	Nodes  []PlacedNode
	Edges  []Edge
	Bounds Rect
}

// emptyBounds is reported when there is nothing to lay out.
var emptyBounds = Rect{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}

// LayoutGraph places nodes level by level (level = depth). Level 0 is
// centred on x=0; deeper nodes start under their parent or at the next
// free slot, then each level is swept left to right pushing nodes apart
// until adjacent nodes are at least NodeWidth+Spacing apart.
func LayoutGraph(nodes []*Node, c LayoutConstants) Graph {
	g := Graph{Positions: make(map[string]Point, len(nodes)), Bounds: emptyBounds}
	if len(nodes) == 0 {
		return g
	}

	levels := make(map[int][]*Node)
	var order []int
	for _, n := range nodes {
		if _, ok := levels[n.Depth]; !ok {
			order = append(order, n.Depth)
		}
		levels[n.Depth] = append(levels[n.Depth], n)
	}
	sort.Ints(order)

	step := c.NodeWidth + c.Spacing
	for _, level := range order {
		members := levels[level]
		placed := make([]PlacedNode, len(members))
		y := float64(level) * c.LevelHeight

		if level == 0 {
			startX := -float64(len(members)-1) * step / 2
			for i, n := range members {
				placed[i] = PlacedNode{Node: n, Level: level, Point: Point{X: startX + float64(i)*step, Y: y}}
			}
		} else {
			var nextX float64
			for i, n := range members {
				x := nextX
				if p := n.Parent(); p != nil {
					if pos, ok := g.Positions[p.ID()]; ok {
						x = pos.X
					} else {
						nextX += step
					}
				} else {
					nextX += step
				}
				placed[i] = PlacedNode{Node: n, Level: level, Point: Point{X: x, Y: y}}
			}
		}

		sort.SliceStable(placed, func(i, j int) bool { return placed[i].X < placed[j].X })
		for i := 1; i < len(placed); i++ {
			if placed[i].X-placed[i-1].X >= step {
				continue
			}
			target := placed[i-1].X + step
			for target-placed[i-1].X < step {
				target = math.Nextafter(target, math.Inf(1))
			}
			shift := target - placed[i].X
			placed[i].X = target
			for j := i + 1; j < len(placed); j++ {
				placed[j].X += shift
			}
		}

		for _, p := range placed {
			g.Positions[p.Node.ID()] = p.Point
		}
		g.Nodes = append(g.Nodes, placed...)
	}

	for _, p := range g.Nodes {
		for _, child := range p.Node.Children {
			cp, ok := g.Positions[child.ID()]
			if !ok {
				continue
			}
			g.Edges = append(g.Edges, Edge{
				From: p.Node.ID(),
				To:   child.ID(),
				X1:   p.X + c.NodeWidth/2,
				Y1:   p.Y + c.NodeHeight,
				X2:   cp.X + c.NodeWidth/2,
				Y2:   cp.Y,
			})
		}
	}

	first := g.Nodes[0].Point
	b := Rect{MinX: first.X, MinY: first.Y, MaxX: first.X + c.NodeWidth, MaxY: first.Y + c.NodeHeight}
	for _, p := range g.Nodes[1:] {
		b.MinX = min(b.MinX, p.X)
		b.MinY = min(b.MinY, p.Y)
		b.MaxX = max(b.MaxX, p.X+c.NodeWidth)
		b.MaxY = max(b.MaxY, p.Y+c.NodeHeight)
	}
	g.Bounds = Rect{MinX: b.MinX - c.Padding, MinY: b.MinY - c.Padding, MaxX: b.MaxX + c.Padding, MaxY: b.MaxY + c.Padding}
	return g
}
