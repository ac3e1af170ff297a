// Serialisable form of a View for JSON and YAML consumers
package tracetree

import (
	"time"

	"github.com/andrewh/a2atrace/pkg/span"
)

// TraceInfo describes one trace group without its spans.
type TraceInfo struct {
	TraceID         string    `json:"traceId" yaml:"traceId"`
	StartTime       time.Time `json:"startTime" yaml:"startTime"`
	EndTime         time.Time `json:"endTime" yaml:"endTime"`
	DurationMs      float64   `json:"durationMs" yaml:"durationMs"`
	SpanCount       int       `json:"spanCount" yaml:"spanCount"`
	CorrelatedCount int       `json:"correlatedCount" yaml:"correlatedCount"`
}

// Row is one visible timeline entry.
type Row struct {
	ID            string          `json:"id" yaml:"id"`
	ParentID      string          `json:"parentId,omitempty" yaml:"parentId,omitempty"`
	Name          string          `json:"name" yaml:"name"`
	Service       string          `json:"service" yaml:"service"`
	Operation     string          `json:"operation" yaml:"operation"`
	Depth         int             `json:"depth" yaml:"depth"`
	Status        span.StatusCode `json:"status" yaml:"status"`
	StartTime     time.Time       `json:"startTime" yaml:"startTime"`
	DurationMs    float64         `json:"durationMs" yaml:"durationMs"`
	RelativeStart float64         `json:"relativeStart" yaml:"relativeStart"`
	RelativeEnd   float64         `json:"relativeEnd" yaml:"relativeEnd"`
	Correlated    bool            `json:"correlated" yaml:"correlated"`
	Children      int             `json:"children" yaml:"children"`
	Expanded      bool            `json:"expanded" yaml:"expanded"`
}

// GraphNode is a positioned graph vertex.
type GraphNode struct {
	ID         string          `json:"id" yaml:"id"`
	Name       string          `json:"name" yaml:"name"`
	Operation  string          `json:"operation" yaml:"operation"`
	Service    string          `json:"service" yaml:"service"`
	Level      int             `json:"level" yaml:"level"`
	X          float64         `json:"x" yaml:"x"`
	Y          float64         `json:"y" yaml:"y"`
	Status     span.StatusCode `json:"status" yaml:"status"`
	DurationMs float64         `json:"durationMs" yaml:"durationMs"`
	Correlated bool            `json:"correlated" yaml:"correlated"`
}

// GraphDocument is the serialisable graph layout.
type GraphDocument struct {
	Nodes  []GraphNode `json:"nodes" yaml:"nodes"`
	Edges  []Edge      `json:"edges" yaml:"edges"`
	Bounds Rect        `json:"bounds" yaml:"bounds"`
}

// Document is the full serialisable view.
type Document struct {
	Traces   []TraceInfo   `json:"traces" yaml:"traces"`
	Selected *TraceInfo    `json:"selected,omitempty" yaml:"selected,omitempty"`
	RootID   string        `json:"rootId,omitempty" yaml:"rootId,omitempty"`
	RootRule RootRule      `json:"rootRule,omitempty" yaml:"rootRule,omitempty"`
	Timeline []Row         `json:"timeline" yaml:"timeline"`
	Graph    GraphDocument `json:"graph" yaml:"graph"`
	Summary  Summary       `json:"summary" yaml:"summary"`
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Info summarises a trace group.
func (g TraceGroup) Info() TraceInfo {
	return TraceInfo{
		TraceID:         g.TraceID,
		StartTime:       g.StartTime,
		EndTime:         g.EndTime,
		DurationMs:      millis(g.Duration()),
		SpanCount:       len(g.Spans),
		CorrelatedCount: g.CorrelatedCount,
	}
}

// TraceInfos summarises every group.
func TraceInfos(groups []TraceGroup) []TraceInfo {
	out := make([]TraceInfo, len(groups))
	for i, g := range groups {
		out[i] = g.Info()
	}
	return out
}

// RowFor describes a node as a timeline row.
func RowFor(n *Node, expanded ExpandedSet) Row {
	r := Row{
		ID:            n.ID(),
		Name:          n.Span.Name,
		Service:       n.Span.Service(),
		Operation:     n.Span.Operation(),
		Depth:         n.Depth,
		Status:        statusOf(n.Span),
		StartTime:     n.Span.StartTime,
		DurationMs:    millis(n.Span.Duration()),
		RelativeStart: n.RelativeStart,
		RelativeEnd:   n.RelativeEnd,
		Correlated:    n.Correlated,
		Children:      len(n.Children),
		Expanded:      len(n.Children) > 0 && expanded.Has(n.ID()),
	}
	if p := n.Parent(); p != nil {
		r.ParentID = p.ID()
	}
	return r
}

// Document converts the view for serialisation. Timeline rows are the
// visible rows.
func (v *View) Document() Document {
	d := Document{
		Traces:   TraceInfos(v.Traces),
		Timeline: make([]Row, 0, len(v.Visible)),
		Graph: GraphDocument{
			Nodes:  make([]GraphNode, 0, len(v.Graph.Nodes)),
			Edges:  v.Graph.Edges,
			Bounds: v.Graph.Bounds,
		},
		Summary: v.Summary,
	}
	if g, ok := v.Trace(); ok {
		info := g.Info()
		d.Selected = &info
	}
	if v.Hierarchy.Root != nil {
		d.RootID = v.Hierarchy.Root.ID()
		d.RootRule = v.Hierarchy.Rule
	}
	for _, n := range v.Visible {
		d.Timeline = append(d.Timeline, RowFor(n, v.Expanded))
	}
	for _, p := range v.Graph.Nodes {
		d.Graph.Nodes = append(d.Graph.Nodes, GraphNode{
			ID:         p.Node.ID(),
			Name:       p.Node.Span.Name,
			Operation:  p.Node.Span.Operation(),
			Service:    p.Node.Span.Service(),
			Level:      p.Level,
			X:          p.X,
			Y:          p.Y,
			Status:     statusOf(p.Node.Span),
			DurationMs: millis(p.Node.Span.Duration()),
			Correlated: p.Node.Correlated,
		})
	}
	if d.Graph.Edges == nil {
		d.Graph.Edges = []Edge{}
	}
	return d
}
