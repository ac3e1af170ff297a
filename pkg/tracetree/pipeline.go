// Combined pipeline: one derivation shared by the timeline and graph views
package tracetree

import (
	"fmt"

	"github.com/andrewh/a2atrace/pkg/span"
	"go.uber.org/zap"
)

// Options carries the interactive state threaded into Build.
type Options struct {
	CorrelationKey string
	EntrySpanName  string
	ExcludePattern string
	ExcludePolicy  ExcludePolicy
	// Expanded is the timeline expand set. Nil expands every node.
	Expanded ExpandedSet
	// TraceID selects a trace group. Empty or unknown selects the latest.
	TraceID    string
	Visibility Visibility
	Layout     LayoutConstants
	Logger     *zap.Logger
}

// View is everything the timeline and graph presentations need.
type View struct {
	Traces []TraceGroup
	// Selected indexes Traces, -1 when there is nothing to show.
	Selected  int
	Hierarchy Hierarchy
	// Nodes is the filtered subtree, Roots its top-level nodes.
	Nodes []*Node
	Roots []*Node
	// Timeline is the flattened, expand-aware list before visibility filters;
	// Visible is what remains after them.
	Timeline []*Node
	Visible  []*Node
	// Expanded is the effective expand set used for Timeline.
	Expanded ExpandedSet
	Graph    Graph
	Summary  Summary
}

// Empty reports whether there is no tree to display.
func (v *View) Empty() bool { return len(v.Nodes) == 0 }

// Trace returns the selected trace group.
func (v *View) Trace() (TraceGroup, bool) {
	if v.Selected < 0 || v.Selected >= len(v.Traces) {
		return TraceGroup{}, false
	}
	return v.Traces[v.Selected], true
}

// Build runs grouping, hierarchy, filtering and both projections over a
// span batch. It fails only when the batch breaks the span record
// contract; an empty result is a View with Selected == -1 or no Nodes.
func Build(spans []span.Span, opts Options) (*View, error) {
	if err := span.ValidateBatch(spans); err != nil {
		return nil, fmt.Errorf("invalid span batch: %w", err)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	layout := opts.Layout
	if layout == (LayoutConstants{}) {
		layout = DefaultLayout()
	}

	v := &View{Selected: -1, Graph: LayoutGraph(nil, layout)}
	v.Traces = GroupTraces(spans, opts.CorrelationKey)
	if len(v.Traces) == 0 {
		log.Debug("no traces for correlation key", zap.String("key", opts.CorrelationKey), zap.Int("spans", len(spans)))
		return v, nil
	}

	v.Selected = len(v.Traces) - 1
	if opts.TraceID != "" {
		if i := FindTrace(v.Traces, opts.TraceID); i >= 0 {
			v.Selected = i
		} else {
			log.Debug("requested trace not found, selecting latest", zap.String("trace_id", opts.TraceID))
		}
	}
	group := v.Traces[v.Selected]

	v.Hierarchy = BuildHierarchy(group.Spans, opts.CorrelationKey, opts.EntrySpanName)
	if len(v.Hierarchy.Orphans) > 0 {
		log.Debug("unresolved parent references, treated as roots",
			zap.String("trace_id", group.TraceID), zap.Strings("span_ids", v.Hierarchy.Orphans))
	}
	if v.Hierarchy.Root == nil {
		log.Debug("no root-level span in trace", zap.String("trace_id", group.TraceID))
		v.Summary = Summarise(group, nil)
		return v, nil
	}
	log.Debug("selected canonical root",
		zap.String("trace_id", group.TraceID),
		zap.String("span_id", v.Hierarchy.Root.ID()),
		zap.String("rule", string(v.Hierarchy.Rule)))

	v.Nodes = FilterTree(v.Hierarchy.Nodes, opts.ExcludePattern, opts.ExcludePolicy)
	log.Debug("filtered hierarchy",
		zap.Int("before", len(v.Hierarchy.Nodes)),
		zap.Int("after", len(v.Nodes)),
		zap.Stringer("policy", opts.ExcludePolicy))
	v.Roots = Roots(v.Nodes)

	expanded := opts.Expanded
	if expanded == nil {
		expanded = ExpandAll(v.Nodes)
	}
	v.Expanded = expanded
	v.Timeline = FlattenForest(v.Roots, expanded)
	v.Visible = opts.Visibility.Apply(v.Timeline)
	v.Graph = LayoutGraph(v.Nodes, layout)
	v.Summary = Summarise(group, v.Nodes)
	return v, nil
}
