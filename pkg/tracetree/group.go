// Trace grouping: partitions a flat span batch by trace identifier
// Groups carry their time bounds and a correlation relevance count
package tracetree

import (
	"sort"
	"time"

	"github.com/andrewh/a2atrace/pkg/span"
)

// TraceGroup holds the spans of one distributed trace, in input order.
type TraceGroup struct {
	TraceID         string
	Spans           []span.Span
	StartTime       time.Time
	EndTime         time.Time
	CorrelatedCount int
}

// Duration is the wall-clock extent of the trace.
func (g TraceGroup) Duration() time.Duration {
	if g.EndTime.Before(g.StartTime) {
		return 0
	}
	return g.EndTime.Sub(g.StartTime)
}

// GroupTraces partitions spans by trace ID. When correlationKey is set,
// only traces with at least one correlated span are kept. Groups are
// ordered by start time; ties keep first-encounter order.
func GroupTraces(spans []span.Span, correlationKey string) []TraceGroup {
	index := make(map[string]int)
	var groups []TraceGroup
	for _, s := range spans {
		i, ok := index[s.Context.TraceID]
		if !ok {
			i = len(groups)
			index[s.Context.TraceID] = i
			groups = append(groups, TraceGroup{
				TraceID:   s.Context.TraceID,
				StartTime: s.StartTime,
				EndTime:   s.EndTime,
			})
		}
		g := &groups[i]
		g.Spans = append(g.Spans, s)
		if s.StartTime.Before(g.StartTime) {
			g.StartTime = s.StartTime
		}
		if s.EndTime.After(g.EndTime) {
			g.EndTime = s.EndTime
		}
		if s.IsCorrelated(correlationKey) {
			g.CorrelatedCount++
		}
	}

	if correlationKey != "" {
		kept := groups[:0]
		for _, g := range groups {
			if g.CorrelatedCount > 0 {
				kept = append(kept, g)
			}
		}
		groups = kept
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].StartTime.Before(groups[j].StartTime)
	})
	if len(groups) == 0 {
		return []TraceGroup{}
	}
	return groups
}

// FindTrace returns the index of the group with the given trace ID, or -1.
func FindTrace(groups []TraceGroup, traceID string) int {
	for i, g := range groups {
		if g.TraceID == traceID {
			return i
		}
	}
	return -1
}
