// Shared span builders for tracetree tests
package tracetree

import (
	"time"

	"github.com/andrewh/a2atrace/pkg/span"
)

var base = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return base.Add(time.Duration(ms) * time.Millisecond)
}

// mkSpan builds a valid span in trace t1 with times in milliseconds.
func mkSpan(id, name, parent string, startMs, endMs int) span.Span {
	return span.Span{
		ID:         id,
		Name:       name,
		Context:    span.Context{TraceID: "t1", SpanID: "ctx-" + id},
		ParentID:   parent,
		StartTime:  at(startMs),
		EndTime:    at(endMs),
		StatusCode: span.StatusOK,
	}
}

func inTrace(s span.Span, traceID string) span.Span {
	s.Context.TraceID = traceID
	return s
}

func withSession(s span.Span, alias, key string) span.Span {
	attrs := make(map[string]any, len(s.Attributes)+1)
	for k, v := range s.Attributes {
		attrs[k] = v
	}
	attrs[alias] = key
	s.Attributes = attrs
	return s
}

func ids(nodes []*Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID()
	}
	return out
}

func byID(nodes []*Node) map[string]*Node {
	m := make(map[string]*Node, len(nodes))
	for _, n := range nodes {
		m[n.ID()] = n
	}
	return m
}
