// Shared fixtures for source tests
package source

import (
	"context"
	"sync"
	"time"

	"github.com/andrewh/a2atrace/pkg/span"
)

var base = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func fixtureSpan(id, traceID, parent string, startMs int) span.Span {
	return span.Span{
		ID:         id,
		Name:       "agent.step",
		Context:    span.Context{TraceID: traceID, SpanID: "ctx-" + id},
		ParentID:   parent,
		StartTime:  base.Add(time.Duration(startMs) * time.Millisecond),
		EndTime:    base.Add(time.Duration(startMs+10) * time.Millisecond),
		StatusCode: span.StatusOK,
	}
}

func correlated(s span.Span, key string) span.Span {
	s.Attributes = map[string]any{"session_id": key}
	return s
}

// countingSource returns a fixed batch and counts calls.
type countingSource struct {
	mu    sync.Mutex
	calls int
	spans []span.Span
	err   error
}

func (c *countingSource) FetchSpans(_ context.Context, key, agent string, limit int) ([]span.Span, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return KeepCorrelatedTraces(c.spans, key), nil
}

func (c *countingSource) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func spanIDs(spans []span.Span) []string {
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = s.ID
	}
	return out
}
