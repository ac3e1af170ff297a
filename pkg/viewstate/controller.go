// Interactive view state threaded into the trace pipeline
// Trace selection, expand set, visibility filters and span selection
package viewstate

import (
	"slices"
	"sync"

	"github.com/andrewh/a2atrace/pkg/span"
	"github.com/andrewh/a2atrace/pkg/tracetree"
	"go.uber.org/zap"
)

// Controller holds the state a trace viewer mutates between renders and
// rebuilds the pipeline from it. It is safe for concurrent use.
type Controller struct {
	mu     sync.Mutex
	base   tracetree.Options
	logger *zap.Logger

	spans  []span.Span
	traces []tracetree.TraceGroup
	// traceID is empty when nothing is loaded.
	traceID      string
	expanded     tracetree.ExpandedSet // nil expands everything
	visibility   tracetree.Visibility
	selectedSpan string
}

// New returns a controller building views with base. The TraceID, Expanded
// and Visibility fields of base are ignored; the controller owns them.
func New(base tracetree.Options, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	base.TraceID = ""
	base.Expanded = nil
	base.Visibility = tracetree.Visibility{}
	if base.Logger == nil {
		base.Logger = logger
	}
	return &Controller{base: base, logger: logger}
}

// CorrelationKey returns the key spans are grouped under.
func (c *Controller) CorrelationKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.base.CorrelationKey
}

// SetSpans replaces the span snapshot under the current correlation key.
func (c *Controller) SetSpans(spans []span.Span) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.load(c.base.CorrelationKey, spans)
}

// Load replaces the snapshot and the correlation key together.
func (c *Controller) Load(key string, spans []span.Span) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.load(key, spans)
}

// load selects the latest trace, expands everything and clears the search
// and span selection. Status, service and duration filters survive.
func (c *Controller) load(key string, spans []span.Span) {
	c.base.CorrelationKey = key
	c.spans = spans
	c.traces = tracetree.GroupTraces(spans, key)
	c.traceID = ""
	if n := len(c.traces); n > 0 {
		c.traceID = c.traces[n-1].TraceID
	}
	c.expanded = nil
	c.visibility.Search = ""
	c.selectedSpan = ""
	c.logger.Debug("loaded spans",
		zap.String("key", key),
		zap.Int("spans", len(spans)),
		zap.Int("traces", len(c.traces)),
		zap.String("selected_trace", c.traceID))
}

// Traces returns a copy of the trace groups of the current snapshot.
func (c *Controller) Traces() []tracetree.TraceGroup {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.traces)
}

// SelectedTrace returns the selected trace id and its index, or -1.
func (c *Controller) SelectedTrace() (string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.traceID, tracetree.FindTrace(c.traces, c.traceID)
}

// NextTrace moves to the following trace, wrapping after the last.
func (c *Controller) NextTrace() string {
	return c.step(1)
}

// PrevTrace moves to the preceding trace, wrapping before the first.
func (c *Controller) PrevTrace() string {
	return c.step(-1)
}

func (c *Controller) step(delta int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.traces)
	if n == 0 {
		return ""
	}
	i := tracetree.FindTrace(c.traces, c.traceID)
	if i < 0 {
		i = n - 1
	}
	c.selectLocked(((i+delta)%n + n) % n)
	return c.traceID
}

// SelectTrace selects the trace at index i, clamped to the valid range.
func (c *Controller) SelectTrace(i int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.traces)
	if n == 0 {
		return ""
	}
	c.selectLocked(max(0, min(i, n-1)))
	return c.traceID
}

// selectLocked switches trace; a newly selected trace starts fully expanded.
func (c *Controller) selectLocked(i int) {
	id := c.traces[i].TraceID
	if id == c.traceID {
		return
	}
	c.traceID = id
	c.expanded = nil
	c.selectedSpan = ""
}

// Toggle flips the expansion of a node and reports whether it is now
// expanded.
func (c *Controller) Toggle(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expanded == nil {
		c.expanded = c.allExpandedLocked()
	}
	return c.expanded.Toggle(id)
}

// ExpandAll expands every node of the selected trace.
func (c *Controller) ExpandAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expanded = nil
}

// CollapseAll collapses every node so only the roots remain.
func (c *Controller) CollapseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expanded = tracetree.NewExpandedSet()
}

// SetSearch sets the timeline search text.
func (c *Controller) SetSearch(q string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visibility.Search = q
}

// SetVisibility replaces all timeline filters, search included.
func (c *Controller) SetVisibility(v tracetree.Visibility) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visibility = v
}

// Visibility returns the current timeline filters.
func (c *Controller) Visibility() tracetree.Visibility {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visibility
}

// SelectSpan selects id, or clears the selection when id is already
// selected. It returns the resulting selection.
func (c *Controller) SelectSpan(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selectedSpan == id {
		c.selectedSpan = ""
	} else {
		c.selectedSpan = id
	}
	return c.selectedSpan
}

// SelectedSpan returns the selected span id, empty when none.
func (c *Controller) SelectedSpan() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedSpan
}

// View rebuilds the pipeline from the current state.
func (c *Controller) View() (*tracetree.View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return tracetree.Build(c.spans, c.optionsLocked())
}

func (c *Controller) optionsLocked() tracetree.Options {
	opts := c.base
	opts.TraceID = c.traceID
	if c.expanded != nil {
		opts.Expanded = c.expanded.Clone()
	}
	opts.Visibility = c.visibility
	return opts
}

// allExpandedLocked materialises the implicit expand-all set for the
// selected trace so single nodes can be collapsed from it.
func (c *Controller) allExpandedLocked() tracetree.ExpandedSet {
	opts := c.optionsLocked()
	opts.Expanded = nil
	v, err := tracetree.Build(c.spans, opts)
	if err != nil {
		return tracetree.NewExpandedSet()
	}
	return v.Expanded.Clone()
}
