// Per-trace and per-service statistics for view headers and filter choices
package tracetree

import (
	"sort"
	"time"
)

// ServiceStats accumulates span counts and time for one service.
type ServiceStats struct {
	Spans         int           `json:"spans" yaml:"spans"`
	Errors        int           `json:"errors" yaml:"errors"`
	TotalDuration time.Duration `json:"totalDuration" yaml:"totalDuration"`
}

// Summary describes the selected trace and its displayed subtree.
type Summary struct {
	TraceSpans      int                      `json:"traceSpans" yaml:"traceSpans"`
	Nodes           int                      `json:"nodes" yaml:"nodes"`
	MaxDepth        int                      `json:"maxDepth" yaml:"maxDepth"`
	CorrelatedCount int                      `json:"correlatedCount" yaml:"correlatedCount"`
	ErrorCount      int                      `json:"errorCount" yaml:"errorCount"`
	Duration        time.Duration            `json:"duration" yaml:"duration"`
	Services        []string                 `json:"services" yaml:"services"`
	ByService       map[string]*ServiceStats `json:"byService" yaml:"byService"`
}

// Summarise collects statistics over nodes for the given trace group.
func Summarise(group TraceGroup, nodes []*Node) Summary {
	s := Summary{
		TraceSpans: len(group.Spans),
		Nodes:      len(nodes),
		Duration:   group.Duration(),
		ByService:  make(map[string]*ServiceStats),
	}
	for _, n := range nodes {
		s.MaxDepth = max(s.MaxDepth, n.Depth)
		if n.Correlated {
			s.CorrelatedCount++
		}
		svc := n.Span.Service()
		st, ok := s.ByService[svc]
		if !ok {
			st = &ServiceStats{}
			s.ByService[svc] = st
			s.Services = append(s.Services, svc)
		}
		st.Spans++
		st.TotalDuration += n.Span.Duration()
		if n.Span.IsError() {
			st.Errors++
			s.ErrorCount++
		}
	}
	sort.Strings(s.Services)
	return s
}

// MeanDuration is the average span duration for the service.
func (st *ServiceStats) MeanDuration() time.Duration {
	if st.Spans == 0 {
		return 0
	}
	return st.TotalDuration / time.Duration(st.Spans)
}
