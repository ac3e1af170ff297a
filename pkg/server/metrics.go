// Prometheus instrumentation for the HTTP API
package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Fetch outcomes recorded on a2atrace_fetch_total.
const (
	resultOK       = "ok"
	resultNotFound = "not_found"
	resultInvalid  = "invalid"
	resultError    = "error"
)

type metrics struct {
	registry        *prometheus.Registry
	fetchTotal      *prometheus.CounterVec
	pipelineSeconds prometheus.Histogram
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "a2atrace_fetch_total",
			Help: "Span fetches from the configured source, by result.",
		}, []string{"result"}),
		pipelineSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "a2atrace_pipeline_seconds",
			Help:    "Time spent building a trace view from a span batch.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
	}
	m.registry.MustRegister(
		m.fetchTotal,
		m.pipelineSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}
