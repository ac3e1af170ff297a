// Synthetic A2A sessions emitted through the OpenTelemetry SDK
// Timestamps are synthetic; nothing sleeps
package sessiongen

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Options controls how many sessions are generated and when they start.
type Options struct {
	Sessions int
	// Seed makes output reproducible; 0 picks a random seed.
	Seed uint64
	// Start is the first turn's start time; zero means now.
	Start time.Time
	// SessionPrefix names sessions Prefix-1, Prefix-2, ...
	SessionPrefix string
}

// Stats counts what was emitted.
type Stats struct {
	Sessions []string `json:"sessions"`
	Traces   int      `json:"traces"`
	Spans    int      `json:"spans"`
	Errors   int      `json:"errors"`
}

// Generate plans every turn of every session and emits it to exp. The
// exporter is shut down before returning.
func Generate(ctx context.Context, p Profile, opts Options, exp sdktrace.SpanExporter) (*Stats, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if opts.Sessions <= 0 {
		return nil, fmt.Errorf("sessions must be positive, got %d", opts.Sessions)
	}
	prefix := opts.SessionPrefix
	if prefix == "" {
		prefix = "session"
	}
	start := opts.Start
	if start.IsZero() {
		start = time.Now()
	}
	seed := opts.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed)) //nolint:gosec // synthetic data, not security-sensitive

	res := resource.NewSchemaless(attribute.String("service.name", p.Agent))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	tracer := tp.Tracer("github.com/andrewh/a2atrace/pkg/sessiongen")

	stats := &Stats{}
	var emitErr error
	for i := range opts.Sessions {
		session := fmt.Sprintf("%s-%d", prefix, i+1)
		stats.Sessions = append(stats.Sessions, session)
		t := start.Add(time.Duration(i) * time.Minute)
		for range p.Turns {
			if emitErr = ctx.Err(); emitErr != nil {
				break
			}
			plans := PlanTurn(p, session, t, rng)
			emit(ctx, tracer, plans)
			stats.Traces++
			stats.Spans += len(plans)
			for _, pl := range plans {
				if pl.IsError {
					stats.Errors++
				}
			}
			t = plans[0].EndTime.Add(p.TurnGap)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		return stats, errors.Join(emitErr, fmt.Errorf("flushing spans: %w", err))
	}
	return stats, emitErr
}

// emit starts every planned span under its parent and ends them children
// first.
func emit(ctx context.Context, tracer trace.Tracer, plans []SpanPlan) {
	spans := make([]trace.Span, len(plans))
	ctxs := make([]context.Context, len(plans))
	for i, pl := range plans {
		parent := ctx
		if pl.Parent >= 0 {
			parent = ctxs[pl.Parent]
		}
		ctxs[i], spans[i] = tracer.Start(parent, pl.Name,
			trace.WithTimestamp(pl.StartTime),
			trace.WithSpanKind(pl.Kind),
			trace.WithAttributes(pl.Attrs...),
		)
	}
	for i := len(plans) - 1; i >= 0; i-- {
		pl := plans[i]
		if pl.IsError {
			spans[i].SetStatus(codes.Error, pl.ErrorMsg)
			spans[i].RecordError(errors.New(pl.ErrorMsg), trace.WithTimestamp(pl.EndTime))
		} else {
			spans[i].SetStatus(codes.Ok, "")
		}
		spans[i].End(trace.WithTimestamp(pl.EndTime))
	}
}
