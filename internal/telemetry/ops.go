package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "caseline/engine"

// Ops records a span and metrics for each engine operation.
type Ops struct {
	tracer    trace.Tracer
	ops       metric.Int64Counter
	dur       metric.Float64Histogram
	errs      metric.Int64Counter
	conflicts metric.Int64Counter
}

// NewOps uses the global providers.
func NewOps() *Ops {
	return NewOpsWith(otel.GetTracerProvider(), otel.GetMeterProvider())
}

func NewOpsWith(tp trace.TracerProvider, mp metric.MeterProvider) *Ops {
	m := mp.Meter(scopeName)
	ops, _ := m.Int64Counter("caseline.operations",
		metric.WithDescription("Engine operations executed"))
	dur, _ := m.Float64Histogram("caseline.operation.duration",
		metric.WithDescription("Engine operation duration in milliseconds"),
		metric.WithUnit("ms"))
	errs, _ := m.Int64Counter("caseline.errors",
		metric.WithDescription("Engine operations that returned an error"))
	conflicts, _ := m.Int64Counter("caseline.conflicts",
		metric.WithDescription("Optimistic-lock conflicts retried on case rows"))
	return &Ops{tracer: tp.Tracer(scopeName), ops: ops, dur: dur, errs: errs, conflicts: conflicts}
}

// Start opens a span for op. The returned func ends it and records err.
func (o *Ops) Start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if o == nil {
		return ctx, func(error) {}
	}
	all := append([]attribute.KeyValue{attribute.String("caseline.operation", op)}, attrs...)
	ctx, span := o.tracer.Start(ctx, "engine."+op, trace.WithAttributes(all...))
	start := time.Now()
	return ctx, func(err error) {
		set := metric.WithAttributes(all...)
		o.ops.Add(ctx, 1, set)
		o.dur.Record(ctx, float64(time.Since(start).Microseconds())/1000.0, set)
		if err != nil {
			o.errs.Add(ctx, 1, set)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// Conflict counts one retried optimistic-lock failure.
func (o *Ops) Conflict(ctx context.Context, op string) {
	if o == nil {
		return
	}
	o.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("caseline.operation", op)))
}
