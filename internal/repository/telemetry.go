package repository

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// telemetry holds a checkpoint-duration histogram, an
// active-transaction-count gauge, and a tracer for commit spans. Nothing
// calls txnStarted or txnEnded, so the gauge is never updated. Exported
// via the stdout exporters so a standalone process has somewhere to send
// telemetry without requiring an external collector.
type telemetry struct {
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer

	checkpointDuration metric.Float64Histogram
	activeTxns         metric.Int64UpDownCounter
	deadlocksBroken    metric.Int64Counter
}

func newTelemetry() *telemetry {
	t := &telemetry{}

	metricExporter, err := stdoutmetric.New(stdoutmetric.WithoutTimestamps())
	if err == nil {
		t.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(30*time.Second))),
		)
	} else {
		t.meterProvider = sdkmetric.NewMeterProvider()
	}

	traceExporter, err := stdouttrace.New(stdouttrace.WithoutTimestamps())
	if err == nil {
		t.tracerProvider = sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExporter))
	} else {
		t.tracerProvider = sdktrace.NewTracerProvider()
	}

	meter := t.meterProvider.Meter("github.com/typedkv/typedkv/internal/repository")
	t.tracer = t.tracerProvider.Tracer("github.com/typedkv/typedkv/internal/repository")

	t.checkpointDuration, _ = meter.Float64Histogram(
		"typedkv.checkpoint.duration",
		metric.WithDescription("Duration of a completed checkpoint, in seconds."),
		metric.WithUnit("s"),
	)
	t.activeTxns, _ = meter.Int64UpDownCounter(
		"typedkv.transactions.active",
		metric.WithDescription("Number of currently open top-level transaction frames."),
	)
	t.deadlocksBroken, _ = meter.Int64Counter(
		"typedkv.deadlocks.broken",
		metric.WithDescription("Cumulative count of wait-for cycles broken by the deadlock detector."),
	)

	otel.SetMeterProvider(t.meterProvider)
	otel.SetTracerProvider(t.tracerProvider)
	return t
}

func (t *telemetry) recordCheckpoint(ctx context.Context, d time.Duration, err error) {
	if t.checkpointDuration == nil {
		return
	}
	t.checkpointDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.Bool("error", err != nil),
	))
}

func (t *telemetry) recordDeadlocks(ctx context.Context, broken int64) {
	if t.deadlocksBroken == nil || broken == 0 {
		return
	}
	t.deadlocksBroken.Add(ctx, broken)
}

func (t *telemetry) txnStarted(ctx context.Context) {
	if t.activeTxns != nil {
		t.activeTxns.Add(ctx, 1)
	}
}

func (t *telemetry) txnEnded(ctx context.Context) {
	if t.activeTxns != nil {
		t.activeTxns.Add(ctx, -1)
	}
}

// StartCommitSpan opens a span around a frame commit, for callers that want
// commit latency broken out in a trace. Callers must call the returned
// function exactly once.
func (r *Repository) StartCommitSpan(ctx context.Context) (context.Context, func()) {
	ctx, span := r.tel.tracer.Start(ctx, "typedkv.commit")
	return ctx, func() { span.End() }
}

func (t *telemetry) shutdown(ctx context.Context) {
	_ = t.meterProvider.Shutdown(ctx)
	_ = t.tracerProvider.Shutdown(ctx)
}
