package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/navinbhat12/rewindify/internal/common/logger"
)

// Observability records per-operation counters and latencies through the
// OpenTelemetry meter exported on the Prometheus registry, and spans through
// an SDK tracer provider.
type Observability struct {
	meterProvider  *metric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	meter          otelmetric.Meter
	tracer        trace.Tracer
	opCounter     otelmetric.Int64Counter
	opDuration    otelmetric.Float64Histogram
	recordCounter otelmetric.Int64Counter
}

func New(serviceName string, log logger.Logger, opts ...prometheus.Option) *Observability {
	tracerProvider := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tracerProvider)
	tracer := tracerProvider.Tracer(serviceName)

	exporter, err := prometheus.New(opts...)
	if err != nil {
		log.Warn("Failed to create Prometheus exporter", map[string]interface{}{"error": err.Error()})
		return &Observability{tracerProvider: tracerProvider, tracer: tracer}
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	opCounter, _ := meter.Int64Counter(
		"history_operations",
		otelmetric.WithDescription("Number of history operations handled"),
	)

	opDuration, _ := meter.Float64Histogram(
		"history_operation_duration",
		otelmetric.WithDescription("History operation duration"),
		otelmetric.WithUnit("ms"),
	)

	recordCounter, _ := meter.Int64Counter(
		"history_records_inserted",
		otelmetric.WithDescription("Play events inserted by ingestion"),
	)

	return &Observability{
		meterProvider:  provider,
		tracerProvider: tracerProvider,
		meter:          meter,
		tracer:         tracer,
		opCounter:      opCounter,
		opDuration:     opDuration,
		recordCounter:  recordCounter,
	}
}

// RegisterSpanProcessor attaches a processor, such as a batching exporter,
// to the tracer provider.
func (o *Observability) RegisterSpanProcessor(sp sdktrace.SpanProcessor) {
	if o == nil || o.tracerProvider == nil {
		return
	}
	o.tracerProvider.RegisterSpanProcessor(sp)
}

// StartSpan opens a span named after the operation.
func (o *Observability) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if o == nil || o.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return o.tracer.Start(ctx, name)
}

func (o *Observability) RecordOperation(ctx context.Context, operation, status string, duration time.Duration) {
	if o == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)
	if o.opCounter != nil {
		o.opCounter.Add(ctx, 1, attrs)
	}
	if o.opDuration != nil {
		o.opDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	}
}

func (o *Observability) RecordRecordsInserted(ctx context.Context, n int) {
	if o == nil || o.recordCounter == nil || n <= 0 {
		return
	}
	o.recordCounter.Add(ctx, int64(n))
}

func (o *Observability) Shutdown() {
	if o == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if o.tracerProvider != nil {
		_ = o.tracerProvider.Shutdown(ctx)
	}
	if o.meterProvider != nil {
		_ = o.meterProvider.Shutdown(ctx)
	}
}
