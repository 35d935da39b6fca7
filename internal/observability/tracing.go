package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns a tracer for the given name
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartSpan starts a new span from context
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// StartDBSpan starts a span for database operations
func StartDBSpan(ctx context.Context, operation, table string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("DB %s %s", operation, table),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "sqlite"),
			attribute.String("db.operation", operation),
			attribute.String("db.sql.table", table),
		),
	)
}

// StartServiceSpan starts a span for service operations
func StartServiceSpan(ctx context.Context, service, operation string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("%s.%s", service, operation),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("service.component", service),
			attribute.String("service.operation", operation),
		),
	)
}

// RecordError records an error on the span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSuccess marks the span as successful
func SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SyncMetrics holds sync-engine metrics
type SyncMetrics struct {
	drainDuration  metric.Float64Histogram
	drainCount     metric.Int64Counter
	mutationCount  metric.Int64Counter
	pendingEntries metric.Int64UpDownCounter
	noticeCount    metric.Int64Counter
}

// NewSyncMetrics creates sync metrics instruments
func NewSyncMetrics() (*SyncMetrics, error) {
	meter := otel.Meter(instrumentationName)

	drainDuration, err := meter.Float64Histogram(
		"photosync.sync.drain.duration",
		metric.WithDescription("Drain pass duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	drainCount, err := meter.Int64Counter(
		"photosync.sync.drain.count",
		metric.WithDescription("Total number of drain passes"),
		metric.WithUnit("{passes}"),
	)
	if err != nil {
		return nil, err
	}

	mutationCount, err := meter.Int64Counter(
		"photosync.sync.mutations",
		metric.WithDescription("Total number of mutations classified by outcome"),
		metric.WithUnit("{mutations}"),
	)
	if err != nil {
		return nil, err
	}

	pendingEntries, err := meter.Int64UpDownCounter(
		"photosync.sync.pending_entries",
		metric.WithDescription("Number of pending mutation log entries"),
		metric.WithUnit("{entries}"),
	)
	if err != nil {
		return nil, err
	}

	noticeCount, err := meter.Int64Counter(
		"photosync.sync.notices",
		metric.WithDescription("Total number of user-visible sync notices"),
		metric.WithUnit("{notices}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		drainDuration:  drainDuration,
		drainCount:     drainCount,
		mutationCount:  mutationCount,
		pendingEntries: pendingEntries,
		noticeCount:    noticeCount,
	}, nil
}

// RecordDrain records one drain pass
func (m *SyncMetrics) RecordDrain(ctx context.Context, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.Bool("error", err != nil),
	}
	m.drainCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.drainDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordMutation records one classified mutation outcome
func (m *SyncMetrics) RecordMutation(ctx context.Context, outcome string) {
	m.mutationCount.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// AddPending adjusts the pending-entries gauge
func (m *SyncMetrics) AddPending(ctx context.Context, delta int64) {
	m.pendingEntries.Add(ctx, delta)
}

// RecordNotice records a surfaced user-visible notice
func (m *SyncMetrics) RecordNotice(ctx context.Context, kind string) {
	m.noticeCount.Add(ctx, 1, metric.WithAttributes(attribute.String("notice.kind", kind)))
}
