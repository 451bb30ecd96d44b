package idempotency

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// OTelObserver implements Observer using OpenTelemetry metrics, and annotates
// the span found in the request context (typically the HTTP server span)
// with deduplication events.
//
// Example:
//
//	meter := otel.Meter("idempotency")
//	observer, _ := idempotency.NewOTelObserver(meter)
//	dedup := idempotency.New(store, idempotency.WithObserver(observer))
type OTelObserver struct {
	processDuration metric.Float64Histogram
	lookupLatency   metric.Float64Histogram
	lookups         metric.Int64Counter
	executions      metric.Int64Counter
	conflicts       metric.Int64Counter
}

// NewOTelObserver creates an OpenTelemetry observer.
func NewOTelObserver(meter metric.Meter) (*OTelObserver, error) {
	processDuration, err := meter.Float64Histogram(
		"idempotency.process.duration",
		metric.WithDescription("Duration of idempotent request processing in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create process duration histogram: %w", err)
	}

	lookupLatency, err := meter.Float64Histogram(
		"idempotency.lookup.latency",
		metric.WithDescription("Latency of record store lookups in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create lookup latency histogram: %w", err)
	}

	lookups, err := meter.Int64Counter(
		"idempotency.lookups",
		metric.WithDescription("Number of record store lookups"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create lookups counter: %w", err)
	}

	executions, err := meter.Int64Counter(
		"idempotency.operation.executions",
		metric.WithDescription("Number of operation executions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create executions counter: %w", err)
	}

	conflicts, err := meter.Int64Counter(
		"idempotency.conflicts",
		metric.WithDescription("Number of record write conflicts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create conflicts counter: %w", err)
	}

	return &OTelObserver{
		processDuration: processDuration,
		lookupLatency:   lookupLatency,
		lookups:         lookups,
		executions:      executions,
		conflicts:       conflicts,
	}, nil
}

func (o *OTelObserver) OnLookup(ctx context.Context, event *LookupEvent) {
	attrs := metric.WithAttributes(attribute.String("result", lookupResult(event)))
	o.lookups.Add(ctx, 1, attrs)
	o.lookupLatency.Record(ctx, event.Latency.Seconds(), attrs)

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		span.AddEvent("idempotency.lookup", trace.WithAttributes(
			attribute.Int("attempt", event.Attempt),
			attribute.Bool("found", event.Found),
			attribute.Bool("live", event.Live),
		))
	}
}

func (o *OTelObserver) OnExecute(ctx context.Context, event *ExecuteEvent) {
	o.executions.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", event.Error == nil),
	))

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		span.AddEvent("idempotency.execute", trace.WithAttributes(
			attribute.Int("attempt", event.Attempt),
			attribute.String("duration", event.Duration.String()),
		))
		if event.Error != nil {
			span.RecordError(event.Error)
		}
	}
}

func (o *OTelObserver) OnConflict(ctx context.Context, event *ConflictEvent) {
	o.conflicts.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("resolved", event.Resolved),
		attribute.Bool("replace", event.Replace),
	))

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		span.AddEvent("idempotency.conflict", trace.WithAttributes(
			attribute.Int("attempt", event.Attempt),
			attribute.Bool("resolved", event.Resolved),
		))
	}
}

func (o *OTelObserver) OnProcessEnd(ctx context.Context, event *ProcessEvent) {
	o.processDuration.Record(ctx, event.Duration.Seconds(), metric.WithAttributes(
		attribute.String("outcome", string(event.Outcome)),
	))

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		span.SetAttributes(
			attribute.String("idempotency.outcome", string(event.Outcome)),
			attribute.Int("idempotency.attempts", event.Attempts),
		)
		if event.Error != nil {
			span.SetStatus(codes.Error, event.Error.Error())
		}
	}
}
