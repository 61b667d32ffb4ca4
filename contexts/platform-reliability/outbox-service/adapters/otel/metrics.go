package oteladapter

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "bulwark/outbox"

// Metrics records outbox relay and retention counters on an OpenTelemetry
// meter.
type Metrics struct {
	published    metric.Int64Counter
	failed       metric.Int64Counter
	deadLettered metric.Int64Counter
	reclaimed    metric.Int64Counter
	purged       metric.Int64Counter
}

// NewMetrics uses the global meter provider when meter is nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}

	var (
		m    Metrics
		errs []error
		err  error
	)
	m.published, err = meter.Int64Counter("outbox.events.published",
		metric.WithDescription("Outbox events published to the event bus"),
		metric.WithUnit("{event}"))
	errs = append(errs, err)
	m.failed, err = meter.Int64Counter("outbox.events.failed",
		metric.WithDescription("Outbox publish attempts that failed"),
		metric.WithUnit("{event}"))
	errs = append(errs, err)
	m.deadLettered, err = meter.Int64Counter("outbox.events.dead_lettered",
		metric.WithDescription("Outbox events that exhausted their attempt budget"),
		metric.WithUnit("{event}"))
	errs = append(errs, err)
	m.reclaimed, err = meter.Int64Counter("outbox.events.reclaimed",
		metric.WithDescription("Outbox events reclaimed from an abandoned processing attempt"),
		metric.WithUnit("{event}"))
	errs = append(errs, err)
	m.purged, err = meter.Int64Counter("retention.records.purged",
		metric.WithDescription("Records deleted by retention sweeps"),
		metric.WithUnit("{record}"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) EventPublished(ctx context.Context, eventType string) {
	m.published.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

func (m *Metrics) EventFailed(ctx context.Context, eventType string) {
	m.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

func (m *Metrics) EventDeadLettered(ctx context.Context, eventType string) {
	m.deadLettered.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

func (m *Metrics) EventsReclaimed(ctx context.Context, count int) {
	m.reclaimed.Add(ctx, int64(count))
}

func (m *Metrics) RecordsPurged(ctx context.Context, target string, count int64) {
	m.purged.Add(ctx, count, metric.WithAttributes(attribute.String("target", target)))
}
