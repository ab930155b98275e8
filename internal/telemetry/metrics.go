package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Metrics holds the mutation engine's instruments.
type Metrics struct {
	OpsApplied    metric.Int64Counter
	BatchesFailed metric.Int64Counter
	BatchDuration metric.Float64Histogram
	Notifications metric.Int64Counter
}

// NewMetrics creates instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.OpsApplied, err = meter.Int64Counter("trellis.ops.applied",
		metric.WithDescription("Operations applied in committed batches"),
	)
	if err != nil {
		return nil, err
	}

	m.BatchesFailed, err = meter.Int64Counter("trellis.batches.failed",
		metric.WithDescription("Batches rolled back because an operation failed"),
	)
	if err != nil {
		return nil, err
	}

	m.BatchDuration, err = meter.Float64Histogram("trellis.batch.duration",
		metric.WithDescription("Batch processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.Notifications, err = meter.Int64Counter("trellis.notifications",
		metric.WithDescription("Projects and users notified after committed batches"),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Span attribute keys.
var (
	AttrOpName    = attribute.Key("trellis.op.name")
	AttrOpIndex   = attribute.Key("trellis.op.index")
	AttrOpCount   = attribute.Key("trellis.batch.ops")
	AttrUserID    = attribute.Key("trellis.user.id")
	AttrProjectID = attribute.Key("trellis.project.id")

	AttrNotifyKind = attribute.Key("trellis.notify.kind")
)

// StartSpan starts an internal span with attrs.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}
