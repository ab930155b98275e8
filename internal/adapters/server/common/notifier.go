package common

import (
	"context"

	"go.opentelemetry.io/otel/metric"

	"github.com/hylla/trellis/internal/app"
	"github.com/hylla/trellis/internal/telemetry"
)

// LogNotifier reports committed batches as log lines, one per affected id.
type LogNotifier struct {
	log app.Logger
}

// NewLogNotifier builds a notifier over logger.
func NewLogNotifier(logger app.Logger) *LogNotifier {
	return &LogNotifier{log: logger}
}

// Notify logs each affected project and user.
func (n *LogNotifier) Notify(_ context.Context, projectIDs, userIDs []string) {
	if n == nil || n.log == nil {
		return
	}
	for _, id := range projectIDs {
		n.log.Info("project changed", "project_id", id)
	}
	for _, id := range userIDs {
		n.log.Info("user affected", "user_id", id)
	}
}

// MetricsNotifier counts notified projects and users on the notifications counter.
type MetricsNotifier struct {
	metrics *telemetry.Metrics
}

// NewMetricsNotifier builds a notifier over metrics.
func NewMetricsNotifier(metrics *telemetry.Metrics) *MetricsNotifier {
	return &MetricsNotifier{metrics: metrics}
}

// Notify adds one per affected id, labelled by kind.
func (n *MetricsNotifier) Notify(ctx context.Context, projectIDs, userIDs []string) {
	if n == nil || n.metrics == nil || n.metrics.Notifications == nil {
		return
	}
	if len(projectIDs) > 0 {
		n.metrics.Notifications.Add(ctx, int64(len(projectIDs)), metric.WithAttributes(telemetry.AttrNotifyKind.String("project")))
	}
	if len(userIDs) > 0 {
		n.metrics.Notifications.Add(ctx, int64(len(userIDs)), metric.WithAttributes(telemetry.AttrNotifyKind.String("user")))
	}
}

// FanoutNotifier forwards to every wrapped notifier in order.
type FanoutNotifier []app.Notifier

// Notify forwards to each notifier.
func (f FanoutNotifier) Notify(ctx context.Context, projectIDs, userIDs []string) {
	for _, n := range f {
		if n != nil {
			n.Notify(ctx, projectIDs, userIDs)
		}
	}
}
