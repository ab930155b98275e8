package common

import (
	"context"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/hylla/trellis/internal/telemetry"
)

// Notification is one recorded Notify call.
type Notification struct {
	ProjectIDs []string
	UserIDs    []string
}

// RecordingNotifier keeps every notification in memory.
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *RecordingNotifier) Notify(_ context.Context, projectIDs, userIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Notification{
		ProjectIDs: append([]string(nil), projectIDs...),
		UserIDs:    append([]string(nil), userIDs...),
	})
}

func (r *RecordingNotifier) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}

func TestMetricsNotifierCountsByKind(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(ctx) })
	metrics, err := telemetry.NewMetrics(provider.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	n := NewMetricsNotifier(metrics)
	n.Notify(ctx, []string{"p1"}, []string{"u1", "u2"})
	n.Notify(ctx, nil, []string{"u3"})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "trellis.notifications" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("notifications data = %T, want Sum[int64]", m.Data)
			}
			for _, dp := range sum.DataPoints {
				kind, _ := dp.Attributes.Value(telemetry.AttrNotifyKind)
				got[kind.AsString()] += dp.Value
			}
		}
	}
	if got["project"] != 1 || got["user"] != 3 {
		t.Fatalf("notification counts = %v, want project=1 user=3", got)
	}
}

func TestMetricsNotifierNilSafe(t *testing.T) {
	var n *MetricsNotifier
	n.Notify(context.Background(), []string{"p1"}, nil)
	NewMetricsNotifier(nil).Notify(context.Background(), []string{"p1"}, nil)
}
