package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/navassist/pkg/audio/announcer"
	"github.com/MrWong99/navassist/pkg/types"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere returns the value of the data point of the named sum whose
// attributes include every key/value in want.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name string, want map[string]string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		match := true
		for k, v := range want {
			got, ok := dp.Attributes.Value(attribute.Key(k))
			if !ok || got.AsString() != v {
				match = false
				break
			}
		}
		if match {
			return dp.Value
		}
	}
	t.Fatalf("metric %q: no data point with attributes %v", name, want)
	return 0
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"navassist.frame.duration", m.FrameDuration},
		{"navassist.render.duration", m.RenderDuration},
		{"navassist.http.request.duration", m.HTTPRequestDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestRecordFrame(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrame(ctx, types.RiskWarning, 2*time.Millisecond)
	m.RecordFrame(ctx, types.RiskWarning, 3*time.Millisecond)
	m.RecordFrame(ctx, types.RiskSafe, time.Millisecond)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "navassist.frames", map[string]string{"level": "WARNING"}); got != 2 {
		t.Errorf("WARNING frames = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "navassist.frames", map[string]string{"level": "SAFE"}); got != 1 {
		t.Errorf("SAFE frames = %d, want 1", got)
	}
}

func TestRecordDetection(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDetection(ctx, types.GroupTraffic)
	m.RecordDetection(ctx, types.GroupTraffic)
	m.RecordDetection(ctx, types.GroupLiving)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "navassist.detections", map[string]string{"group": "traffic"}); got != 2 {
		t.Errorf("traffic detections = %d, want 2", got)
	}
}

func TestRecordAlert(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAlert(ctx, types.RiskCritical, OutcomePreempting)
	m.RecordAlert(ctx, types.RiskInfo, OutcomeEnqueued)
	m.RecordAlert(ctx, types.RiskInfo, OutcomeSuppressed)
	m.RecordAlert(ctx, types.RiskInfo, OutcomeSuppressed)

	rm := collect(t, reader)
	want := map[string]string{"level": "INFO", "outcome": OutcomeSuppressed}
	if got := sumWhere(t, rm, "navassist.alerts", want); got != 2 {
		t.Errorf("suppressed INFO alerts = %d, want 2", got)
	}
	want = map[string]string{"level": "CRITICAL", "outcome": OutcomePreempting}
	if got := sumWhere(t, rm, "navassist.alerts", want); got != 1 {
		t.Errorf("preempting CRITICAL alerts = %d, want 1", got)
	}
}

func TestRenderFinished(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.RenderFinished(announcer.RenderTone, 500*time.Millisecond, nil)
	m.RenderFinished(announcer.RenderSpeech, time.Second, context.Canceled)
	m.RenderFinished(announcer.RenderSpeech, time.Second, errors.New("tts down"))
	m.RenderFinished(announcer.RenderSpeech, time.Second, errors.New("tts down"))

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "navassist.render.errors", map[string]string{"kind": "speech"}); got != 2 {
		t.Errorf("speech errors = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "navassist.render.interrupts", map[string]string{"kind": "speech"}); got != 1 {
		t.Errorf("speech interrupts = %d, want 1", got)
	}

	met := findMetric(rm, "navassist.render.duration")
	if met == nil {
		t.Fatal("render duration not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	if total != 4 {
		t.Errorf("render samples = %d, want 4", total)
	}
}

func TestQueueDepthChanged(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.QueueDepthChanged(1)
	m.QueueDepthChanged(1)
	m.QueueDepthChanged(1)
	m.QueueDepthChanged(-2)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "navassist.queue.depth", nil); got != 1 {
		t.Errorf("queue depth = %d, want 1", got)
	}
}

func TestRecordBreakerTransition(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.RecordBreakerTransition("openai", "open")

	rm := collect(t, reader)
	want := map[string]string{"provider": "openai", "state": "open"}
	if got := sumWhere(t, rm, "navassist.tts.breaker.transitions", want); got != 1 {
		t.Errorf("transitions = %d, want 1", got)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics built a second instrument set")
	}
}
