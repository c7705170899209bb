// Package observe provides application-wide observability primitives for
// NavAssist: OpenTelemetry metrics, tracing, structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/navassist/pkg/audio/announcer"
	"github.com/MrWong99/navassist/pkg/types"
)

// meterName is the instrumentation scope name used for all NavAssist metrics.
const meterName = "github.com/MrWong99/navassist"

// Alert outcomes recorded on [Metrics.Alerts].
const (
	OutcomeEnqueued   = "enqueued"
	OutcomeSuppressed = "suppressed"
	OutcomePreempting = "preempting"
	OutcomeMuted      = "muted"
)

// Compile-time interface assertion.
var _ announcer.Observer = (*Metrics)(nil)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Perception ---

	// Frames counts processed frames. Use with attribute:
	//   attribute.String("level", ...) for the frame's winning level
	Frames metric.Int64Counter

	// FrameDuration tracks the time spent in Engine.ProcessFrame.
	FrameDuration metric.Float64Histogram

	// Detections counts detections that passed the confidence filter. Use
	// with attribute:
	//   attribute.String("group", ...)
	Detections metric.Int64Counter

	// --- Dispatch ---

	// Alerts counts dispatcher decisions. Use with attributes:
	//   attribute.String("level", ...), attribute.String("outcome", ...)
	Alerts metric.Int64Counter

	// --- Audio ---

	// RenderDuration tracks tone and speech render time. Use with attribute:
	//   attribute.String("kind", "tone"|"speech")
	RenderDuration metric.Float64Histogram

	// RenderErrors counts renders that failed for reasons other than
	// preemption. Use with attribute:
	//   attribute.String("kind", ...)
	RenderErrors metric.Int64Counter

	// RenderInterrupts counts renders cut short by preemption.
	RenderInterrupts metric.Int64Counter

	// QueueDepth tracks the number of alerts waiting in the announcer.
	QueueDepth metric.Int64UpDownCounter

	// BreakerTransitions counts TTS circuit breaker state changes. Use with
	// attributes:
	//   attribute.String("provider", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...),
	//   attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// both per-frame processing and multi-second speech renders.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.FrameDuration, err = m.Float64Histogram("navassist.frame.duration",
		metric.WithDescription("Time spent classifying and dispatching one frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RenderDuration, err = m.Float64Histogram("navassist.render.duration",
		metric.WithDescription("Duration of tone and speech renders."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Frames, err = m.Int64Counter("navassist.frames",
		metric.WithDescription("Total frames processed by winning risk level."),
	); err != nil {
		return nil, err
	}
	if met.Detections, err = m.Int64Counter("navassist.detections",
		metric.WithDescription("Total detections above the confidence threshold by risk group."),
	); err != nil {
		return nil, err
	}
	if met.Alerts, err = m.Int64Counter("navassist.alerts",
		metric.WithDescription("Total dispatcher decisions by level and outcome."),
	); err != nil {
		return nil, err
	}
	if met.RenderErrors, err = m.Int64Counter("navassist.render.errors",
		metric.WithDescription("Total failed renders by kind."),
	); err != nil {
		return nil, err
	}
	if met.RenderInterrupts, err = m.Int64Counter("navassist.render.interrupts",
		metric.WithDescription("Total renders interrupted by preemption, by kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("navassist.tts.breaker.transitions",
		metric.WithDescription("Total TTS circuit breaker transitions by provider and new state."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.QueueDepth, err = m.Int64UpDownCounter("navassist.queue.depth",
		metric.WithDescription("Number of alerts waiting to be spoken."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("navassist.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrame records one processed frame and its duration.
func (m *Metrics) RecordFrame(ctx context.Context, level types.RiskLevel, d time.Duration) {
	m.Frames.Add(ctx, 1, metric.WithAttributes(attribute.String("level", level.String())))
	m.FrameDuration.Record(ctx, d.Seconds())
}

// RecordDetection records one detection that passed the confidence filter.
func (m *Metrics) RecordDetection(ctx context.Context, group types.RiskGroup) {
	m.Detections.Add(ctx, 1, metric.WithAttributes(attribute.String("group", string(group))))
}

// RecordAlert records one dispatcher decision.
func (m *Metrics) RecordAlert(ctx context.Context, level types.RiskLevel, outcome string) {
	m.Alerts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("level", level.String()),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordBreakerTransition records a TTS circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(provider, state string) {
	m.BreakerTransitions.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("state", state),
		),
	)
}

// RenderFinished implements [announcer.Observer].
func (m *Metrics) RenderFinished(kind announcer.RenderKind, d time.Duration, err error) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("kind", string(kind)))
	m.RenderDuration.Record(ctx, d.Seconds(), attrs)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		m.RenderInterrupts.Add(ctx, 1, attrs)
	default:
		m.RenderErrors.Add(ctx, 1, attrs)
	}
}

// QueueDepthChanged implements [announcer.Observer].
func (m *Metrics) QueueDepthChanged(delta int) {
	m.QueueDepth.Add(context.Background(), int64(delta))
}
