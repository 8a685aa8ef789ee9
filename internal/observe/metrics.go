// Package observe provides application-wide observability primitives for
// readaloud: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all readaloud metrics.
const meterName = "github.com/MrWong99/readaloud"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// SynthesisDuration tracks wall-clock latency of one synthesis attempt,
	// from dispatch to settled outcome. Use with attributes:
	//   attribute.String("engine", ...), attribute.String("status", ...)
	SynthesisDuration metric.Float64Histogram

	// PlayDuration tracks the latency of a whole play call including
	// retries.
	PlayDuration metric.Float64Histogram

	// --- Counters ---

	// SynthesisAttempts counts dispatched synthesis attempts. Use with
	// attributes:
	//   attribute.String("engine", ...), attribute.String("status", ...)
	SynthesisAttempts metric.Int64Counter

	// WatchdogAborts counts attempts aborted by the watchdog. Use with
	// attributes:
	//   attribute.String("engine", ...), attribute.String("reason", ...)
	WatchdogAborts metric.Int64Counter

	// AudioBytes counts audio payload bytes received, by engine.
	AudioBytes metric.Int64Counter

	// --- Error counters ---

	// EngineErrors counts engine failures. Use with attributes:
	//   attribute.String("engine", ...), attribute.String("kind", ...)
	EngineErrors metric.Int64Counter

	// --- Gauges ---

	// ActivePlays tracks the number of in-flight play calls.
	ActivePlays metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// speech-synthesis latencies: sub-second streaming starts through multi-turn
// synthesis of long texts.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SynthesisDuration, err = m.Float64Histogram("readaloud.synthesis.duration",
		metric.WithDescription("Latency of one synthesis attempt by engine and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlayDuration, err = m.Float64Histogram("readaloud.play.duration",
		metric.WithDescription("Latency of a whole play call including retries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SynthesisAttempts, err = m.Int64Counter("readaloud.synthesis.attempts",
		metric.WithDescription("Total synthesis attempts by engine and status."),
	); err != nil {
		return nil, err
	}
	if met.WatchdogAborts, err = m.Int64Counter("readaloud.watchdog.aborts",
		metric.WithDescription("Total watchdog-aborted attempts by engine and reason."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytes, err = m.Int64Counter("readaloud.audio.bytes",
		metric.WithDescription("Total audio payload bytes received by engine."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.EngineErrors, err = m.Int64Counter("readaloud.engine.errors",
		metric.WithDescription("Total engine failures by engine and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActivePlays, err = m.Int64UpDownCounter("readaloud.active_plays",
		metric.WithDescription("Number of in-flight play calls."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("readaloud.http.request.duration",
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

// RecordAttempt records one settled synthesis attempt with the standard
// attribute set.
func (m *Metrics) RecordAttempt(ctx context.Context, engine, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("engine", engine),
		attribute.String("status", status),
	)
	m.SynthesisAttempts.Add(ctx, 1, attrs)
	m.SynthesisDuration.Record(ctx, seconds, attrs)
}

// RecordPlayDuration records the latency of a whole play call.
func (m *Metrics) RecordPlayDuration(ctx context.Context, engine string, seconds float64) {
	m.PlayDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("engine", engine)),
	)
}

// RecordWatchdogAbort records a watchdog-aborted attempt.
func (m *Metrics) RecordWatchdogAbort(ctx context.Context, engine, reason string) {
	m.WatchdogAborts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("engine", engine),
			attribute.String("reason", reason),
		),
	)
}

// RecordEngineError records an engine failure counter increment.
func (m *Metrics) RecordEngineError(ctx context.Context, engine, kind string) {
	m.EngineErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("engine", engine),
			attribute.String("kind", kind),
		),
	)
}

// RecordAudioBytes records received audio payload bytes for an engine.
func (m *Metrics) RecordAudioBytes(ctx context.Context, engine string, n int64) {
	if n <= 0 {
		return
	}
	m.AudioBytes.Add(ctx, n,
		metric.WithAttributes(attribute.String("engine", engine)),
	)
}
