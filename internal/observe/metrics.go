// Package observe provides observability primitives for ScreenScribe:
// OpenTelemetry metrics, tracing, and HTTP middleware that ties them
// together for the report server.
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
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all ScreenScribe
// metrics.
const meterName = "github.com/VetCoders/ScreenScribe-sub000"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// StageDuration tracks wall-clock time per pipeline stage. Use with
	// attribute.String("stage", ...).
	StageDuration metric.Float64Histogram

	// ModelCalls counts STT/LLM/VLM API calls. Use with attributes:
	//   attribute.String("role", ...), attribute.String("status", ...)
	ModelCalls metric.Int64Counter

	// Retries counts retried model requests by role.
	Retries metric.Int64Counter

	// FindingsEmitted counts findings that survived deduplication, by
	// category.
	FindingsEmitted metric.Int64Counter

	// InFlightAnalyses tracks concurrently running VLM analysis tasks.
	InFlightAnalyses metric.Int64UpDownCounter

	// HTTPRequestDuration tracks report-server request processing time.
	// Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// stageBuckets defines histogram bucket boundaries (in seconds) sized for
// batch pipeline stages, from sub-second frame grabs up to long
// transcriptions.
var stageBuckets = []float64{
	0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("screenscribe.stage.duration",
		metric.WithDescription("Wall-clock time of a pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ModelCalls, err = m.Int64Counter("screenscribe.model.calls",
		metric.WithDescription("Total model API calls by role and status."),
	); err != nil {
		return nil, err
	}
	if met.Retries, err = m.Int64Counter("screenscribe.model.retries",
		metric.WithDescription("Total retried model requests by role."),
	); err != nil {
		return nil, err
	}
	if met.FindingsEmitted, err = m.Int64Counter("screenscribe.findings.emitted",
		metric.WithDescription("Findings surviving deduplication, by category."),
	); err != nil {
		return nil, err
	}
	if met.InFlightAnalyses, err = m.Int64UpDownCounter("screenscribe.analyses.in_flight",
		metric.WithDescription("Concurrently running analysis tasks."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("screenscribe.http.request.duration",
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

// RecordStage records one stage duration observation in seconds.
func (m *Metrics) RecordStage(ctx context.Context, stage string, seconds float64) {
	m.StageDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordModelCall records a model API call counter increment with the
// standard attribute set.
func (m *Metrics) RecordModelCall(ctx context.Context, role, status string) {
	m.ModelCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("role", role),
			attribute.String("status", status),
		),
	)
}

// RecordRetry records one retried request for the given model role.
func (m *Metrics) RecordRetry(ctx context.Context, role string) {
	m.Retries.Add(ctx, 1,
		metric.WithAttributes(attribute.String("role", role)),
	)
}

// RecordFinding records one emitted finding for the given category.
func (m *Metrics) RecordFinding(ctx context.Context, category string) {
	m.FindingsEmitted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("category", category)),
	)
}
