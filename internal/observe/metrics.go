// Package observe provides application-wide observability primitives for
// chime: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all chime metrics.
const meterName = "github.com/chimebot/chime"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranscriptionDuration tracks batch speech-to-text latency.
	TranscriptionDuration metric.Float64Histogram

	// ClassifierDuration tracks admission-classifier round-trip latency,
	// including retries.
	ClassifierDuration metric.Float64Histogram

	// ResponseDuration tracks latency from turn admission to first
	// playback audio.
	ResponseDuration metric.Float64Histogram

	// --- Counters ---

	// AdmissionDecisions counts turn-admission outcomes. Use with attributes:
	//   attribute.String("reason", ...), attribute.Bool("admitted", ...)
	AdmissionDecisions metric.Int64Counter

	// ClassifierRetries counts classifier re-asks after a contract
	// violation.
	ClassifierRetries metric.Int64Counter

	// QueueEvictions counts turn requests dropped from a full queue. Use
	// with attribute:
	//   attribute.String("queue", "drain"|"deferred")
	QueueEvictions metric.Int64Counter

	// QueueCoalesced counts same-speaker merges inside a queue. Use with
	// attribute:
	//   attribute.String("queue", "drain"|"deferred")
	QueueCoalesced metric.Int64Counter

	// CommentaryEvents counts stream-watch commentary attempts. Use with
	// attributes:
	//   attribute.String("path", "native"|"vision_fallback"), attribute.String("status", ...)
	CommentaryEvents metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// QueueDepth tracks the current number of pending turn requests. Use
	// with attribute:
	//   attribute.String("queue", "drain"|"deferred")
	QueueDepth metric.Int64UpDownCounter

	// ActiveParticipants tracks the number of connected participants across
	// all sessions.
	ActiveParticipants metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscriptionDuration, err = m.Float64Histogram("chime.transcription.duration",
		metric.WithDescription("Latency of batch speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ClassifierDuration, err = m.Float64Histogram("chime.classifier.duration",
		metric.WithDescription("Latency of the admission classifier, retries included."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ResponseDuration, err = m.Float64Histogram("chime.response.duration",
		metric.WithDescription("Latency from turn admission to first playback audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.AdmissionDecisions, err = m.Int64Counter("chime.admission.decisions",
		metric.WithDescription("Total turn-admission decisions by reason and outcome."),
	); err != nil {
		return nil, err
	}
	if met.ClassifierRetries, err = m.Int64Counter("chime.classifier.retries",
		metric.WithDescription("Total classifier re-asks after a contract violation."),
	); err != nil {
		return nil, err
	}
	if met.QueueEvictions, err = m.Int64Counter("chime.queue.evictions",
		metric.WithDescription("Total turn requests dropped from a full queue."),
	); err != nil {
		return nil, err
	}
	if met.QueueCoalesced, err = m.Int64Counter("chime.queue.coalesced",
		metric.WithDescription("Total same-speaker merges inside a queue."),
	); err != nil {
		return nil, err
	}
	if met.CommentaryEvents, err = m.Int64Counter("chime.commentary.events",
		metric.WithDescription("Total stream-watch commentary attempts by path and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("chime.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("chime.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("chime.queue.depth",
		metric.WithDescription("Current number of pending turn requests by queue."),
	); err != nil {
		return nil, err
	}
	if met.ActiveParticipants, err = m.Int64UpDownCounter("chime.active_participants",
		metric.WithDescription("Number of connected participants across all sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("chime.http.request.duration",
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

// RecordDecision records one turn-admission decision with the standard
// attribute set.
func (m *Metrics) RecordDecision(ctx context.Context, reason string, admitted bool) {
	m.AdmissionDecisions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("reason", reason),
			attribute.Bool("admitted", admitted),
		),
	)
}

// RecordEviction records one dropped turn request for the named queue.
func (m *Metrics) RecordEviction(ctx context.Context, queue string) {
	m.QueueEvictions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("queue", queue)),
	)
}

// RecordCoalesce records one same-speaker merge for the named queue.
func (m *Metrics) RecordCoalesce(ctx context.Context, queue string) {
	m.QueueCoalesced.Add(ctx, 1,
		metric.WithAttributes(attribute.String("queue", queue)),
	)
}

// RecordCommentary records one stream-watch commentary attempt.
func (m *Metrics) RecordCommentary(ctx context.Context, path, status string) {
	m.CommentaryEvents.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("path", path),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
