// Package observe provides application-wide observability primitives for
// candor: OpenTelemetry metrics, tracing, structured logging, and HTTP
// middleware that ties them together.
//
// Metrics go through the OpenTelemetry Metrics API and surface on the
// /metrics endpoint through the Prometheus exporter wired by
// [InitProvider]. [DefaultMetrics] is the process-wide instance; tests
// build their own via [NewMetrics] with a private meter provider so runs
// stay isolated.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all candor metrics.
const meterName = "github.com/candorvoice/candor"

// Metrics bundles every instrument the pipeline records. The fields are
// plain OTel instruments and safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// AnswerDuration tracks the time from answer request to stream end.
	AnswerDuration metric.Float64Histogram

	// FirstDeltaDuration tracks the time from answer request to the first
	// streamed delta.
	FirstDeltaDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts LLM provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts LLM provider failures by provider and kind
	// (missing_credential, upstream, stream).
	ProviderErrors metric.Int64Counter

	// Utterances counts finalized utterances by speaker label.
	Utterances metric.Int64Counter

	// QuestionsDetected counts utterances the classifier marked as questions.
	QuestionsDetected metric.Int64Counter

	// AudioFrames counts PCM frames flushed to the recognizer.
	AudioFrames metric.Int64Counter

	// --- Gauges ---

	// ActiveCaptures tracks the number of live capture pipelines.
	ActiveCaptures metric.Int64UpDownCounter

	// ActiveStreams tracks the number of live answer streams.
	ActiveStreams metric.Int64UpDownCounter

	// ConnectedClients tracks the number of connected UI clients.
	ConnectedClients metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// streaming completion latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics registers every instrument on a meter from mp. A single
// failed registration aborts the whole set.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.AnswerDuration, err = m.Float64Histogram("candor.answer.duration",
		metric.WithDescription("Time from answer request to stream completion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FirstDeltaDuration, err = m.Float64Histogram("candor.answer.first_delta",
		metric.WithDescription("Time from answer request to first streamed delta."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("candor.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("candor.provider.requests",
		metric.WithDescription("Total LLM provider requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("candor.provider.errors",
		metric.WithDescription("Total LLM provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("candor.utterances",
		metric.WithDescription("Total finalized utterances by speaker label."),
	); err != nil {
		return nil, err
	}
	if met.QuestionsDetected, err = m.Int64Counter("candor.questions.detected",
		metric.WithDescription("Total utterances classified as questions."),
	); err != nil {
		return nil, err
	}
	if met.AudioFrames, err = m.Int64Counter("candor.audio.frames",
		metric.WithDescription("Total PCM frames flushed to the recognizer."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCaptures, err = m.Int64UpDownCounter("candor.active_captures",
		metric.WithDescription("Number of live capture pipelines."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("candor.active_streams",
		metric.WithDescription("Number of live answer streams."),
	); err != nil {
		return nil, err
	}
	if met.ConnectedClients, err = m.Int64UpDownCounter("candor.connected_clients",
		metric.WithDescription("Number of connected UI clients."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics lazily builds the process-wide [Metrics] on the global
// meter provider and returns the same pointer afterwards. It panics if
// instrument registration fails, which the global provider never does.
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

// Attr shortens [attribute.String] at recording sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
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

// RecordUtterance records a finalized utterance with its speaker label and
// whether the classifier flagged it as a question.
func (m *Metrics) RecordUtterance(ctx context.Context, speaker string, isQuestion bool) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(attribute.String("speaker", speaker)),
	)
	if isQuestion {
		m.QuestionsDetected.Add(ctx, 1)
	}
}
