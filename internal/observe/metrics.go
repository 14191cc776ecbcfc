// Package observe provides the service's observability primitives:
// OpenTelemetry metrics exported to Prometheus, tracing, and HTTP middleware
// that ties them to structured request logs.
//
// Tests should use [NewMetrics] with their own [metric.MeterProvider] to
// avoid cross-test pollution.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/example/voiceclone"

// Status values recorded on request counters.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds the metric instruments. All fields are safe for concurrent
// use.
type Metrics struct {
	// CloneDuration tracks end-to-end clone latency, including waiting for
	// the model.
	CloneDuration metric.Float64Histogram

	// CloneRequests counts clone calls. Attributes: status, conditioned.
	CloneRequests metric.Int64Counter

	// GeneratedSeconds sums the duration of audio returned to callers.
	GeneratedSeconds metric.Float64Counter

	// UploadDuration tracks sample validation and persistence latency.
	UploadDuration metric.Float64Histogram

	// UploadRequests counts uploads. Attributes: status, reason.
	UploadRequests metric.Int64Counter

	// StoredSamples tracks the number of reference samples on disk.
	StoredSamples metric.Int64UpDownCounter

	// HTTPRequestDuration tracks request time. Attributes: method, path, status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. Synthesis on CPU takes
// seconds, so the range is wider than a typical RPC.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80,
}

// NewMetrics creates all instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CloneDuration, err = m.Float64Histogram("voiceclone.clone.duration",
		metric.WithDescription("Latency of voice clone synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CloneRequests, err = m.Int64Counter("voiceclone.clone.requests",
		metric.WithDescription("Total clone requests by status and conditioning."),
	); err != nil {
		return nil, err
	}
	if met.GeneratedSeconds, err = m.Float64Counter("voiceclone.clone.generated_audio",
		metric.WithDescription("Total seconds of synthesized audio."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.UploadDuration, err = m.Float64Histogram("voiceclone.upload.duration",
		metric.WithDescription("Latency of sample validation and storage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UploadRequests, err = m.Int64Counter("voiceclone.upload.requests",
		metric.WithDescription("Total sample uploads by status and rejection reason."),
	); err != nil {
		return nil, err
	}
	if met.StoredSamples, err = m.Int64UpDownCounter("voiceclone.samples.stored",
		metric.WithDescription("Number of reference samples held by the voice store."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voiceclone.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordClone records one clone call. audioSeconds is ignored on failure.
func (m *Metrics) RecordClone(ctx context.Context, status string, conditioned bool, elapsed time.Duration, audioSeconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("status", status),
		attribute.Bool("conditioned", conditioned),
	)
	m.CloneRequests.Add(ctx, 1, attrs)
	m.CloneDuration.Record(ctx, elapsed.Seconds(), attrs)
	if status == StatusOK && audioSeconds > 0 {
		m.GeneratedSeconds.Add(ctx, audioSeconds)
	}
}

// RecordUpload records one upload. reason is empty on success and the
// validation code otherwise.
func (m *Metrics) RecordUpload(ctx context.Context, status, reason string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("reason", reason),
	)
	m.UploadRequests.Add(ctx, 1, attrs)
	m.UploadDuration.Record(ctx, elapsed.Seconds(), attrs)
	if status == StatusOK {
		m.StoredSamples.Add(ctx, 1)
	}
}
