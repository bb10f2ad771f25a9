// Package observe provides the observability primitives shared by the
// recognizer packages and commands: OpenTelemetry metrics, a Prometheus
// exporter bridge and slog logger construction.
//
// Library packages take a *Metrics through their options and fall back to
// [DefaultMetrics], which is bound to the global meter provider. Tests should
// use [NewMetrics] with a ManualReader-backed provider.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all recognizer metrics.
const meterName = "github.com/ieee0824/asr-seq2seq"

// Metrics holds the metric instruments of the toolkit. All fields are safe
// for concurrent use.
type Metrics struct {
	// EncodeDuration tracks the latency of one encoder batch.
	EncodeDuration metric.Float64Histogram

	// DecodeDuration tracks the latency of one beam search batch. Use with
	// attribute "mode".
	DecodeDuration metric.Float64Histogram

	// EvalUtterances counts scored utterances. Use with attribute "metric"
	// (wer, cer, per).
	EvalUtterances metric.Int64Counter

	// EvalSkipped counts utterances excluded from a metric, either for an
	// empty reference or a scoring error.
	EvalSkipped metric.Int64Counter

	// UnkResolved counts placeholders replaced from the character hypothesis.
	UnkResolved metric.Int64Counter

	// UnkUnresolved counts placeholders left in place.
	UnkUnresolved metric.Int64Counter
}

// latencyBuckets are histogram boundaries in seconds.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates all instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.EncodeDuration, err = m.Float64Histogram("asr.encode.duration",
		metric.WithDescription("Latency of encoding one feature batch."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DecodeDuration, err = m.Float64Histogram("asr.decode.duration",
		metric.WithDescription("Latency of beam search over one batch by mode."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.EvalUtterances, err = m.Int64Counter("asr.eval.utterances",
		metric.WithDescription("Utterances scored by metric."),
	); err != nil {
		return nil, err
	}
	if met.EvalSkipped, err = m.Int64Counter("asr.eval.skipped",
		metric.WithDescription("Utterances skipped by metric."),
	); err != nil {
		return nil, err
	}
	if met.UnkResolved, err = m.Int64Counter("asr.unk.resolved",
		metric.WithDescription("Unknown-word placeholders resolved from the character hypothesis."),
	); err != nil {
		return nil, err
	}
	if met.UnkUnresolved, err = m.Int64Counter("asr.unk.unresolved",
		metric.WithDescription("Unknown-word placeholders left unresolved."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance created from
// [otel.GetMeterProvider] on first use.
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

// Attr is a shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// ObserveEncode records the time elapsed since start.
func (m *Metrics) ObserveEncode(ctx context.Context, start time.Time) {
	m.EncodeDuration.Record(ctx, time.Since(start).Seconds())
}

// ObserveDecode records the time elapsed since start for the given mode.
func (m *Metrics) ObserveDecode(ctx context.Context, mode string, start time.Time) {
	m.DecodeDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(Attr("mode", mode)),
	)
}

// RecordScored adds n scored and skipped utterances for one metric name.
func (m *Metrics) RecordScored(ctx context.Context, name string, scored, skipped int) {
	attrs := metric.WithAttributes(Attr("metric", name))
	if scored > 0 {
		m.EvalUtterances.Add(ctx, int64(scored), attrs)
	}
	if skipped > 0 {
		m.EvalSkipped.Add(ctx, int64(skipped), attrs)
	}
}

// RecordUnk adds resolver outcome counts.
func (m *Metrics) RecordUnk(ctx context.Context, resolved, unresolved int) {
	if resolved > 0 {
		m.UnkResolved.Add(ctx, int64(resolved))
	}
	if unresolved > 0 {
		m.UnkUnresolved.Add(ctx, int64(unresolved))
	}
}
