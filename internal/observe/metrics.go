// Package observe wires OpenTelemetry metrics with a Prometheus exporter so
// the gateway can be scraped via /metrics. All instruments are nil-safe:
// recording on a nil *Metrics is a no-op, which keeps telemetry optional in
// tests and in the headless client.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all sign-relay metrics.
const meterName = "github.com/amanullahtanweer/sign-relay"

// Metrics holds the metric instruments for the relay.
type Metrics struct {
	// FramesRelayed counts frames that produced a prediction event, by
	// outcome. Use attribute.String("outcome", "ok"|"error").
	FramesRelayed metric.Int64Counter

	// SubmitDuration tracks inference round-trip latency in seconds.
	SubmitDuration metric.Float64Histogram

	// LinkStateChanges counts inference link state transitions. Use
	// attribute.String("state", ...).
	LinkStateChanges metric.Int64Counter

	// ActiveSessions tracks the number of connected client sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets are histogram boundaries (seconds) sized for per-frame
// inference round trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates all instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesRelayed, err = m.Int64Counter("signrelay.frames.relayed",
		metric.WithDescription("Total frames relayed, by outcome."),
	); err != nil {
		return nil, err
	}
	if met.SubmitDuration, err = m.Float64Histogram("signrelay.submit.duration",
		metric.WithDescription("Inference submit round-trip latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LinkStateChanges, err = m.Int64Counter("signrelay.link.state_changes",
		metric.WithDescription("Inference link state transitions, by new state."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("signrelay.active_sessions",
		metric.WithDescription("Number of connected client sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level Metrics instance backed by the
// global meter provider, creating it on first call.
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

// RecordFrame records one relayed frame and its round-trip latency.
func (m *Metrics) RecordFrame(ctx context.Context, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.FramesRelayed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.SubmitDuration.Record(ctx, seconds)
}

// RecordLinkState records one link state transition.
func (m *Metrics) RecordLinkState(ctx context.Context, state string) {
	if m == nil {
		return
	}
	m.LinkStateChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// SessionOpened increments the active session gauge.
func (m *Metrics) SessionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, 1)
}

// SessionClosed decrements the active session gauge.
func (m *Metrics) SessionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, -1)
}
