// Package observe provides optional OpenTelemetry instrumentation for
// captioncore. Every recording method is nil-safe: a caller that never wires
// a [metric.MeterProvider] still gets a working, no-op *Metrics.
package observe

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/captioncore"

// Metrics holds the instrument set captioncore records against. All fields
// are safe to use on a nil *Metrics: every RecordXxx method below guards
// against it.
type Metrics struct {
	reconnects   metric.Int64Counter
	apDrops      metric.Int64Counter
	opDedupRate  metric.Float64Gauge
	sessionState metric.Int64Gauge
}

// NewMetrics constructs a Metrics bound to mp. It returns an error if any
// instrument fails to register, mirroring the sequential error-checked
// construction used elsewhere for multi-instrument instrument sets.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)

	reconnects, err := meter.Int64Counter(
		"captioncore.session.reconnects",
		metric.WithDescription("count of Session Client reconnect attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: reconnects counter: %w", err)
	}

	apDrops, err := meter.Int64Counter(
		"captioncore.audio.frames_dropped",
		metric.WithDescription("count of audio frames dropped by the pipeline's bounded queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: ap drops counter: %w", err)
	}

	opDedupRate, err := meter.Float64Gauge(
		"captioncore.overlap.dedup_rate",
		metric.WithDescription("fraction of segments dropped as duplicates by the most recent Process call"),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: dedup rate gauge: %w", err)
	}

	sessionState, err := meter.Int64Gauge(
		"captioncore.session.state",
		metric.WithDescription("current SessionState, see captiontypes.SessionState"),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: session state gauge: %w", err)
	}

	return &Metrics{
		reconnects:   reconnects,
		apDrops:      apDrops,
		opDedupRate:  opDedupRate,
		sessionState: sessionState,
	}, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a package-level Metrics bound to the global OTel
// MeterProvider, constructed once on first use. Panics if instrument
// registration fails, which should only happen on a misconfigured SDK.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic(err)
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// Attr is a convenience alias for attribute.String.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordReconnect increments the reconnect counter with the given reason
// (e.g. "network_error", "idle_timeout").
func (m *Metrics) RecordReconnect(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.reconnects.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}

// RecordDroppedFrames adds n dropped audio frames to the running total.
func (m *Metrics) RecordDroppedFrames(ctx context.Context, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.apDrops.Add(ctx, n)
}

// RecordDedupRate records the fraction (0..1) of segments the Overlap
// Processor dropped as duplicates during its most recent Process call.
func (m *Metrics) RecordDedupRate(ctx context.Context, rate float64) {
	if m == nil {
		return
	}
	m.opDedupRate.Record(ctx, rate)
}

// RecordSessionState records the current session state as its ordinal
// value, with a label attribute for readability on dashboards.
func (m *Metrics) RecordSessionState(ctx context.Context, state int64, label string) {
	if m == nil {
		return
	}
	m.sessionState.Record(ctx, state, metric.WithAttributes(Attr("state", label)))
}
