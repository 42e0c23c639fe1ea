package observe_test

import (
	"context"
	"testing"

	"github.com/MrWong99/captioncore/pkg/observe"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

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

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	require.NotNil(t, m)
}

func TestRecordReconnect_IncrementsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordReconnect(ctx, "network_error")
	m.RecordReconnect(ctx, "network_error")
	m.RecordReconnect(ctx, "idle_timeout")

	rm := collect(t, reader)
	met := findMetric(rm, "captioncore.session.reconnects")
	require.NotNil(t, met)
	sum, ok := met.Data.(metricdata.Sum[int64])
	require.True(t, ok)

	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == "reason" && kv.Value.AsString() == "network_error" {
				require.EqualValues(t, 2, dp.Value)
				return
			}
		}
	}
	t.Fatal("data point with reason=network_error not found")
}

func TestRecordDroppedFrames_AccumulatesAndSkipsZero(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDroppedFrames(ctx, 3)
	m.RecordDroppedFrames(ctx, 0)
	m.RecordDroppedFrames(ctx, 2)

	rm := collect(t, reader)
	met := findMetric(rm, "captioncore.audio.frames_dropped")
	require.NotNil(t, met)
	sum, ok := met.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	require.EqualValues(t, 5, sum.DataPoints[0].Value)
}

func TestRecordDedupRate_RecordsLatestValue(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDedupRate(ctx, 0.25)
	m.RecordDedupRate(ctx, 0.4)

	rm := collect(t, reader)
	met := findMetric(rm, "captioncore.overlap.dedup_rate")
	require.NotNil(t, met)
	gauge, ok := met.Data.(metricdata.Gauge[float64])
	require.True(t, ok)
	require.NotEmpty(t, gauge.DataPoints)
	require.InDelta(t, 0.4, gauge.DataPoints[len(gauge.DataPoints)-1].Value, 1e-9)
}

func TestRecordSessionState_SetsLabeledGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSessionState(ctx, 2, "active")

	rm := collect(t, reader)
	met := findMetric(rm, "captioncore.session.state")
	require.NotNil(t, met)
	gauge, ok := met.Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.NotEmpty(t, gauge.DataPoints)
	require.EqualValues(t, 2, gauge.DataPoints[0].Value)
}

func TestNilMetrics_RecordsAreNoOps(t *testing.T) {
	var m *observe.Metrics
	ctx := context.Background()

	require.NotPanics(t, func() {
		m.RecordReconnect(ctx, "network_error")
		m.RecordDroppedFrames(ctx, 1)
		m.RecordDedupRate(ctx, 0.5)
		m.RecordSessionState(ctx, 1, "connecting")
	})
}
