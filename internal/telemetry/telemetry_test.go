package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestInit_DisabledReturnsUsableMeter(t *testing.T) {
	p, err := Init(context.Background(), Config{ServiceName: "apiwatch-test"})
	require.NoError(t, err)
	require.NotNil(t, p.Meter)
	assert.Nil(t, p.MeterProvider)
	assert.NoError(t, p.Shutdown(context.Background()))

	m, err := NewMetrics(p.Meter)
	require.NoError(t, err)
	m.Published(context.Background(), true)
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.CheckDone(ctx, true, 12)
	m.Published(ctx, false)
	m.Consumed(ctx, "ok")
	m.IncidentRecorded(ctx, "failure", "created")
	m.AlertSent(ctx, true)
}

func TestMetrics_RecordsCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	m, err := NewMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.Published(ctx, true)
	m.Published(ctx, false)
	m.Published(ctx, true)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "apiwatch.publishes" {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	assert.Equal(t, int64(3), total)
}
