package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dedupv1/dedupv1-go/pkg/blockindex"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestNewMetricsWithoutRegistryIsNilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveOperation(OpWrite, time.Millisecond, 4096)
	m.ObserveChunkWritten()
	m.SetIdle(true)
	m.SetBlockIndexStats(blockindex.Snapshot{})
}

func TestObserveOperationIncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveOperation(OpWrite, 5*time.Millisecond, 1024)
	m.ObserveOperation(OpWrite, 5*time.Millisecond, 1024)

	assert.Equal(t, float64(2), counterValue(t, m.opTotal.WithLabelValues(OpWrite)))
}

func TestObserveChunkCountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveChunkWritten()
	m.ObserveChunkDeduplicated()
	m.ObserveChunkDeduplicated()

	assert.Equal(t, float64(1), counterValue(t, m.chunksWritten))
	assert.Equal(t, float64(2), counterValue(t, m.chunksDeduplicated))
}

func TestSetBlockIndexStatsCopiesSnapshot(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.SetBlockIndexStats(blockindex.Snapshot{
		LockFree: 10, LockBusy: 2, Reads: 5, Writes: 3,
		Replays: 1, Imports: 4, AverageImportNanos: 1500,
		SoftThrottles: 1, HardThrottles: 0,
	})

	var gauge dto.Metric
	require.NoError(t, m.blockIndexImports.Write(&gauge))
	assert.Equal(t, float64(4), gauge.GetGauge().GetValue())
}
