package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerProduction(t *testing.T) {
	logger, sync, err := NewLogger("info")
	require.NoError(t, err)
	defer sync()
	logger.Info("engine started", "build_id", "b1")
}

func TestMetricsObservePass(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObservePass("P1", "customer", time.Now().Add(-10*time.Millisecond))

	metrics, err := reg.Gather()
	require.NoError(t, err)

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "territoryassign_pass_duration_seconds" {
			found = true
			require.Len(t, mf.Metric, 1)
			require.Equal(t, uint64(1), mf.Metric[0].GetHistogram().GetSampleCount())
		}
	}
	require.True(t, found, "expected pass duration histogram to be registered")
}

func TestMetricsObserveSolveNilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveSolve("P2", "optimal", time.Now())
}

func TestMetricsRepsBelowMinimumGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.RepsBelowMinimum.Set(3)

	var out dto.Metric
	require.NoError(t, m.RepsBelowMinimum.Write(&out))
	require.Equal(t, 3.0, out.GetGauge().GetValue())
}
