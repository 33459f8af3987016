package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-newscache/logger"
	"github.com/saiset-co/sai-newscache/types"
	"github.com/saiset-co/sai-newscache/utils"
)

func testLogger(t *testing.T) types.Logger {
	t.Helper()

	log, err := logger.NewDefaultLogger(&types.LoggerConfig{Level: "error"})
	require.NoError(t, err)

	return log
}

func TestNewManagerDisabled(t *testing.T) {
	_, err := NewManager(testLogger(t), nil)
	assert.ErrorIs(t, err, types.ErrMetricsIsDisabled)

	_, err = NewManager(testLogger(t), &types.MetricsConfig{Enabled: false})
	assert.ErrorIs(t, err, types.ErrMetricsIsDisabled)
}

func TestNewManagerTypes(t *testing.T) {
	manager, err := NewManager(testLogger(t), &types.MetricsConfig{Enabled: true})
	require.NoError(t, err)
	assert.IsType(t, &MemoryMetrics{}, manager)

	manager, err = NewManager(testLogger(t), &types.MetricsConfig{Enabled: true, Type: "prometheus"})
	require.NoError(t, err)
	assert.IsType(t, &PrometheusMetrics{}, manager)

	_, err = NewManager(testLogger(t), &types.MetricsConfig{Enabled: true, Type: "statsd"})
	assert.ErrorIs(t, err, types.ErrMetricsTypeUnknown)
}

func TestRegisterCustomManager(t *testing.T) {
	RegisterMetricsManager("test-custom", func(config interface{}) (types.MetricsManager, error) {
		return NewMemoryMetrics(nil, nil)
	})

	manager, err := NewManager(testLogger(t), &types.MetricsConfig{Enabled: true, Type: "test-custom"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryMetrics{}, manager)
}

func TestMemoryCounter(t *testing.T) {
	manager, err := NewMemoryMetrics(testLogger(t), nil)
	require.NoError(t, err)

	counter := manager.Counter("requests_total", map[string]string{"route": "top"})
	counter.Inc()
	counter.Add(2.5)

	// The same name and labels resolve to the same series.
	again := manager.Counter("requests_total", map[string]string{"route": "top"})
	assert.InDelta(t, 3.5, again.Get(), 1e-9)

	other := manager.Counter("requests_total", map[string]string{"route": "everything"})
	assert.Zero(t, other.Get())
}

func TestMemoryCounterConcurrent(t *testing.T) {
	manager, err := NewMemoryMetrics(testLogger(t), nil)
	require.NoError(t, err)

	counter := manager.Counter("hits", nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				counter.Inc()
			}
		}()
	}
	wg.Wait()

	assert.InDelta(t, 8000, counter.Get(), 1e-9)
}

func TestMemoryGauge(t *testing.T) {
	manager, err := NewMemoryMetrics(testLogger(t), nil)
	require.NoError(t, err)

	gauge := manager.Gauge("inflight", nil)
	gauge.Set(10)
	gauge.Inc()
	gauge.Dec()
	gauge.Add(5)
	gauge.Sub(2)

	assert.InDelta(t, 13, gauge.Get(), 1e-9)
}

func TestMemoryHistogram(t *testing.T) {
	manager, err := NewMemoryMetrics(testLogger(t), nil)
	require.NoError(t, err)

	histogram := manager.Histogram("latency_seconds", []float64{0.1, 1}, nil)
	histogram.Observe(0.25)
	histogram.Observe(0.75)
	histogram.ObserveDuration(time.Now())

	assert.Equal(t, uint64(3), histogram.GetCount())
	assert.InDelta(t, 1.0, histogram.GetSum(), 0.05)
}

func TestMemoryGetMetrics(t *testing.T) {
	manager, err := NewMemoryMetrics(testLogger(t), nil)
	require.NoError(t, err)

	manager.Counter("requests_total", map[string]string{"route": "top"}).Inc()
	manager.Gauge("inflight", nil).Set(3)
	manager.Histogram("latency_seconds", nil, nil).Observe(0.5)

	raw, err := manager.GetMetrics()
	require.NoError(t, err)

	var snapshot map[string]interface{}
	require.NoError(t, utils.Unmarshal(raw, &snapshot))

	assert.InDelta(t, 1.0, snapshot[`requests_total{route=top}`], 1e-9)
	assert.InDelta(t, 3.0, snapshot["inflight"], 1e-9)
	assert.Contains(t, snapshot, "latency_seconds")
}

func TestMetricKeyLabelOrder(t *testing.T) {
	a := metricKey("m", map[string]string{"a": "1", "b": "2"})
	b := metricKey("m", map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, a, b)
	assert.Equal(t, "m", metricKey("m", nil))
}

func TestPrometheusMetrics(t *testing.T) {
	manager, err := NewPrometheusMetrics(testLogger(t), &types.MetricsConfig{Enabled: true, Type: "prometheus"})
	require.NoError(t, err)

	counter := manager.Counter("requests_total", map[string]string{"route": "top"})
	counter.Inc()
	counter.Add(2)
	assert.InDelta(t, 3.0, counter.Get(), 1e-9)

	gauge := manager.Gauge("inflight", nil)
	gauge.Set(7)
	gauge.Sub(2)
	assert.InDelta(t, 5.0, gauge.Get(), 1e-9)

	histogram := manager.Histogram("latency_seconds", []float64{0.1, 1, 5}, nil)
	histogram.Observe(0.5)
	histogram.Observe(2)
	assert.Equal(t, uint64(2), histogram.GetCount())
	assert.InDelta(t, 2.5, histogram.GetSum(), 1e-9)

	raw, err := manager.GetMetrics()
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
}

func TestPrometheusLifecycle(t *testing.T) {
	manager, err := NewPrometheusMetrics(testLogger(t), &types.MetricsConfig{Enabled: true, Type: "prometheus"})
	require.NoError(t, err)

	require.NoError(t, manager.Start())
	assert.True(t, manager.IsRunning())
	assert.ErrorIs(t, manager.Start(), types.ErrServerAlreadyRunning)

	require.NoError(t, manager.Stop())
	assert.ErrorIs(t, manager.Stop(), types.ErrServerNotRunning)
}
