package metrics

import (
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saiset-co/sai-newscache/types"
	"github.com/saiset-co/sai-newscache/utils"
)

// MemoryMetrics is the zero-dependency default backend. Good enough for
// the Status document; prometheus is the production choice.
type MemoryMetrics struct {
	logger     types.Logger
	counters   sync.Map
	gauges     sync.Map
	histograms sync.Map
	started    int32
}

func NewMemoryMetrics(logger types.Logger, _ *types.MetricsConfig) (types.MetricsManager, error) {
	return &MemoryMetrics{logger: logger}, nil
}

func (m *MemoryMetrics) Counter(name string, labels map[string]string) types.Counter {
	key := metricKey(name, labels)
	actual, _ := m.counters.LoadOrStore(key, &memoryCounter{})
	return actual.(*memoryCounter)
}

func (m *MemoryMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	key := metricKey(name, labels)
	actual, _ := m.gauges.LoadOrStore(key, &memoryGauge{})
	return actual.(*memoryGauge)
}

func (m *MemoryMetrics) Histogram(name string, _ []float64, labels map[string]string) types.Histogram {
	key := metricKey(name, labels)
	actual, _ := m.histograms.LoadOrStore(key, &memoryHistogram{})
	return actual.(*memoryHistogram)
}

func (m *MemoryMetrics) GetMetrics() ([]byte, error) {
	snapshot := make(map[string]interface{})

	m.counters.Range(func(key, value interface{}) bool {
		snapshot[key.(string)] = value.(*memoryCounter).Get()
		return true
	})
	m.gauges.Range(func(key, value interface{}) bool {
		snapshot[key.(string)] = value.(*memoryGauge).Get()
		return true
	})
	m.histograms.Range(func(key, value interface{}) bool {
		h := value.(*memoryHistogram)
		snapshot[key.(string)] = map[string]interface{}{
			"count": h.GetCount(),
			"sum":   h.GetSum(),
		}
		return true
	})

	return utils.Marshal(snapshot)
}

func (m *MemoryMetrics) Start() error {
	atomic.StoreInt32(&m.started, 1)
	return nil
}

func (m *MemoryMetrics) Stop() error {
	atomic.StoreInt32(&m.started, 0)
	return nil
}

func (m *MemoryMetrics) IsRunning() bool {
	return atomic.LoadInt32(&m.started) == 1
}

func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	parts := make([]string, 0, len(labels))
	for k, v := range labels {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)

	return name + "{" + strings.Join(parts, ",") + "}"
}

type memoryCounter struct {
	bits atomic.Uint64
}

func (c *memoryCounter) Inc() { c.Add(1) }

func (c *memoryCounter) Add(value float64) {
	for {
		old := c.bits.Load()
		updated := math.Float64bits(math.Float64frombits(old) + value)
		if c.bits.CompareAndSwap(old, updated) {
			return
		}
	}
}

func (c *memoryCounter) Get() float64 {
	return math.Float64frombits(c.bits.Load())
}

type memoryGauge struct {
	bits atomic.Uint64
}

func (g *memoryGauge) Set(value float64) {
	g.bits.Store(math.Float64bits(value))
}

func (g *memoryGauge) Inc() { g.Add(1) }
func (g *memoryGauge) Dec() { g.Add(-1) }

func (g *memoryGauge) Add(value float64) {
	for {
		old := g.bits.Load()
		updated := math.Float64bits(math.Float64frombits(old) + value)
		if g.bits.CompareAndSwap(old, updated) {
			return
		}
	}
}

func (g *memoryGauge) Sub(value float64) { g.Add(-value) }

func (g *memoryGauge) Get() float64 {
	return math.Float64frombits(g.bits.Load())
}

type memoryHistogram struct {
	count atomic.Uint64
	sum   struct {
		mu    sync.Mutex
		value float64
	}
}

func (h *memoryHistogram) Observe(value float64) {
	h.count.Add(1)
	h.sum.mu.Lock()
	h.sum.value += value
	h.sum.mu.Unlock()
}

func (h *memoryHistogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

func (h *memoryHistogram) GetCount() uint64 {
	return h.count.Load()
}

func (h *memoryHistogram) GetSum() float64 {
	h.sum.mu.Lock()
	defer h.sum.mu.Unlock()
	return h.sum.value
}
