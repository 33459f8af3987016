package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-newscache/types"
	"github.com/saiset-co/sai-newscache/utils"
)

type PrometheusConfig struct {
	Namespace       string `json:"namespace"`
	EnableGoMetrics bool   `json:"enable_go_metrics"`
}

type PrometheusMetrics struct {
	logger     types.Logger
	config     *PrometheusConfig
	registry   *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	mu         sync.Mutex
	started    int32
}

func NewPrometheusMetrics(logger types.Logger, config *types.MetricsConfig) (types.MetricsManager, error) {
	promConfig := &PrometheusConfig{
		Namespace:       "newscache",
		EnableGoMetrics: true,
	}

	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, promConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal prometheus config")
		}
	}

	registry := prometheus.NewRegistry()
	if promConfig.EnableGoMetrics {
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	metrics := &PrometheusMetrics{
		logger:     logger,
		config:     promConfig,
		registry:   registry,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}

	logger.Info("Prometheus metrics initialized",
		zap.String("namespace", promConfig.Namespace),
		zap.Bool("go_metrics", promConfig.EnableGoMetrics))

	return metrics, nil
}

func (p *PrometheusMetrics) Registry() *prometheus.Registry {
	return p.registry
}

func (p *PrometheusMetrics) Counter(name string, labels map[string]string) types.Counter {
	p.mu.Lock()
	defer p.mu.Unlock()

	vec, exists := p.counters[name]
	if !exists {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.config.Namespace,
			Name:      name,
		}, labelNames(labels))
		p.registry.MustRegister(vec)
		p.counters[name] = vec
	}

	return &prometheusCounter{counter: vec.With(labels)}
}

func (p *PrometheusMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	p.mu.Lock()
	defer p.mu.Unlock()

	vec, exists := p.gauges[name]
	if !exists {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.config.Namespace,
			Name:      name,
		}, labelNames(labels))
		p.registry.MustRegister(vec)
		p.gauges[name] = vec
	}

	return &prometheusGauge{gauge: vec.With(labels)}
}

func (p *PrometheusMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	p.mu.Lock()
	defer p.mu.Unlock()

	vec, exists := p.histograms[name]
	if !exists {
		opts := prometheus.HistogramOpts{
			Namespace: p.config.Namespace,
			Name:      name,
		}
		if len(buckets) > 0 {
			opts.Buckets = buckets
		}
		vec = prometheus.NewHistogramVec(opts, labelNames(labels))
		p.registry.MustRegister(vec)
		p.histograms[name] = vec
	}

	return &prometheusHistogram{observer: vec.With(labels)}
}

// GetMetrics serializes the gathered metric families as JSON for the
// status document; the prometheus text exposition stays with the caller's
// HTTP layer.
func (p *PrometheusMetrics) GetMetrics() ([]byte, error) {
	families, err := p.registry.Gather()
	if err != nil {
		return nil, types.WrapError(err, "failed to gather prometheus metrics")
	}

	return utils.Marshal(families)
}

func (p *PrometheusMetrics) Start() error {
	if !atomic.CompareAndSwapInt32(&p.started, 0, 1) {
		return types.ErrServerAlreadyRunning
	}
	p.logger.Info("Prometheus metrics started")
	return nil
}

func (p *PrometheusMetrics) Stop() error {
	if !atomic.CompareAndSwapInt32(&p.started, 1, 0) {
		return types.ErrServerNotRunning
	}
	p.logger.Info("Prometheus metrics stopped")
	return nil
}

func (p *PrometheusMetrics) IsRunning() bool {
	return atomic.LoadInt32(&p.started) == 1
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type prometheusCounter struct {
	counter prometheus.Counter
}

func (c *prometheusCounter) Inc()              { c.counter.Inc() }
func (c *prometheusCounter) Add(value float64) { c.counter.Add(value) }

func (c *prometheusCounter) Get() float64 {
	var m dto.Metric
	if err := c.counter.Write(&m); err != nil || m.Counter == nil {
		return 0
	}
	return m.Counter.GetValue()
}

type prometheusGauge struct {
	gauge prometheus.Gauge
}

func (g *prometheusGauge) Set(value float64) { g.gauge.Set(value) }
func (g *prometheusGauge) Inc()              { g.gauge.Inc() }
func (g *prometheusGauge) Dec()              { g.gauge.Dec() }
func (g *prometheusGauge) Add(value float64) { g.gauge.Add(value) }
func (g *prometheusGauge) Sub(value float64) { g.gauge.Sub(value) }

func (g *prometheusGauge) Get() float64 {
	var m dto.Metric
	if err := g.gauge.Write(&m); err != nil || m.Gauge == nil {
		return 0
	}
	return m.Gauge.GetValue()
}

type prometheusHistogram struct {
	observer prometheus.Observer
}

func (h *prometheusHistogram) Observe(value float64) {
	h.observer.Observe(value)
}

func (h *prometheusHistogram) ObserveDuration(start time.Time) {
	h.observer.Observe(time.Since(start).Seconds())
}

func (h *prometheusHistogram) GetCount() uint64 {
	if histogram, ok := h.observer.(prometheus.Histogram); ok {
		var m dto.Metric
		if err := histogram.Write(&m); err == nil && m.Histogram != nil {
			return m.Histogram.GetSampleCount()
		}
	}
	return 0
}

func (h *prometheusHistogram) GetSum() float64 {
	if histogram, ok := h.observer.(prometheus.Histogram); ok {
		var m dto.Metric
		if err := histogram.Write(&m); err == nil && m.Histogram != nil {
			return m.Histogram.GetSampleSum()
		}
	}
	return 0
}
