package metrics

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-payhooks/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultBuckets covers handler latencies in milliseconds.
var DefaultBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

type Option func(*PrometheusRecorder)

func WithNamespace(namespace string) Option {
	return func(r *PrometheusRecorder) {
		r.namespace = sanitize(namespace)
	}
}

func WithBuckets(buckets []float64) Option {
	return func(r *PrometheusRecorder) {
		if len(buckets) > 0 {
			r.buckets = append([]float64(nil), buckets...)
		}
	}
}

// PrometheusRecorder maps the pipeline metric names onto Prometheus vectors.
// The label set of a metric is fixed by its first observation; later tags
// missing a label report it empty and extra tags are dropped.
type PrometheusRecorder struct {
	registry  *prometheus.Registry
	namespace string
	buckets   []float64

	mu         sync.Mutex
	counters   map[string]*vec[*prometheus.CounterVec]
	histograms map[string]*vec[*prometheus.HistogramVec]
	gauges     map[string]*vec[*prometheus.GaugeVec]
}

type vec[T any] struct {
	collector T
	labels    []string
}

func NewPrometheusRecorder(registry *prometheus.Registry, opts ...Option) *PrometheusRecorder {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	r := &PrometheusRecorder{
		registry:   registry,
		buckets:    DefaultBuckets,
		counters:   map[string]*vec[*prometheus.CounterVec]{},
		histograms: map[string]*vec[*prometheus.HistogramVec]{},
		gauges:     map[string]*vec[*prometheus.GaugeVec]{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *PrometheusRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if value < 0 {
		return
	}
	r.mu.Lock()
	entry, ok := r.counters[name]
	if !ok {
		labels := labelNames(tags)
		entry = &vec[*prometheus.CounterVec]{
			collector: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: r.namespace,
				Name:      sanitize(name) + "_total",
				Help:      "Counter " + name,
			}, labels),
			labels: labels,
		}
		if !r.register(entry.collector) {
			r.mu.Unlock()
			return
		}
		r.counters[name] = entry
	}
	r.mu.Unlock()
	entry.collector.WithLabelValues(labelValues(entry.labels, tags)...).Add(float64(value))
}

func (r *PrometheusRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	r.mu.Lock()
	entry, ok := r.histograms[name]
	if !ok {
		labels := labelNames(tags)
		entry = &vec[*prometheus.HistogramVec]{
			collector: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: r.namespace,
				Name:      sanitize(name),
				Help:      "Histogram " + name,
				Buckets:   r.buckets,
			}, labels),
			labels: labels,
		}
		if !r.register(entry.collector) {
			r.mu.Unlock()
			return
		}
		r.histograms[name] = entry
	}
	r.mu.Unlock()
	entry.collector.WithLabelValues(labelValues(entry.labels, tags)...).Observe(value)
}

func (r *PrometheusRecorder) SetGauge(_ context.Context, name string, value float64, tags map[string]string) {
	r.mu.Lock()
	entry, ok := r.gauges[name]
	if !ok {
		labels := labelNames(tags)
		entry = &vec[*prometheus.GaugeVec]{
			collector: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: r.namespace,
				Name:      sanitize(name),
				Help:      "Gauge " + name,
			}, labels),
			labels: labels,
		}
		if !r.register(entry.collector) {
			r.mu.Unlock()
			return
		}
		r.gauges[name] = entry
	}
	r.mu.Unlock()
	entry.collector.WithLabelValues(labelValues(entry.labels, tags)...).Set(value)
}

// register drops the metric when its name collides with another kind.
func (r *PrometheusRecorder) register(collector prometheus.Collector) bool {
	return r.registry.Register(collector) == nil
}

func labelNames(tags map[string]string) []string {
	names := make([]string, 0, len(tags))
	for key := range tags {
		if label := sanitize(key); label != "" {
			names = append(names, label)
		}
	}
	sort.Strings(names)
	return names
}

func labelValues(labels []string, tags map[string]string) []string {
	normalized := make(map[string]string, len(tags))
	for key, value := range tags {
		normalized[sanitize(key)] = value
	}
	values := make([]string, len(labels))
	for i, label := range labels {
		values[i] = normalized[label]
	}
	return values
}

// sanitize turns payhooks.events.received into payhooks_events_received.
func sanitize(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

var _ core.MetricsRecorder = (*PrometheusRecorder)(nil)
