// Package metrics is a thin facade over a Prometheus registry. Instruments are
// looked up by name and label pairs, so call sites need no up-front
// declaration, and the registry is served on the API's /metrics route.
package metrics

import (
	"bytes"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// DefaultBuckets are latency buckets in seconds, stretched to cover LLM calls.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// RatioBuckets suit observations in [0,1] such as scores.
var RatioBuckets = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1}

// Counter is a monotonically increasing counter.
type Counter struct{ c prometheus.Counter }

func (c *Counter) Inc()        { c.c.Inc() }
func (c *Counter) Add(n int64) { c.c.Add(float64(n)) }

// Value reads the current count.
func (c *Counter) Value() int64 {
	var m dto.Metric
	if err := c.c.Write(&m); err != nil {
		return 0
	}
	return int64(m.GetCounter().GetValue())
}

// Gauge can go up and down.
type Gauge struct{ g prometheus.Gauge }

func (g *Gauge) Set(n int64) { g.g.Set(float64(n)) }
func (g *Gauge) Inc()        { g.g.Inc() }
func (g *Gauge) Dec()        { g.g.Dec() }

// Value reads the current level.
func (g *Gauge) Value() int64 {
	var m dto.Metric
	if err := g.g.Write(&m); err != nil {
		return 0
	}
	return int64(m.GetGauge().GetValue())
}

// Histogram tracks the distribution of observed values.
type Histogram struct{ o prometheus.Observer }

func (h *Histogram) Observe(v float64) { h.o.Observe(v) }

// Since observes the seconds elapsed since t.
func (h *Histogram) Since(t time.Time) { h.o.Observe(time.Since(t).Seconds()) }

// Registry hands out instruments backed by one Prometheus registry. A name
// must always be used with the same label keys.
type Registry struct {
	reg *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// New returns a registry that also exports Go runtime and process metrics.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{
		reg:        reg,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Counter returns (or creates) an unlabelled counter.
func (r *Registry) Counter(name, help string) *Counter {
	return r.CounterWith(name, help)
}

// CounterWith returns the counter for name with the given label pairs, e.g.
// CounterWith("garage_ask_total", help, "outcome", "ok"). Help is taken from
// the first call for a name.
func (r *Registry) CounterWith(name, help string, kvs ...string) *Counter {
	keys, values := splitPairs(kvs)
	r.mu.Lock()
	defer r.mu.Unlock()
	vec, ok := r.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, keys)
		r.reg.MustRegister(vec)
		r.counters[name] = vec
	}
	return &Counter{c: vec.WithLabelValues(values...)}
}

// Gauge returns (or creates) a gauge.
func (r *Registry) Gauge(name, help string, kvs ...string) *Gauge {
	keys, values := splitPairs(kvs)
	r.mu.Lock()
	defer r.mu.Unlock()
	vec, ok := r.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, keys)
		r.reg.MustRegister(vec)
		r.gauges[name] = vec
	}
	return &Gauge{g: vec.WithLabelValues(values...)}
}

// Histogram returns (or creates) a histogram. Nil buckets mean
// DefaultBuckets; buckets are fixed by the first call for a name.
func (r *Registry) Histogram(name, help string, buckets []float64, kvs ...string) *Histogram {
	if buckets == nil {
		buckets = DefaultBuckets
	}
	keys, values := splitPairs(kvs)
	r.mu.Lock()
	defer r.mu.Unlock()
	vec, ok := r.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, keys)
		r.reg.MustRegister(vec)
		r.histograms[name] = vec
	}
	return &Histogram{o: vec.WithLabelValues(values...)}
}

// splitPairs separates k1, v1, k2, v2... into keys and values. A trailing
// key without a value is dropped.
func splitPairs(kvs []string) (keys, values []string) {
	for i := 0; i+1 < len(kvs); i += 2 {
		keys = append(keys, kvs[i])
		values = append(values, kvs[i+1])
	}
	return keys, values
}

// Render returns every registered family in the Prometheus text format.
func (r *Registry) Render() string {
	families, err := r.reg.Gather()
	var b bytes.Buffer
	for _, mf := range families {
		if _, werr := expfmt.MetricFamilyToText(&b, mf); werr != nil {
			break
		}
	}
	if err != nil {
		b.WriteString("# gather error: " + err.Error() + "\n")
	}
	return b.String()
}

// Handler serves the registry for scraping.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
