// Package telemetry exposes vigia's Prometheus metrics. Until InitializeTelemetry
// runs with Prometheus enabled every metric is a no-op, so packages can record
// unconditionally.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/tqwops/vigia/cfg"
)

const namespace = "vigia"

var registry *prometheus.Registry

type Counter interface {
	Inc()
	Add(float64)
}

type Gauge interface {
	Set(float64)
	Inc()
	Dec()
	SetToCurrentTime()
}

type Histogram interface {
	Observe(float64)
}

// Vec is a metric family partitioned by label values
type Vec[M any] interface {
	With(labelValues ...string) M
}

type (
	CounterVec   = Vec[Counter]
	GaugeVec     = Vec[Gauge]
	HistogramVec = Vec[Histogram]
)

// noop satisfies Counter, Gauge and Histogram
type noop struct{}

func (noop) Inc()              {}
func (noop) Dec()              {}
func (noop) Add(float64)       {}
func (noop) Set(float64)       {}
func (noop) SetToCurrentTime() {}
func (noop) Observe(float64)   {}

type noopVec[M any] struct {
	metric M
}

func (v noopVec[M]) With(...string) M { return v.metric }

// labeledVec adapts a prometheus *Vec to Vec
type labeledVec[M any] struct {
	with func(labelValues ...string) M
}

func (v labeledVec[M]) With(labelValues ...string) M { return v.with(labelValues...) }

// opts carries the fields shared by every vigia metric
func opts(name, help string) prometheus.Opts {
	return prometheus.Opts{
		Namespace:   namespace,
		Name:        name,
		Help:        help,
		ConstLabels: prometheus.Labels{"instance_id": cfg.Config.InstanceID},
	}
}

func histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	o := opts(name, help)
	return prometheus.HistogramOpts{
		Namespace:   o.Namespace,
		Name:        o.Name,
		Help:        o.Help,
		ConstLabels: o.ConstLabels,
		Buckets:     buckets,
	}
}

func register[C prometheus.Collector](c C) C {
	registry.MustRegister(c)
	return c
}

func NewGauge(name, help string) Gauge {
	if registry == nil {
		return noop{}
	}
	return register(prometheus.NewGauge(prometheus.GaugeOpts(opts(name, help))))
}

func NewHistogram(name, help string, buckets []float64) Histogram {
	if registry == nil {
		return noop{}
	}
	return register(prometheus.NewHistogram(histogramOpts(name, help, buckets)))
}

func NewCounterVec(name, help string, labels []string) CounterVec {
	if registry == nil {
		return noopVec[Counter]{metric: noop{}}
	}
	vec := register(prometheus.NewCounterVec(prometheus.CounterOpts(opts(name, help)), labels))
	return labeledVec[Counter]{with: func(lv ...string) Counter { return vec.WithLabelValues(lv...) }}
}

func NewGaugeVec(name, help string, labels []string) GaugeVec {
	if registry == nil {
		return noopVec[Gauge]{metric: noop{}}
	}
	vec := register(prometheus.NewGaugeVec(prometheus.GaugeOpts(opts(name, help)), labels))
	return labeledVec[Gauge]{with: func(lv ...string) Gauge { return vec.WithLabelValues(lv...) }}
}

func NewHistogramVec(name, help string, labels []string, buckets []float64) HistogramVec {
	if registry == nil {
		return noopVec[Histogram]{metric: noop{}}
	}
	vec := register(prometheus.NewHistogramVec(histogramOpts(name, help, buckets), labels))
	return labeledVec[Histogram]{with: func(lv ...string) Histogram { return vec.WithLabelValues(lv...) }}
}

// InitializeTelemetry creates the registry and registers every metric when
// Prometheus is enabled. It must run after cfg.Load so instance_id is final.
func InitializeTelemetry() {
	if !cfg.Config.Prometheus.Enabled {
		return
	}

	registry = prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())

	InitMetrics()

	log.Info().Str("path", cfg.Config.Prometheus.Path).Msg("Prometheus metrics enabled")
}

// GetMetricsHandler returns nil when Prometheus is disabled
func GetMetricsHandler() http.Handler {
	if registry == nil {
		return nil
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}
