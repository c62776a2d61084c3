// Package metrics registers the Prometheus collectors exposed by releaseflow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric name.
const Namespace = "releaseflow"

// Registry collects all releaseflow metrics. It is separate from the global
// default registry so that commands decide whether metrics are served at all.
var Registry = prometheus.NewRegistry()

// MustRegisterCounterVec creates and registers a counter vector.
// Must be called from `init` or a package level variable declaration.
func MustRegisterCounterVec(subsystem, name, help string, labelNames ...string) *prometheus.CounterVec {
	m := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labelNames)
	Registry.MustRegister(m)
	return m
}

// MustRegisterGauge creates and registers a gauge.
// Must be called from `init` or a package level variable declaration.
func MustRegisterGauge(subsystem, name, help string) prometheus.Gauge {
	m := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
	Registry.MustRegister(m)
	return m
}

// MustRegisterHistogramVec creates and registers a histogram vector.
// Must be called from `init` or a package level variable declaration.
func MustRegisterHistogramVec(subsystem, name, help string, buckets []float64, labelNames ...string) *prometheus.HistogramVec {
	m := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labelNames)
	Registry.MustRegister(m)
	return m
}
