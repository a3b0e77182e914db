// Package metrics exposes Prometheus collectors for backend operations and
// convergence waits.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors groups every metric the controller emits. Register it against
// a prometheus.Registerer once at startup.
type Collectors struct {
	BackendOps       *prometheus.CounterVec
	BackendOpLatency *prometheus.HistogramVec
	ConvergenceWait  *prometheus.HistogramVec
	RouteCount       prometheus.Gauge
}

// New builds the collector set without registering it.
func New() *Collectors {
	return &Collectors{
		BackendOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "traefik_kv_proxy",
			Name:      "backend_operations_total",
			Help:      "Count of backend operations by kind and outcome.",
		}, []string{"op", "outcome"}),
		BackendOpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "traefik_kv_proxy",
			Name:      "backend_operation_duration_seconds",
			Help:      "Latency of backend operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		ConvergenceWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "traefik_kv_proxy",
			Name:      "convergence_wait_seconds",
			Help:      "Time spent waiting for a route mutation to become visible in Traefik.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"direction"}),
		RouteCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "traefik_kv_proxy",
			Name:      "routes",
			Help:      "Number of routes currently present in the index.",
		}),
	}
}

// MustRegister registers every collector against reg, panicking on
// duplicate registration (mirrors prometheus.MustRegister's convention).
func (c *Collectors) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(c.BackendOps, c.BackendOpLatency, c.ConvergenceWait, c.RouteCount)
}
