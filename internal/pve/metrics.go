package pve

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	upstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pve_upstream_requests_total",
			Help: "Total requests forwarded to the Proxmox VE API",
		},
		[]string{"method", "status"},
	)
	upstreamRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pve_upstream_request_duration_seconds",
			Help:    "Proxmox VE API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)
	registerMetricsOnce sync.Once
	registerMetricsErr  error
)

// RegisterMetrics registers the upstream collectors with the default
// registry. It is safe to call more than once.
func RegisterMetrics() error {
	registerMetricsOnce.Do(func() {
		for _, collector := range []prometheus.Collector{upstreamRequestsTotal, upstreamRequestDuration} {
			if err := prometheus.Register(collector); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
					continue
				}
				registerMetricsErr = err
				return
			}
		}
	})

	return registerMetricsErr
}
