package server

import (
	"bytes"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const unmatchedPath = "_unmatched"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests processed by the server",
		},
		[]string{"method", "path", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	httpRequestsInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "HTTP requests currently being served",
		},
	)
	registerMetricsOnce sync.Once
	registerMetricsErr  error
)

// RegisterMetrics registers the inbound HTTP collectors with the default
// registry. It is safe to call more than once.
func RegisterMetrics() error {
	registerMetricsOnce.Do(func() {
		for _, collector := range []prometheus.Collector{httpRequestsTotal, httpRequestDuration, httpRequestsInflight} {
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

// prefixedGatherer renames every gathered family to carry prefix.
type prefixedGatherer struct {
	prefix   string
	gatherer prometheus.Gatherer
}

func (g *prefixedGatherer) Gather() ([]*dto.MetricFamily, error) {
	mfs, err := g.gatherer.Gather()
	if err != nil {
		return nil, err
	}

	for _, mf := range mfs {
		name := g.prefix + mf.GetName()
		mf.Name = &name
	}
	return mfs, nil
}

// encodeMetrics renders the families of g in the text exposition format.
func encodeMetrics(g prometheus.Gatherer) ([]byte, error) {
	mfs, err := g.Gather()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range mfs {
		if err := encoder.Encode(mf); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func metricsGatherer() prometheus.Gatherer {
	return &prefixedGatherer{prefix: metricsPrefix, gatherer: prometheus.DefaultGatherer}
}
