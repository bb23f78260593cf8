package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the HTTP layer's Prometheus collectors.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ThrottledTotal  prometheus.Counter
	ThrottleKeys    prometheus.Gauge
}

// NewMetrics creates and registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bluquist",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of API requests processed",
			},
			[]string{"route", "method", "status"}, // status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "bluquist",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		ThrottledTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "bluquist",
				Subsystem: "http",
				Name:      "throttled_total",
				Help:      "Public endpoint requests rejected by the per-IP throttle",
			},
		),
		ThrottleKeys: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "bluquist",
				Subsystem: "http",
				Name:      "throttle_keys",
				Help:      "Number of client IPs tracked by the throttle",
			},
		),
	}
}
