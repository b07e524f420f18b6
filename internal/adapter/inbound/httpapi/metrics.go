package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments exported on /metrics.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	DecisionsTotal  *prometheus.CounterVec
	IngestTotal     *prometheus.CounterVec
}

// NewMetrics creates and registers the instruments with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clasper",
				Name:      "requests_total",
				Help:      "HTTP requests processed",
			},
			[]string{"route", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "clasper",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		DecisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clasper",
				Name:      "decisions_total",
				Help:      "Decisions issued by effect",
			},
			[]string{"effect"},
		),
		IngestTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clasper",
				Name:      "ingest_total",
				Help:      "Telemetry envelopes by kind and outcome",
			},
			[]string{"kind", "status"},
		),
	}
}
