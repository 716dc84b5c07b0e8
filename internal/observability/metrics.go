package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IntentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "chat2carpool", Name: "intents_total", Help: "Messages classified, by intent"},
		[]string{"intent"},
	)
	MatchesFoundTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "chat2carpool", Name: "matches_found_total", Help: "Matches discovered, by type"},
		[]string{"type"},
	)
	ExtractionFailures = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "chat2carpool", Name: "extraction_failures_total", Help: "Oracle extractions that fell back or degraded"},
	)
	ExtractorLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "chat2carpool", Name: "extractor_duration_seconds", Help: "Extraction oracle latency", Buckets: prometheus.DefBuckets},
		[]string{"operation"}, // classify, extract
	)
	StoreOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "chat2carpool", Name: "store_ops_total", Help: "Persistence operations, by op and status"},
		[]string{"operation", "status"},
	)
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{Namespace: "chat2carpool", Name: "active_sessions", Help: "Live conversational sessions"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "chat2carpool", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chat2carpool",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// ObserveStoreOp records one persistence operation outcome.
func ObserveStoreOp(op string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	StoreOpsTotal.WithLabelValues(op, status).Inc()
}
