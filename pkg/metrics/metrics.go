package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_messages_total",
			Help: "Total number of messages settled by the reconciliation loop (count)",
		},
		[]string{"event_type", "outcome"},
	)

	MessageProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reconciler_processing_duration_ms",
			Help:    "End-to-end processing duration per message in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"event_type", "outcome"},
	)

	RequeueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_requeue_total",
			Help: "Total number of messages re-published to the work queue for retry (count)",
		},
		[]string{"event_type"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_dlq_messages_total",
			Help: "Total number of messages routed to the dead-letter queue (count)",
		},
		[]string{"event_type", "reason"},
	)

	DLQPublishFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconciler_dlq_publish_failures_total",
			Help: "Dead-letter publishes that failed; the original message was dropped (count)",
		},
	)

	LedgerLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_lookups_total",
			Help: "Idempotency ledger lookups by result (count)",
		},
		[]string{"result"},
	)

	LedgerDuplicateMarksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_duplicate_marks_total",
			Help: "MarkProcessed calls that found an existing terminal record (count)",
		},
	)

	StoreRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "record_store_requests_total",
			Help: "Requests issued against the external record store (count)",
		},
		[]string{"operation", "entity", "status"},
	)

	StoreRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "record_store_request_duration_ms",
			Help:    "External record store request duration in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"operation", "entity"},
	)

	StockRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stock_rejections_total",
			Help: "Orders rejected because a decrement would drive stock negative (count)",
		},
	)

	CredentialRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credential_refresh_total",
			Help: "Credential refresh attempts by status (count)",
		},
		[]string{"status"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)
)

func RegisterReconcilerMetrics() {
	prometheus.MustRegister(
		MessagesProcessedTotal,
		MessageProcessingDuration,
		RequeueTotal,
		DLQMessagesTotal,
		DLQPublishFailuresTotal,
		LedgerLookupsTotal,
		LedgerDuplicateMarksTotal,
	)
}

func RegisterStoreMetrics() {
	prometheus.MustRegister(
		StoreRequestsTotal,
		StoreRequestDuration,
		StockRejectionsTotal,
		CredentialRefreshTotal,
	)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(
		CircuitBreakerState,
		CircuitBreakerRequests,
		CircuitBreakerFailures,
	)
}

func ObserveProcessingDuration(eventType, outcome string, d time.Duration) {
	MessageProcessingDuration.WithLabelValues(eventType, outcome).Observe(float64(d.Milliseconds()))
}

func ObserveStoreRequest(operation, entity string, d time.Duration) {
	StoreRequestDuration.WithLabelValues(operation, entity).Observe(float64(d.Milliseconds()))
}
