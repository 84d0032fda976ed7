// Copyright 2025 James Ross
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	DocumentsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_documents_started_total",
		Help: "Total number of documents for which fetch was started",
	})
	DocumentsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_documents_completed_total",
		Help: "Total number of documents that reached COMPLETED",
	})
	DocumentsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_documents_failed_total",
		Help: "Total number of documents that reached FAILED_TERMINAL",
	})
	DocumentsRetried = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_documents_retried_total",
		Help: "Total number of FAILED_RETRYABLE -> RETRYING transitions",
	})
	DocumentsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_documents_skipped_total",
		Help: "Total number of documents skipped because they were already COMPLETED",
	})
	DocumentProcessingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingest_document_processing_duration_seconds",
		Help:    "Histogram of per-document fetch+parse+validate+write durations",
		Buckets: prometheus.DefBuckets,
	})
	EventQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_event_queue_depth",
		Help: "Current depth of the bounded pipeline event queue",
	})
	CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ingest_circuit_breaker_state",
		Help: "0 Closed, 1 HalfOpen, 2 Open, labeled by adapter",
	}, []string{"adapter"})
	CircuitBreakerTrips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_circuit_breaker_trips_total",
		Help: "Count of times an adapter's circuit breaker transitioned to Open",
	}, []string{"adapter"})
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_http_requests_total",
		Help: "HTTP requests made by the typed client, labeled by host and outcome",
	}, []string{"host", "outcome"})
	HTTPRequestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingest_http_request_duration_seconds",
		Help:    "HTTP request duration as observed by the typed client",
		Buckets: prometheus.DefBuckets,
	})
	HTTPRetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_http_retries_total",
		Help: "HTTP retry attempts, labeled by host and reason",
	}, []string{"host", "reason"})
	RateLimitWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingest_rate_limit_wait_seconds",
		Help:    "Time spent blocked on the per-host token bucket",
		Buckets: prometheus.DefBuckets,
	})
	LedgerCompactions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_ledger_compactions_total",
		Help: "Total number of ledger snapshot compactions",
	})
	LedgerStuckEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_ledger_stuck_entries",
		Help: "Number of non-terminal ledger entries older than the stuck threshold, as of the last scan",
	})
)

func init() {
	prometheus.MustRegister(
		DocumentsStarted, DocumentsCompleted, DocumentsFailed, DocumentsRetried, DocumentsSkipped,
		DocumentProcessingDuration, EventQueueDepth,
		CircuitBreakerState, CircuitBreakerTrips,
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRetriesTotal, RateLimitWaitSeconds,
		LedgerCompactions, LedgerStuckEntries,
	)
}
