package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScanAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scan_attempts_total",
		Help: "Total number of check-in attempts by outcome",
	}, []string{"outcome"})

	ScanDecisionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scan_decision_latency_seconds",
		Help:    "Latency of the admit-or-reject decision path",
		Buckets: prometheus.DefBuckets,
	})

	IdempotentReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scan_idempotent_replays_total",
		Help: "Total number of retried scans answered from a prior outcome",
	})

	AlertsRaisedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duplicate_alerts_raised_total",
		Help: "Total number of duplicate alerts opened",
	})

	AlertsEscalatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duplicate_alerts_escalated_total",
		Help: "Total number of alert escalations by resulting level",
	}, []string{"level"})

	AlertsResolvedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duplicate_alerts_resolved_total",
		Help: "Total number of alerts resolved",
	})

	AttemptPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attempt_publish_failures_total",
		Help: "Total number of attempt events that failed to publish",
	})

	FeedSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feed_subscribers",
		Help: "Current number of live feed subscribers",
	})

	FeedDroppedDeltas = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_dropped_deltas_total",
		Help: "Total number of deltas dropped on slow subscribers",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
