// SPDX-License-Identifier: MIT

// Package metrics exposes Prometheus instrumentation for the upstream client
// and the gateway API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Upstream call metrics
	upstreamAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ppubsd_upstream_attempts_total",
		Help: "Outbound upstream attempts by method and outcome",
	}, []string{"method", "outcome"}) // outcome=success|network_timeout|network_unreachable|rate_limited|auth_expired|server_error|not_found|malformed_response

	upstreamRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ppubsd_upstream_retries_total",
		Help: "Retried upstream attempts by failure reason",
	}, []string{"reason"})

	upstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ppubsd_upstream_request_duration_seconds",
		Help:    "Upstream request latency per attempt",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	// Session metrics
	sessionRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ppubsd_session_refresh_total",
		Help: "Session establishment attempts by trigger and outcome",
	}, []string{"trigger", "outcome"}) // trigger=expired|forced|cold, outcome=success|failure

	sessionCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ppubsd_session_cache_hits_total",
		Help: "Session acquisitions served from the cached session",
	})

	// Rate limiting
	rateLimitWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ppubsd_rate_limit_waits_total",
		Help: "Outbound waits imposed by throttling, by source",
	}, []string{"source"}) // source=server_hint|policy|local_bucket

	// PDF pipeline
	printJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ppubsd_print_jobs_total",
		Help: "Print pipeline runs by terminal outcome",
	}, []string{"outcome"}) // outcome=completed|failed|timeout|error

	printPollCycles = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ppubsd_print_poll_cycles",
		Help:    "Poll calls issued per print pipeline run",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
	})

	// Result cache
	cacheOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ppubsd_cache_ops_total",
		Help: "Search/document cache operations by result",
	}, []string{"op"}) // op=hit|miss|set|error
)

// RecordUpstreamAttempt records one outbound attempt and its latency.
func RecordUpstreamAttempt(method, outcome string, seconds float64) {
	upstreamAttemptsTotal.WithLabelValues(method, outcome).Inc()
	upstreamDuration.WithLabelValues(method).Observe(seconds)
}

// RecordUpstreamRetry counts a retry scheduled for the given failure reason.
func RecordUpstreamRetry(reason string) {
	upstreamRetriesTotal.WithLabelValues(reason).Inc()
}

// RecordSessionRefresh counts a session establishment attempt.
func RecordSessionRefresh(trigger, outcome string) {
	sessionRefreshTotal.WithLabelValues(trigger, outcome).Inc()
}

// RecordSessionCacheHit counts an acquisition served from cache.
func RecordSessionCacheHit() {
	sessionCacheHits.Inc()
}

// RecordRateLimitWait counts an imposed outbound wait.
func RecordRateLimitWait(source string) {
	rateLimitWaitsTotal.WithLabelValues(source).Inc()
}

// RecordPrintJob records the terminal outcome of a print pipeline run and the
// number of poll cycles it needed.
func RecordPrintJob(outcome string, pollCycles int) {
	printJobsTotal.WithLabelValues(outcome).Inc()
	printPollCycles.Observe(float64(pollCycles))
}

// RecordCacheOp counts a result-cache operation.
func RecordCacheOp(op string) {
	cacheOpsTotal.WithLabelValues(op).Inc()
}
