package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	statementsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakequery_statements_submitted_total",
			Help: "Total number of statements submitted to the warehouse.",
		},
		[]string{"terminal_state"},
	)
	statementDurationMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lakequery_statement_duration_ms",
			Help:    "End-to-end statement duration from submit to terminal state in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 300000},
		},
	)
	pollsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lakequery_polls_total",
			Help: "Total number of statement status polls issued.",
		},
	)
	transportRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lakequery_transport_retries_total",
			Help: "Total number of transport-level retries.",
		},
	)
	rowsDecodedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lakequery_rows_decoded_total",
			Help: "Total number of result rows decoded into caller records.",
		},
	)
	rowsSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lakequery_rows_skipped_total",
			Help: "Total number of result rows skipped because they could not be decoded.",
		},
	)
	tokenResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakequery_token_resolutions_total",
			Help: "Total number of credential resolutions, by source.",
		},
		[]string{"source"},
	)
	cacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lakequery_cache_hits_total",
			Help: "Total number of result cache hits.",
		},
	)
	cacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lakequery_cache_misses_total",
			Help: "Total number of result cache misses.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		statementsSubmittedTotal,
		statementDurationMs,
		pollsTotal,
		transportRetriesTotal,
		rowsDecodedTotal,
		rowsSkippedTotal,
		tokenResolutionsTotal,
		cacheHitsTotal,
		cacheMissesTotal,
	)
}

func ObserveStatement(terminalState string, elapsed time.Duration) {
	statementsSubmittedTotal.WithLabelValues(terminalState).Inc()
	statementDurationMs.Observe(float64(elapsed.Milliseconds()))
}

func IncrementPoll() {
	pollsTotal.Inc()
}

func IncrementTransportRetry() {
	transportRetriesTotal.Inc()
}

func AddRowsDecoded(count int) {
	if count > 0 {
		rowsDecodedTotal.Add(float64(count))
	}
}

func IncrementRowSkipped() {
	rowsSkippedTotal.Inc()
}

func IncrementTokenResolution(source string) {
	tokenResolutionsTotal.WithLabelValues(source).Inc()
}

func IncrementCacheHit() {
	cacheHitsTotal.Inc()
}

func IncrementCacheMiss() {
	cacheMissesTotal.Inc()
}
