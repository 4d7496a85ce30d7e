package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache tiers reported on spans and metrics.
const (
	TierNone    = "none"
	TierMemory  = "memory"
	TierDurable = "durable"
)

var (
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docingest_cache_lookups_total",
			Help: "Document lookups by the cache tier that served them",
		},
		[]string{"tier"},
	)

	FetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docingest_fetch_attempts_total",
			Help: "Document fetch attempts by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	ProcessTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docingest_process_total",
			Help: "Processed documents by outcome (success or error kind)",
		},
		[]string{"outcome"},
	)

	ExtractDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docingest_extract_duration_seconds",
			Help:    "Text extraction duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"format"},
	)

	CacheEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docingest_cache_evictions_total",
			Help: "Cache entries removed, by tier and reason",
		},
		[]string{"tier", "reason"},
	)
)
