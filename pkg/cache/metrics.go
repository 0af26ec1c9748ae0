package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Hits tracks chunk cache hits.
	Hits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketfetch_cache_hits_total",
			Help: "Total number of chunk cache hits",
		},
	)

	// Misses tracks chunk cache misses.
	Misses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketfetch_cache_misses_total",
			Help: "Total number of chunk cache misses",
		},
	)

	// Errors tracks cache operation errors by operation.
	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketfetch_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
