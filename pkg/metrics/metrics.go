// Package metrics provides the centralized Prometheus registry for the
// marketfetch pipeline. All metrics are defined in their respective
// packages (transport, ratelimit, fetcher, aggregate, cache,
// orchestrator, availability) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available
// metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the pipeline.
// All metrics are automatically registered via promauto in their
// respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - marketfetch_ratelimit_acquires_total{api_type} (Counter): Granted acquires
//   - marketfetch_ratelimit_acquire_wait_seconds{api_type} (Histogram): Time spent waiting for budget
//   - marketfetch_ratelimit_window_usage{api_type} (Gauge): Requests registered in the sliding window
//   - marketfetch_ratelimit_backoffs_total{api_type} (Counter): 429 backoff sleeps
//   - marketfetch_ratelimit_backoff_seconds{api_type} (Histogram): 429 backoff duration
//
// Request Metrics (pkg/transport):
//   - marketfetch_http_requests_total{endpoint, status} (Counter): Outbound requests
//   - marketfetch_http_request_duration_seconds{endpoint} (Histogram): Request duration
//   - marketfetch_http_errors_total{kind} (Counter): Classified request errors
//
// Chunk Fetch Metrics (pkg/fetcher):
//   - marketfetch_chunks_total{api_type, result} (Counter): Chunk fetches by result (ok, failed, cached)
//   - marketfetch_chunk_duration_seconds{api_type} (Histogram): Chunk duration including retries
//   - marketfetch_chunk_retries_total{api_type, error_kind} (Counter): Retry attempts
//   - marketfetch_chunk_retries_exhausted_total{api_type, error_kind} (Counter): Abandoned chunks
//
// Aggregation Metrics (pkg/aggregate):
//   - marketfetch_aggregate_duplicates_total (Counter): Duplicate records dropped
//   - marketfetch_aggregate_suspicious_total (Counter): Identity-less records kept
//
// Cache Metrics (pkg/cache):
//   - marketfetch_cache_hits_total (Counter): Chunk results served from Redis
//   - marketfetch_cache_misses_total (Counter): Chunk lookups that missed
//   - marketfetch_cache_errors_total{operation} (Counter): Cache operation errors
//
// Orchestrator Metrics (pkg/orchestrator):
//   - marketfetch_orchestrator_runs_total{strategy, result} (Counter): Runs by strategy and result
//   - marketfetch_orchestrator_fallbacks_total (Counter): Sequential fallbacks taken
//
// Availability Metrics (pkg/availability):
//   - marketfetch_api_availability{api} (Gauge): 0 unavailable, 1 degraded, 2 available
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(marketfetch_cache_hits_total[5m])) /
//   (sum(rate(marketfetch_cache_hits_total[5m])) + sum(rate(marketfetch_cache_misses_total[5m])))
//
//   # Chunk Failure Rate
//   rate(marketfetch_chunks_total{result="failed"}[15m])
//
//   # P95 Acquire Wait
//   histogram_quantile(0.95, rate(marketfetch_ratelimit_acquire_wait_seconds_bucket[5m]))
//
//   # APIs Currently Unusable
//   marketfetch_api_availability == 0
