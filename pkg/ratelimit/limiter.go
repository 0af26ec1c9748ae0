// Package ratelimit implements the process-wide request gate for
// marketplace APIs. For every api_type it enforces a trailing 60-second
// request budget, a minimum spacing between requests, and a burst token
// bucket, and it owns the backoff behaviour after 429 responses.
//
// One Limiter is constructed at process start and injected into every
// fetcher and orchestrator; its per-api_type state is guarded by a mutex
// because concurrent pipelines legitimately target the same api_type.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/sellerpulse/marketfetch/pkg/profile"
)

// Prometheus metrics for limiter operations.
var (
	acquiresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketfetch_ratelimit_acquires_total",
		Help: "Total successful acquires by api_type",
	}, []string{"api_type"})

	acquireWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketfetch_ratelimit_acquire_wait_seconds",
		Help:    "Time spent waiting in Acquire by api_type",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 15, 60},
	}, []string{"api_type"})

	windowUsage = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "marketfetch_ratelimit_window_usage",
		Help: "Requests recorded in the trailing 60s window by api_type",
	}, []string{"api_type"})
)

// windowSize is the trailing interval the per-minute budget applies to.
const windowSize = 60 * time.Second

// apiState is the mutable limiter state of one api_type.
type apiState struct {
	window     []time.Time // timestamps of requests in the trailing window
	last       time.Time   // time of the most recent request
	tokens     float64     // remaining burst tokens
	lastRefill time.Time
}

// Limiter gates requests per api_type. Safe for concurrent use.
type Limiter struct {
	profiles *profile.Registry
	clk      clock
	logger   zerolog.Logger

	mu     sync.Mutex
	states map[string]*apiState
}

// New creates a limiter backed by the given profile registry.
func New(profiles *profile.Registry, logger zerolog.Logger) *Limiter {
	return newWithClock(profiles, logger, systemClock{})
}

func newWithClock(profiles *profile.Registry, logger zerolog.Logger, clk clock) *Limiter {
	return &Limiter{
		profiles: profiles,
		clk:      clk,
		logger:   logger,
		states:   make(map[string]*apiState),
	}
}

// Acquire blocks until a request for apiType satisfies all three
// constraints: trailing-window budget, minimum spacing, and burst token
// availability. On return the request is registered atomically with
// respect to other concurrent callers of the same api_type. Returns the
// context error if ctx is cancelled while waiting.
func (l *Limiter) Acquire(ctx context.Context, apiType string) error {
	p := l.profiles.Lookup(apiType)
	started := l.clk.Now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.Lock()
		st := l.state(apiType, p)
		now := l.clk.Now()
		l.prune(st, now)
		l.refill(st, p, now)

		wait := l.nextWait(st, p, now)
		if wait <= 0 {
			st.window = append(st.window, now)
			st.last = now
			st.tokens--
			usage := len(st.window)
			l.mu.Unlock()

			acquiresTotal.WithLabelValues(apiType).Inc()
			acquireWaitSeconds.WithLabelValues(apiType).Observe(now.Sub(started).Seconds())
			windowUsage.WithLabelValues(apiType).Set(float64(usage))
			return nil
		}
		l.mu.Unlock()

		l.logger.Debug().
			Str("api_type", apiType).
			Dur("wait", wait).
			Msg("Rate limit not satisfied, waiting")

		if err := l.clk.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// nextWait returns how long the caller must wait before all three
// constraints hold, or <= 0 when a request may proceed now.
func (l *Limiter) nextWait(st *apiState, p profile.Profile, now time.Time) time.Duration {
	var wait time.Duration

	if len(st.window) >= p.RequestsPerMinute {
		// Oldest request must age out of the trailing window first.
		if w := st.window[0].Add(windowSize).Sub(now); w > wait {
			wait = w
		}
	}

	if !st.last.IsZero() {
		if w := p.MinInterval - now.Sub(st.last); w > wait {
			wait = w
		}
	}

	if st.tokens < 1 {
		rate := refillRate(p)
		if rate > 0 {
			need := (1 - st.tokens) / rate
			if w := time.Duration(need * float64(time.Second)); w > wait {
				wait = w
			}
		}
	}

	return wait
}

// state returns the apiType state, creating it with a full burst bucket.
// Caller holds l.mu.
func (l *Limiter) state(apiType string, p profile.Profile) *apiState {
	st, ok := l.states[apiType]
	if !ok {
		st = &apiState{
			tokens:     float64(p.BurstLimit),
			lastRefill: l.clk.Now(),
		}
		l.states[apiType] = st
	}
	return st
}

// prune drops window entries older than the trailing interval.
// Caller holds l.mu.
func (l *Limiter) prune(st *apiState, now time.Time) {
	cutoff := now.Add(-windowSize)
	i := 0
	for i < len(st.window) && !st.window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		st.window = append(st.window[:0], st.window[i:]...)
	}
}

// refill credits burst tokens for time elapsed since the last refill,
// capped at the profile's burst limit. Caller holds l.mu.
func (l *Limiter) refill(st *apiState, p profile.Profile, now time.Time) {
	elapsed := now.Sub(st.lastRefill)
	if elapsed <= 0 {
		return
	}
	st.tokens += elapsed.Seconds() * refillRate(p)
	if max := float64(p.BurstLimit); st.tokens > max {
		st.tokens = max
	}
	st.lastRefill = now
}

// refillRate is the token replenishment rate in tokens per second.
func refillRate(p profile.Profile) float64 {
	return float64(p.RequestsPerMinute) / windowSize.Seconds()
}

// Stats is a read-only usage snapshot for one api_type.
type Stats struct {
	APIType           string
	WindowCount       int     // requests in the trailing 60s window
	RequestsPerMinute int     // budget for that window
	BurstTokens       float64 // tokens currently available
	BurstLimit        int
	LastRequest       time.Time
}

// Stats returns the current usage snapshot for apiType without mutating
// limiter state.
func (l *Limiter) Stats(apiType string) Stats {
	p := l.profiles.Lookup(apiType)

	l.mu.Lock()
	defer l.mu.Unlock()

	s := Stats{
		APIType:           apiType,
		RequestsPerMinute: p.RequestsPerMinute,
		BurstLimit:        p.BurstLimit,
	}

	st, ok := l.states[apiType]
	if !ok {
		s.BurstTokens = float64(p.BurstLimit)
		return s
	}

	now := l.clk.Now()
	cutoff := now.Add(-windowSize)
	for _, ts := range st.window {
		if ts.After(cutoff) {
			s.WindowCount++
		}
	}

	tokens := st.tokens + now.Sub(st.lastRefill).Seconds()*refillRate(p)
	if max := float64(p.BurstLimit); tokens > max {
		tokens = max
	}
	s.BurstTokens = tokens
	s.LastRequest = st.last
	return s
}

// Reset discards the state of apiType. Test-only: production code never
// tears limiter state down except on process exit.
func (l *Limiter) Reset(apiType string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.states, apiType)
}
