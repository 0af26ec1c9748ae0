package ratelimit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	backoffsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketfetch_ratelimit_backoffs_total",
		Help: "Total 429 backoffs by api_type",
	}, []string{"api_type"})

	backoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketfetch_ratelimit_backoff_seconds",
		Help:    "Backoff duration after 429 responses by api_type",
		Buckets: []float64{1, 2, 5, 10, 30, 60, 120},
	}, []string{"api_type"})
)

const (
	// maxBackoffShift caps the exponential component at base * 2^3.
	maxBackoffShift = 3

	// persistentThrottleAttempt is the attempt count at which an extra
	// penalty is added: the endpoint is throttling us persistently and
	// polite waiting is cheaper than another 429.
	persistentThrottleAttempt = 5

	// persistentThrottlePenalty is that extra wait.
	persistentThrottlePenalty = 30 * time.Second

	// maxBackoffWait is the absolute ceiling for a single backoff sleep.
	maxBackoffWait = 120 * time.Second
)

// BackoffWait returns the wait applied after the attempt-th consecutive
// 429 for apiType. It is non-decreasing in attempt and never exceeds
// maxBackoffWait.
func (l *Limiter) BackoffWait(apiType string, attempt int) time.Duration {
	p := l.profiles.Lookup(apiType)
	if attempt < 0 {
		attempt = 0
	}

	shift := attempt
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	wait := p.RetryDelayBase*(1<<shift) + time.Duration(attempt)*p.RetryDelayMultiplier
	if attempt >= persistentThrottleAttempt {
		wait += persistentThrottlePenalty
	}
	if wait > maxBackoffWait {
		wait = maxBackoffWait
	}
	return wait
}

// OnRateLimited handles a 429 response for apiType. It zeroes the burst
// tokens so no other caller bursts into a throttled endpoint, sleeps the
// computed backoff, then restores the full burst allowance. Returns the
// context error if ctx is cancelled during the sleep.
func (l *Limiter) OnRateLimited(ctx context.Context, apiType string, attempt int) error {
	p := l.profiles.Lookup(apiType)
	wait := l.BackoffWait(apiType, attempt)

	l.logger.Warn().
		Str("api_type", apiType).
		Int("attempt", attempt).
		Dur("wait", wait).
		Msg("Rate limited by endpoint, backing off")

	backoffsTotal.WithLabelValues(apiType).Inc()
	backoffSeconds.WithLabelValues(apiType).Observe(wait.Seconds())

	l.mu.Lock()
	st := l.state(apiType, p)
	st.tokens = 0
	st.lastRefill = l.clk.Now()
	l.mu.Unlock()

	if err := l.clk.Sleep(ctx, wait); err != nil {
		return err
	}

	l.mu.Lock()
	st.tokens = float64(p.BurstLimit)
	st.lastRefill = l.clk.Now()
	l.mu.Unlock()

	return nil
}
