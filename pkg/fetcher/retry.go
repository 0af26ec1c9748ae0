package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sellerpulse/marketfetch/pkg/availability"
	"github.com/sellerpulse/marketfetch/pkg/chunker"
	"github.com/sellerpulse/marketfetch/pkg/records"
	"github.com/sellerpulse/marketfetch/pkg/transport"
)

var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketfetch_chunk_retries_total",
		Help: "Chunk fetch retries by error kind",
	}, []string{"api_type", "error_kind"})

	retriesExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketfetch_chunk_retries_exhausted_total",
		Help: "Chunks abandoned after the retry budget ran out",
	}, []string{"api_type", "error_kind"})
)

// action is what the retry loop does next with a failed attempt. Every
// failure resolves to exactly one of these; there is no implicit
// propagation path.
type action int

const (
	actionRetry action = iota
	actionEmpty        // degrade to an empty result, do not surface the error
	actionFail         // give up on this chunk
	actionAbort        // give up on the whole fetch
)

// outcome describes the classified failure of one attempt.
type outcome struct {
	action      action
	wait        time.Duration // pre-retry sleep, unless rateLimited
	rateLimited bool          // wait is owned by the limiter's backoff
	kind        transport.ErrorKind
}

// classify maps one failed attempt to its outcome. The rules, by error
// kind:
//
//	network      retry after a fixed backoff
//	rate_limited retry after the limiter's escalating backoff
//	auth_expired retry a bounded number of times, then fail the chunk
//	auth_revoked abort the whole fetch; the credential will not recover
//	server       latch the API unavailable, fail the chunk, keep going
//	malformed    degrade to an empty chunk result
//	client       fail the chunk, a retry would repeat the same 4xx
func (f *Fetcher) classify(err error, api string, authRetries int) outcome {
	kind := transport.Kind(err)
	switch kind {
	case transport.KindTransientNetwork:
		return outcome{action: actionRetry, wait: f.cfg.NetworkBackoff, kind: kind}
	case transport.KindRateLimited:
		out := outcome{action: actionRetry, rateLimited: true, kind: kind}
		var apiErr *transport.APIError
		if errors.As(err, &apiErr) {
			out.wait = apiErr.RetryAfter
		}
		return out
	case transport.KindAuthExpired:
		if authRetries < f.cfg.AuthRetryLimit {
			return outcome{action: actionRetry, wait: f.cfg.AuthRetryDelay, kind: kind}
		}
		return outcome{action: actionFail, kind: kind}
	case transport.KindAuthRevoked:
		f.latch.MarkUnavailable(api, "credentials revoked")
		return outcome{action: actionAbort, kind: kind}
	case transport.KindServer:
		f.latch.MarkUnavailable(api, "server errors")
		return outcome{action: actionFail, kind: kind}
	case transport.KindMalformed:
		return outcome{action: actionEmpty, kind: kind}
	case transport.KindClient:
		return outcome{action: actionFail, kind: kind}
	default:
		// Errors the transport never produced, e.g. from a custom fetch
		// function. Treat them like flaky infrastructure.
		return outcome{action: actionRetry, wait: f.cfg.NetworkBackoff, kind: transport.KindTransientNetwork}
	}
}

// fetchChunk invokes fn for one chunk under the bounded retry loop and
// returns the records, the number of attempts spent, and the final
// error when the chunk could not be fetched.
func (f *Fetcher) fetchChunk(ctx context.Context, apiType, api string, ch chunker.DateRange, fn FetchFunc) ([]records.Record, int, error) {
	var (
		lastErr     error
		authRetries int
		rlAttempts  int
	)

	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, attempt - 1, err
		}

		recs, err := fn(ctx, ch.From, ch.To)
		if err == nil {
			// A working credential and a responding API: clear any stale
			// unavailable latch.
			if f.latch.State(api).Status == availability.Unavailable {
				f.latch.MarkAvailable(api)
			}
			return recs, attempt, nil
		}
		lastErr = err

		out := f.classify(err, api, authRetries)
		switch out.action {
		case actionEmpty:
			f.logger.Warn().
				Str("api_type", apiType).
				Str("chunk", ch.String()).
				Err(err).
				Msg("Malformed response, treating chunk as empty")
			return []records.Record{}, attempt, nil
		case actionFail:
			retriesExhausted.WithLabelValues(apiType, string(out.kind)).Inc()
			return nil, attempt, err
		case actionAbort:
			return nil, attempt, err
		}

		if out.kind == transport.KindAuthExpired {
			authRetries++
		}
		if attempt == f.cfg.MaxAttempts {
			break
		}

		retriesTotal.WithLabelValues(apiType, string(out.kind)).Inc()
		f.logger.Debug().
			Str("api_type", apiType).
			Str("chunk", ch.String()).
			Int("attempt", attempt).
			Str("error_kind", string(out.kind)).
			Msg("Retrying chunk")

		if out.rateLimited {
			if err := f.limiter.OnRateLimited(ctx, apiType, rlAttempts); err != nil {
				return nil, attempt, err
			}
			// Honor a Retry-After hint that outlasts our own backoff.
			if extra := out.wait - f.limiter.BackoffWait(apiType, rlAttempts); extra > 0 {
				if err := f.sleep(ctx, extra); err != nil {
					return nil, attempt, err
				}
			}
			rlAttempts++
		} else if out.wait > 0 {
			if err := f.sleep(ctx, out.wait); err != nil {
				return nil, attempt, err
			}
		}
	}

	retriesExhausted.WithLabelValues(apiType, string(transport.Kind(lastErr))).Inc()
	return nil, f.cfg.MaxAttempts, fmt.Errorf("chunk %s: retries exhausted: %w", ch.String(), lastErr)
}

// abortsFetch reports whether a chunk failure must stop the whole run.
// Only revoked credentials qualify: every remaining chunk would fail the
// same way.
func abortsFetch(err error) bool {
	return transport.Kind(err) == transport.KindAuthRevoked
}
