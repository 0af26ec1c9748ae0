// Package fetcher drives one sequential chunk-by-chunk fetch for a
// single (api_type, date range) pair. Chunks are fetched in strict
// order: the rate limiter's timing model and the aggregator's last-seen
// duplicate semantics both rely on it. One chunk's failure never aborts
// the whole fetch; it degrades the result by one chunk, recorded as a
// failed entry the caller can count.
package fetcher

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/sellerpulse/marketfetch/pkg/availability"
	"github.com/sellerpulse/marketfetch/pkg/cache"
	"github.com/sellerpulse/marketfetch/pkg/chunker"
	"github.com/sellerpulse/marketfetch/pkg/profile"
	"github.com/sellerpulse/marketfetch/pkg/ratelimit"
	"github.com/sellerpulse/marketfetch/pkg/records"
)

var (
	chunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketfetch_chunks_total",
		Help: "Total chunk fetches by api_type and result",
	}, []string{"api_type", "result"})

	chunkDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketfetch_chunk_duration_seconds",
		Help:    "Chunk fetch duration by api_type, including retries",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 15, 60},
	}, []string{"api_type"})
)

// FetchFunc retrieves the records of one chunk. Implementations are
// supplied by the marketplace API wrappers (or directly by callers) and
// are expected to surface *transport.APIError failures so the retry loop
// can classify them.
type FetchFunc func(ctx context.Context, from, to time.Time) ([]records.Record, error)

// Codec encodes chunk record lists for the cache and back. Only the
// fetch function knows the concrete record types, so it supplies the
// codec alongside.
type Codec struct {
	Encode func([]records.Record) ([]byte, error)
	Decode func([]byte) ([]records.Record, error)
}

// JSONCodec builds a Codec for a concrete record type T.
func JSONCodec[T records.Record]() *Codec {
	return &Codec{
		Encode: func(recs []records.Record) ([]byte, error) {
			typed := make([]T, 0, len(recs))
			for _, r := range recs {
				typed = append(typed, r.(T))
			}
			return json.Marshal(typed)
		},
		Decode: func(data []byte) ([]records.Record, error) {
			var typed []T
			if err := json.Unmarshal(data, &typed); err != nil {
				return nil, err
			}
			recs := make([]records.Record, 0, len(typed))
			for _, r := range typed {
				recs = append(recs, r)
			}
			return recs, nil
		},
	}
}

// ChunkResult is the outcome of one chunk. Failed results are recorded,
// never omitted, so callers can see how many chunks were lost.
type ChunkResult struct {
	Range     chunker.DateRange
	Records   []records.Record // nil when Failed
	Failed    bool
	Err       error
	FromCache bool
	Attempts  int
}

// Report is the outcome of one FetchAll run.
type Report struct {
	APIType string
	Chunks  []ChunkResult
}

// RecordLists returns the per-chunk record lists in fetch order, nil for
// failed chunks, shaped for aggregate.Dedup.
func (r *Report) RecordLists() [][]records.Record {
	lists := make([][]records.Record, len(r.Chunks))
	for i, ch := range r.Chunks {
		lists[i] = ch.Records
	}
	return lists
}

// FailedChunks counts the chunks that returned no data.
func (r *Report) FailedChunks() int {
	n := 0
	for _, ch := range r.Chunks {
		if ch.Failed {
			n++
		}
	}
	return n
}

// Config holds the fetcher's retry and deadline settings.
type Config struct {
	// MaxAttempts bounds the per-chunk retry loop, counting the initial
	// try.
	MaxAttempts int

	// NetworkBackoff is the fixed wait between retries of transient
	// network failures.
	NetworkBackoff time.Duration

	// AuthRetryLimit bounds retries of transient 401s; AuthRetryDelay is
	// the wait between them.
	AuthRetryLimit int
	AuthRetryDelay time.Duration

	// OperationTimeout bounds one whole FetchAll run, all chunks
	// included. Zero means no overall deadline.
	OperationTimeout time.Duration

	// Cache optionally serves fully-elapsed chunks without spending rate
	// budget. Requires a Codec in the fetch options.
	Cache *cache.Manager
}

// DefaultConfig returns the default fetcher configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		NetworkBackoff: 2 * time.Second,
		AuthRetryLimit: 2,
		AuthRetryDelay: 1 * time.Second,
	}
}

// Options tune one FetchAll call.
type Options struct {
	// API is the availability-latch key (e.g. "wb"). Defaults to the
	// api_type prefix before the first underscore.
	API string

	// Params are extra request parameters; they become part of the cache
	// key so variant pulls do not collide.
	Params map[string]string

	// Codec enables caching of this call's chunks.
	Codec *Codec

	// InterChunkDelay overrides the adaptive courtesy delay. Zero means
	// derive it from the total requested range size.
	InterChunkDelay time.Duration
}

// Fetcher runs sequential chunked fetches. Safe for concurrent use; all
// shared state lives in the injected limiter and latch registry.
type Fetcher struct {
	profiles *profile.Registry
	chunks   *chunker.Chunker
	limiter  *ratelimit.Limiter
	latch    *availability.Registry
	cfg      Config
	logger   zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a fetcher. The limiter and latch registry are process-wide
// and shared with every other fetcher and orchestrator.
func New(profiles *profile.Registry, limiter *ratelimit.Limiter, latch *availability.Registry, cfg Config, logger zerolog.Logger) *Fetcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.NetworkBackoff <= 0 {
		cfg.NetworkBackoff = 2 * time.Second
	}
	if cfg.AuthRetryDelay <= 0 {
		cfg.AuthRetryDelay = 1 * time.Second
	}
	return &Fetcher{
		profiles: profiles,
		chunks:   chunker.New(profiles),
		limiter:  limiter,
		latch:    latch,
		cfg:      cfg,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// FetchAll splits [from, to] into api-compliant chunks and fetches them
// in strict order, one rate-limit acquire per chunk, with bounded
// per-call retry. The returned report always carries one entry per
// chunk attempted. A non-nil error means the run was aborted early
// (cancellation, operation deadline, or revoked credentials); the
// partial report accompanies it.
func (f *Fetcher) FetchAll(ctx context.Context, apiType string, from, to time.Time, fn FetchFunc, opts *Options) (*Report, error) {
	if opts == nil {
		opts = &Options{}
	}
	api := opts.API
	if api == "" {
		api = LatchKey(apiType)
	}

	if f.cfg.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.OperationTimeout)
		defer cancel()
	}

	chunks, err := f.chunks.Chunk(from, to, apiType)
	if err != nil {
		return nil, err
	}

	total := chunker.DateRange{From: chunker.Day(from), To: chunker.Day(to)}
	delay := opts.InterChunkDelay
	if delay == 0 {
		delay = f.profiles.InterChunkDelay(total.Days())
	}

	logger := f.logger.With().
		Str("api_type", apiType).
		Str("range", total.String()).
		Int("chunks", len(chunks)).
		Logger()

	if !f.latch.Usable(api) {
		logger.Warn().
			Str("api", api).
			Str("reason", f.latch.State(api).Reason).
			Msg("API latched unavailable, fetch may waste retries")
	}

	report := &Report{APIType: apiType}
	ttl := f.profiles.Lookup(apiType).CacheTTL

	for i, ch := range chunks {
		// Cooperative cancellation: stop issuing new chunk requests
		// promptly once the caller is gone.
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if res, ok := f.fromCache(ctx, apiType, ch, opts, ttl); ok {
			report.Chunks = append(report.Chunks, res)
			chunksTotal.WithLabelValues(apiType, "cached").Inc()
			continue
		}

		if err := f.limiter.Acquire(ctx, apiType); err != nil {
			return report, err
		}

		started := time.Now()
		recs, attempts, err := f.fetchChunk(ctx, apiType, api, ch, fn)
		chunkDuration.WithLabelValues(apiType).Observe(time.Since(started).Seconds())

		if err != nil {
			report.Chunks = append(report.Chunks, ChunkResult{
				Range:    ch,
				Failed:   true,
				Err:      err,
				Attempts: attempts,
			})
			chunksTotal.WithLabelValues(apiType, "failed").Inc()
			logger.Warn().
				Str("chunk", ch.String()).
				Int("attempts", attempts).
				Err(err).
				Msg("Chunk failed, continuing with remaining chunks")

			if abortsFetch(err) {
				return report, err
			}
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
		} else {
			report.Chunks = append(report.Chunks, ChunkResult{
				Range:    ch,
				Records:  recs,
				Attempts: attempts,
			})
			chunksTotal.WithLabelValues(apiType, "ok").Inc()
			f.toCache(ctx, apiType, ch, opts, ttl, recs)
		}

		if i < len(chunks)-1 && delay > 0 {
			if err := f.sleep(ctx, delay); err != nil {
				return report, err
			}
		}
	}

	logger.Info().
		Int("failed_chunks", report.FailedChunks()).
		Msg("Chunked fetch complete")
	return report, nil
}

func (f *Fetcher) fromCache(ctx context.Context, apiType string, ch chunker.DateRange, opts *Options, ttl time.Duration) (ChunkResult, bool) {
	if f.cfg.Cache == nil || opts.Codec == nil || ttl <= 0 {
		return ChunkResult{}, false
	}
	entry, err := f.cfg.Cache.Get(ctx, cache.Key{APIType: apiType, From: ch.From, To: ch.To, Params: opts.Params})
	if err != nil {
		return ChunkResult{}, false
	}
	recs, err := opts.Codec.Decode(entry.Payload)
	if err != nil {
		f.logger.Warn().Str("chunk", ch.String()).Err(err).Msg("Corrupt cache entry, refetching")
		return ChunkResult{}, false
	}
	return ChunkResult{Range: ch, Records: recs, FromCache: true}, true
}

func (f *Fetcher) toCache(ctx context.Context, apiType string, ch chunker.DateRange, opts *Options, ttl time.Duration, recs []records.Record) {
	if f.cfg.Cache == nil || opts.Codec == nil || ttl <= 0 {
		return
	}
	// Only fully-elapsed ranges are stable enough to cache.
	if !ch.To.Before(chunker.Day(time.Now())) {
		return
	}
	payload, err := opts.Codec.Encode(recs)
	if err != nil {
		f.logger.Warn().Str("chunk", ch.String()).Err(err).Msg("Cache encode failed")
		return
	}
	key := cache.Key{APIType: apiType, From: ch.From, To: ch.To, Params: opts.Params}
	if err := f.cfg.Cache.Set(ctx, key, payload, len(recs), ttl); err != nil {
		f.logger.Warn().Str("chunk", ch.String()).Err(err).Msg("Cache store failed")
	}
}

// LatchKey derives the availability-latch key from an api_type:
// "wb_sales" -> "wb". One marketplace owns many api_types but has a
// single credential, so availability is tracked per marketplace.
func LatchKey(apiType string) string {
	for i := 0; i < len(apiType); i++ {
		if apiType[i] == '_' {
			return apiType[:i]
		}
	}
	return apiType
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
