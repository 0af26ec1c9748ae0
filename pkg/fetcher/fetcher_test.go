package fetcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sellerpulse/marketfetch/pkg/availability"
	"github.com/sellerpulse/marketfetch/pkg/profile"
	"github.com/sellerpulse/marketfetch/pkg/ratelimit"
	"github.com/sellerpulse/marketfetch/pkg/records"
	"github.com/sellerpulse/marketfetch/pkg/transport"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

type testEnv struct {
	fetcher *Fetcher
	latch   *availability.Registry
	sleeps  []time.Duration
}

// newTestEnv builds a fetcher around a "test_api" profile generous
// enough that the rate limiter never blocks, and replaces the retry and
// courtesy sleeps with a recorder.
func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	logger := zerolog.Nop()

	profiles := profile.NewRegistry()
	profiles.Set("test_api", profile.Profile{
		MaxWindowDays:        10,
		RequestsPerMinute:    10000,
		MinInterval:          0,
		BurstLimit:           1000,
		RetryDelayBase:       time.Millisecond,
		RetryDelayMultiplier: time.Millisecond,
	})

	env := &testEnv{
		latch: availability.NewRegistry(logger),
	}
	env.fetcher = New(profiles, ratelimit.New(profiles, logger), env.latch, cfg, logger)
	env.fetcher.sleep = func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		env.sleeps = append(env.sleeps, d)
		return nil
	}
	return env
}

type stubRecord struct {
	ID string
}

func (r stubRecord) Identity() (string, bool) {
	return r.ID, r.ID != ""
}

func recordsFor(ids ...string) []records.Record {
	recs := make([]records.Record, 0, len(ids))
	for _, id := range ids {
		recs = append(recs, stubRecord{ID: id})
	}
	return recs
}

func TestFetchAllSingleChunk(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	var calls int
	fn := func(ctx context.Context, from, to time.Time) ([]records.Record, error) {
		calls++
		return recordsFor("a", "b"), nil
	}

	report, err := env.fetcher.FetchAll(context.Background(), "test_api", date("2025-01-01"), date("2025-01-05"), fn, nil)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(report.Chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(report.Chunks))
	}
	ch := report.Chunks[0]
	if ch.Failed || ch.Attempts != 1 || len(ch.Records) != 2 {
		t.Errorf("chunk = %+v, want 2 records in 1 attempt", ch)
	}
}

func TestFetchAllChunkFailureIsolation(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	// 25 days with a 10 day window: 3 chunks. The middle one always
	// returns a server error; its neighbors must still come back.
	var call int
	fn := func(ctx context.Context, from, to time.Time) ([]records.Record, error) {
		call++
		if call == 2 {
			return nil, &transport.APIError{Kind: transport.KindServer, StatusCode: 500, Message: "boom"}
		}
		return recordsFor(from.Format("2006-01-02")), nil
	}

	report, err := env.fetcher.FetchAll(context.Background(), "test_api", date("2025-01-01"), date("2025-01-25"), fn, nil)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(report.Chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(report.Chunks))
	}
	if report.FailedChunks() != 1 {
		t.Errorf("FailedChunks() = %d, want 1", report.FailedChunks())
	}
	if !report.Chunks[1].Failed {
		t.Error("middle chunk should be the failed one")
	}
	if report.Chunks[1].Records != nil {
		t.Error("failed chunk must carry nil records")
	}
	if report.Chunks[0].Failed || report.Chunks[2].Failed {
		t.Error("neighbors of a failed chunk must succeed")
	}
	// RecordLists mirrors the chunk order with nil at the failed slot.
	lists := report.RecordLists()
	if lists[1] != nil || lists[0] == nil || lists[2] == nil {
		t.Errorf("RecordLists() shape wrong: %v", lists)
	}
}

func TestFetchAllServerErrorLatchesAndSelfHeals(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	var call int
	fn := func(ctx context.Context, from, to time.Time) ([]records.Record, error) {
		call++
		if call == 1 {
			return nil, &transport.APIError{Kind: transport.KindServer, StatusCode: 502}
		}
		return recordsFor("x"), nil
	}

	report, err := env.fetcher.FetchAll(context.Background(), "test_api", date("2025-01-01"), date("2025-01-15"), fn, nil)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if report.FailedChunks() != 1 {
		t.Fatalf("FailedChunks() = %d, want 1", report.FailedChunks())
	}
	// The second chunk's success clears the latch the first one tripped.
	if got := env.latch.State("test").Status; got != availability.Available {
		t.Errorf("latch after recovery = %v, want Available", got)
	}
}

func TestFetchAllAuthRevokedAbortsRun(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	var calls int
	fn := func(ctx context.Context, from, to time.Time) ([]records.Record, error) {
		calls++
		return nil, &transport.APIError{Kind: transport.KindAuthRevoked, StatusCode: 401, Message: "token withdrawn"}
	}

	report, err := env.fetcher.FetchAll(context.Background(), "test_api", date("2025-01-01"), date("2025-01-25"), fn, nil)
	if err == nil {
		t.Fatal("FetchAll() should fail fast on a revoked credential")
	}
	if transport.Kind(err) != transport.KindAuthRevoked {
		t.Errorf("error kind = %q, want %q", transport.Kind(err), transport.KindAuthRevoked)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1: remaining chunks must not be attempted", calls)
	}
	if len(report.Chunks) != 1 || !report.Chunks[0].Failed {
		t.Errorf("report = %+v, want exactly one failed chunk", report.Chunks)
	}
	if got := env.latch.State("test").Status; got != availability.Unavailable {
		t.Errorf("latch = %v, want Unavailable", got)
	}
}

func TestFetchAllNetworkRetryThenSuccess(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NetworkBackoff = 250 * time.Millisecond
	env := newTestEnv(t, cfg)

	var calls int
	fn := func(ctx context.Context, from, to time.Time) ([]records.Record, error) {
		calls++
		if calls < 3 {
			return nil, &transport.APIError{Kind: transport.KindTransientNetwork, Err: errors.New("connection reset")}
		}
		return recordsFor("ok"), nil
	}

	report, err := env.fetcher.FetchAll(context.Background(), "test_api", date("2025-01-01"), date("2025-01-05"), fn, nil)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if report.Chunks[0].Attempts != 3 {
		t.Errorf("attempts = %d, want 3", report.Chunks[0].Attempts)
	}
	if len(env.sleeps) != 2 {
		t.Fatalf("sleeps = %d, want 2 retry backoffs", len(env.sleeps))
	}
	for _, d := range env.sleeps {
		if d != cfg.NetworkBackoff {
			t.Errorf("backoff = %v, want fixed %v", d, cfg.NetworkBackoff)
		}
	}
}

func TestFetchAllRetriesExhausted(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	var calls int
	netErr := &transport.APIError{Kind: transport.KindTransientNetwork, Err: errors.New("timeout")}
	fn := func(ctx context.Context, from, to time.Time) ([]records.Record, error) {
		calls++
		return nil, netErr
	}

	report, err := env.fetcher.FetchAll(context.Background(), "test_api", date("2025-01-01"), date("2025-01-05"), fn, nil)
	if err != nil {
		t.Fatalf("FetchAll() error = %v, exhausted retries degrade, they do not abort", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want MaxAttempts = 3", calls)
	}
	ch := report.Chunks[0]
	if !ch.Failed || !errors.Is(ch.Err, netErr) {
		t.Errorf("chunk = %+v, want failure wrapping the last attempt error", ch)
	}
}

func TestFetchAllAuthExpiredBoundedRetry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 10
	env := newTestEnv(t, cfg)

	var calls int
	fn := func(ctx context.Context, from, to time.Time) ([]records.Record, error) {
		calls++
		return nil, &transport.APIError{Kind: transport.KindAuthExpired, StatusCode: 401}
	}

	report, err := env.fetcher.FetchAll(context.Background(), "test_api", date("2025-01-01"), date("2025-01-05"), fn, nil)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	// Initial attempt plus AuthRetryLimit retries, well short of
	// MaxAttempts.
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if !report.Chunks[0].Failed {
		t.Error("chunk should fail once auth retries run out")
	}
}

func TestFetchAllRateLimitedThenSuccess(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	var calls int
	fn := func(ctx context.Context, from, to time.Time) ([]records.Record, error) {
		calls++
		if calls == 1 {
			return nil, &transport.APIError{Kind: transport.KindRateLimited, StatusCode: 429}
		}
		return recordsFor("ok"), nil
	}

	report, err := env.fetcher.FetchAll(context.Background(), "test_api", date("2025-01-01"), date("2025-01-05"), fn, nil)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if report.Chunks[0].Failed || report.Chunks[0].Attempts != 2 {
		t.Errorf("chunk = %+v, want success on attempt 2", report.Chunks[0])
	}
}

func TestFetchAllHonorsRetryAfterHint(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	var calls int
	fn := func(ctx context.Context, from, to time.Time) ([]records.Record, error) {
		calls++
		if calls == 1 {
			return nil, &transport.APIError{Kind: transport.KindRateLimited, StatusCode: 429, RetryAfter: 5 * time.Second}
		}
		return recordsFor("ok"), nil
	}

	_, err := env.fetcher.FetchAll(context.Background(), "test_api", date("2025-01-01"), date("2025-01-05"), fn, nil)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	// The test profile's own backoff for attempt 0 is 1ms; the server
	// asked for 5s, so the difference is slept on top.
	if len(env.sleeps) != 1 {
		t.Fatalf("sleeps = %v, want one Retry-After remainder", env.sleeps)
	}
	if got := env.sleeps[0]; got != 5*time.Second-time.Millisecond {
		t.Errorf("remainder sleep = %v, want %v", got, 5*time.Second-time.Millisecond)
	}
}

func TestFetchAllMalformedBecomesEmpty(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	fn := func(ctx context.Context, from, to time.Time) ([]records.Record, error) {
		return nil, &transport.APIError{Kind: transport.KindMalformed, Message: "bad json"}
	}

	report, err := env.fetcher.FetchAll(context.Background(), "test_api", date("2025-01-01"), date("2025-01-05"), fn, nil)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	ch := report.Chunks[0]
	if ch.Failed {
		t.Error("malformed responses degrade to empty, they do not fail the chunk")
	}
	if ch.Records == nil || len(ch.Records) != 0 {
		t.Errorf("records = %v, want empty non-nil slice", ch.Records)
	}
}

func TestFetchAllContextCancelled(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())

	var calls int
	fn := func(ctx context.Context, from, to time.Time) ([]records.Record, error) {
		calls++
		cancel()
		return recordsFor("first"), nil
	}

	report, err := env.fetcher.FetchAll(ctx, "test_api", date("2025-01-01"), date("2025-01-25"), fn, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("FetchAll() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(report.Chunks) != 1 {
		t.Errorf("partial report chunks = %d, want 1", len(report.Chunks))
	}
}

func TestFetchAllInterChunkDelay(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	fn := func(ctx context.Context, from, to time.Time) ([]records.Record, error) {
		return recordsFor("x"), nil
	}
	opts := &Options{InterChunkDelay: 42 * time.Millisecond}

	_, err := env.fetcher.FetchAll(context.Background(), "test_api", date("2025-01-01"), date("2025-01-25"), fn, opts)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	// 3 chunks, a delay after each but the last.
	if len(env.sleeps) != 2 {
		t.Fatalf("sleeps = %d, want 2", len(env.sleeps))
	}
	for _, d := range env.sleeps {
		if d != 42*time.Millisecond {
			t.Errorf("delay = %v, want 42ms", d)
		}
	}
}

func TestFetchAllInvalidRange(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	fn := func(ctx context.Context, from, to time.Time) ([]records.Record, error) {
		t.Fatal("fetch function must not run for an invalid range")
		return nil, nil
	}

	_, err := env.fetcher.FetchAll(context.Background(), "test_api", date("2025-02-01"), date("2025-01-01"), fn, nil)
	if err == nil {
		t.Fatal("FetchAll() should reject from > to")
	}
}

func TestLatchKey(t *testing.T) {
	tests := []struct {
		apiType string
		want    string
	}{
		{"wb_sales", "wb"},
		{"wb_adv_fullstats", "wb"},
		{"ozon_fbs_postings", "ozon"},
		{"standalone", "standalone"},
	}
	for _, tt := range tests {
		if got := LatchKey(tt.apiType); got != tt.want {
			t.Errorf("LatchKey(%q) = %q, want %q", tt.apiType, got, tt.want)
		}
	}
}

func TestJSONCodecRoundTrip(t *testing.T) {
	codec := JSONCodec[stubRecord]()

	in := recordsFor("a", "b", "c")
	payload, err := codec.Encode(in)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	out, err := codec.Decode(payload)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("decoded %d records, want 3", len(out))
	}
	for i, r := range out {
		id, _ := r.Identity()
		want, _ := in[i].Identity()
		if id != want {
			t.Errorf("record %d identity = %q, want %q", i, id, want)
		}
	}
}
