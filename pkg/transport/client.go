// Package transport provides the HTTP client shared by the marketplace
// API wrappers: auth headers, connect and total timeouts, a coarse
// client-wide request rate gate, JSON decoding, and classification of
// failures into the pipeline's error taxonomy.
//
// The rate gate here is deliberately separate from pkg/ratelimit: it caps
// the raw outbound request rate of the whole process, while the limiter
// enforces each api_type's documented budget.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for outbound HTTP calls.
var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketfetch_http_requests_total",
		Help: "Total outbound requests by endpoint and status",
	}, []string{"endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketfetch_http_request_duration_seconds",
		Help:    "Outbound request duration by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	httpErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketfetch_http_errors_total",
		Help: "Total classified request errors by kind",
	}, []string{"kind"})
)

// maxBodySize bounds response bodies; marketplace exports can be large
// but a hard cap protects against runaway responses.
const maxBodySize = 64 << 20

// Config holds the transport configuration.
type Config struct {
	// BaseURL of the marketplace API, without trailing slash.
	BaseURL string

	// Token is sent verbatim in the Authorization header.
	Token string

	// Headers are extra headers sent with every request, for APIs that
	// authenticate outside the Authorization header (e.g. Ozon's
	// Client-Id and Api-Key pair).
	Headers map[string]string

	// UserAgent identifies this client to the marketplace.
	UserAgent string

	// ConnectTimeout bounds dialing; RequestTimeout bounds the whole call.
	ConnectTimeout time.Duration
	RequestTimeout time.Duration

	// GlobalRPS / GlobalBurst cap the raw outbound request rate of this
	// client across all endpoints.
	GlobalRPS   float64
	GlobalBurst int
}

// DefaultConfig returns a safe transport configuration for baseURL.
func DefaultConfig(baseURL, token string) Config {
	return Config{
		BaseURL:        baseURL,
		Token:          token,
		UserAgent:      "marketfetch/1.0",
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 30 * time.Second,
		GlobalRPS:      10,
		GlobalBurst:    5,
	}
}

// Client is a rate-gated JSON HTTP client for one marketplace API.
type Client struct {
	http   *http.Client
	gate   *rate.Limiter
	cfg    Config
	logger zerolog.Logger
}

// New creates a transport client.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.GlobalRPS <= 0 {
		cfg.GlobalRPS = 10
	}
	if cfg.GlobalBurst <= 0 {
		cfg.GlobalBurst = 5
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	return &Client{
		http: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				DialContext:         dialer.DialContext,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		gate:   rate.NewLimiter(rate.Limit(cfg.GlobalRPS), cfg.GlobalBurst),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// GetJSON performs a GET request and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

// PostJSON performs a POST request with a JSON body and decodes the JSON
// response into out.
func (c *Client) PostJSON(ctx context.Context, path string, body any, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	if err := c.gate.Wait(ctx); err != nil {
		return err
	}

	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", c.cfg.Token)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	httpRequestDuration.WithLabelValues(path).Observe(time.Since(started).Seconds())

	if err != nil {
		// Context cancellation is the caller's own signal, not an
		// endpoint failure.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		httpRequestsTotal.WithLabelValues(path, "network_error").Inc()
		httpErrorsTotal.WithLabelValues(string(KindTransientNetwork)).Inc()
		return &APIError{
			Kind:    KindTransientNetwork,
			Message: "request failed",
			Err:     err,
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		httpErrorsTotal.WithLabelValues(string(KindTransientNetwork)).Inc()
		return &APIError{
			Kind:    KindTransientNetwork,
			Message: "read response body",
			Err:     err,
		}
	}

	httpRequestsTotal.WithLabelValues(path, strconv.Itoa(resp.StatusCode)).Inc()

	if apiErr := c.classify(resp, raw); apiErr != nil {
		httpErrorsTotal.WithLabelValues(string(apiErr.Kind)).Inc()
		c.logger.Warn().
			Str("endpoint", path).
			Int("status", resp.StatusCode).
			Str("error_kind", string(apiErr.Kind)).
			Msg("Marketplace request error")
		return apiErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		httpErrorsTotal.WithLabelValues(string(KindMalformed)).Inc()
		c.logger.Warn().
			Str("endpoint", path).
			Int("body_bytes", len(raw)).
			Err(err).
			Msg("Unparsable response body")
		return &APIError{
			Kind:    KindMalformed,
			Message: "unparsable response body",
			Err:     err,
		}
	}
	return nil
}

// classify maps a non-2xx response to the error taxonomy. Returns nil for
// successful responses.
func (c *Client) classify(resp *http.Response, body []byte) *APIError {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized:
		kind := classify401(body)
		return &APIError{Kind: kind, StatusCode: code, Message: trimBody(body)}
	case code == http.StatusTooManyRequests:
		return &APIError{
			Kind:       KindRateLimited,
			StatusCode: code,
			Message:    "rate limited",
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case code >= 500:
		return &APIError{Kind: KindServer, StatusCode: code, Message: trimBody(body)}
	default:
		return &APIError{Kind: KindClient, StatusCode: code, Message: trimBody(body)}
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// trimBody keeps error messages log-sized.
func trimBody(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
