package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	cfg := DefaultConfig(baseURL, "test-token")
	cfg.GlobalRPS = 1000
	cfg.GlobalBurst = 1000
	c, err := New(cfg, zerolog.New(os.Stderr).Level(zerolog.Disabled))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	if _, err := New(Config{}, logger); err == nil {
		t.Error("New() with empty base URL expected error")
	}
}

func TestGetJSON_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "test-token" {
			t.Errorf("Authorization = %q, want test-token", got)
		}
		if got := r.URL.Query().Get("dateFrom"); got != "2025-01-01" {
			t.Errorf("dateFrom = %q, want 2025-01-01", got)
		}
		w.Write([]byte(`[{"saleID":"S1"},{"saleID":"S2"}]`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	var out []map[string]string
	err := c.GetJSON(context.Background(), "/api/v1/supplier/sales", map[string][]string{
		"dateFrom": {"2025-01-01"},
	}, &out)
	if err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if len(out) != 2 || out[0]["saleID"] != "S1" {
		t.Errorf("GetJSON() decoded %v", out)
	}
}

func TestPostJSON_SendsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q", got)
		}
		var body map[string]string
		if err := decodeBody(r, &body); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		if body["since"] != "2025-01-01" {
			t.Errorf("since = %q", body["since"])
		}
		w.Write([]byte(`{"result":{"postings":[]}}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	var out map[string]any
	err := c.PostJSON(context.Background(), "/v2/posting/list", map[string]string{"since": "2025-01-01"}, &out)
	if err != nil {
		t.Fatalf("PostJSON() error = %v", err)
	}
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		headers    map[string]string
		wantKind   ErrorKind
		wantStatus int
	}{
		{
			name:       "429 rate limited",
			status:     http.StatusTooManyRequests,
			body:       `{"error":"too many requests"}`,
			wantKind:   KindRateLimited,
			wantStatus: 429,
		},
		{
			name:       "401 transient",
			status:     http.StatusUnauthorized,
			body:       `{"errors":["token expired"]}`,
			wantKind:   KindAuthExpired,
			wantStatus: 401,
		},
		{
			name:       "401 revoked",
			status:     http.StatusUnauthorized,
			body:       `{"errors":["token withdrawn"]}`,
			wantKind:   KindAuthRevoked,
			wantStatus: 401,
		},
		{
			name:       "500 server",
			status:     http.StatusInternalServerError,
			body:       "internal error",
			wantKind:   KindServer,
			wantStatus: 500,
		},
		{
			name:       "503 server",
			status:     http.StatusServiceUnavailable,
			body:       "maintenance",
			wantKind:   KindServer,
			wantStatus: 503,
		},
		{
			name:       "404 client",
			status:     http.StatusNotFound,
			body:       "not found",
			wantKind:   KindClient,
			wantStatus: 404,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := testClient(t, srv.URL)
			err := c.GetJSON(context.Background(), "/x", nil, &struct{}{})
			if err == nil {
				t.Fatal("GetJSON() expected error")
			}

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error %T is not *APIError", err)
			}
			if apiErr.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", apiErr.Kind, tt.wantKind)
			}
			if apiErr.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestRetryAfterHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	err := c.GetJSON(context.Background(), "/x", nil, nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error %T is not *APIError", err)
	}
	if apiErr.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %v, want 7s", apiErr.RetryAfter)
	}
}

func TestMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"unclosed":`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	var out map[string]any
	err := c.GetJSON(context.Background(), "/x", nil, &out)

	if Kind(err) != KindMalformed {
		t.Errorf("Kind = %s, want malformed", Kind(err))
	}
}

func TestNetworkError(t *testing.T) {
	// A server that is immediately closed yields connection errors.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := testClient(t, url)
	err := c.GetJSON(context.Background(), "/x", nil, nil)
	if Kind(err) != KindTransientNetwork {
		t.Errorf("Kind = %s, want network", Kind(err))
	}
}

func TestContextCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := testClient(t, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.GetJSON(ctx, "/x", nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
}

func TestClassify401(t *testing.T) {
	tests := []struct {
		body string
		want ErrorKind
	}{
		{`{"errors":["token withdrawn"]}`, KindAuthRevoked},
		{`{"errors":["Token Revoked by user"]}`, KindAuthRevoked},
		{`{"errors":["api key deleted"]}`, KindAuthRevoked},
		{`{"errors":["token expired, refresh it"]}`, KindAuthExpired},
		{``, KindAuthExpired},
	}
	for _, tt := range tests {
		if got := classify401([]byte(tt.body)); got != tt.want {
			t.Errorf("classify401(%q) = %s, want %s", tt.body, got, tt.want)
		}
	}
}

func decodeBody(r *http.Request, out any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}
