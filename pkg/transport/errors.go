package transport

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind classifies a failed marketplace API call.
type ErrorKind string

const (
	// KindTransientNetwork covers timeouts and connection resets.
	KindTransientNetwork ErrorKind = "network"

	// KindRateLimited is an HTTP 429.
	KindRateLimited ErrorKind = "rate_limited"

	// KindAuthExpired is an HTTP 401 with a transient-looking body.
	KindAuthExpired ErrorKind = "auth_expired"

	// KindAuthRevoked is an HTTP 401 signalling permanent credential
	// revocation. Never retried.
	KindAuthRevoked ErrorKind = "auth_revoked"

	// KindServer covers HTTP 5xx responses.
	KindServer ErrorKind = "server"

	// KindMalformed marks an unparsable response body. Callers treat it
	// as an empty result, never as a hard failure.
	KindMalformed ErrorKind = "malformed"

	// KindClient covers the remaining 4xx responses (bad request, not
	// found). Not retryable.
	KindClient ErrorKind = "client"
)

// APIError is a classified marketplace API failure.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string

	// RetryAfter carries the endpoint's Retry-After hint on 429, if any.
	RetryAfter time.Duration

	Err error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("marketplace %s error (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("marketplace %s error: %s", e.Kind, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Kind extracts the classification from err, or empty when err is not an
// *APIError.
func Kind(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// revokedMarkers are body substrings the marketplaces use when a token
// has been permanently invalidated, as opposed to an expired session.
var revokedMarkers = []string{
	"withdrawn",
	"revoked",
	"deleted",
	"not found in db",
}

// classify401 distinguishes a permanently revoked credential from a
// transient authorization hiccup by the response body wording.
func classify401(body []byte) ErrorKind {
	lower := strings.ToLower(string(body))
	for _, marker := range revokedMarkers {
		if strings.Contains(lower, marker) {
			return KindAuthRevoked
		}
	}
	return KindAuthExpired
}
