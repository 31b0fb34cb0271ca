// Package resilience provides the crawl error taxonomy plus retry and
// circuit-breaker patterns for upstream API calls.
package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// AuthError indicates an expired or rejected credential (HTTP 401/403).
// Recovered by a credential refresh and a single retry.
type AuthError struct {
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth rejected (status %d): %v", e.StatusCode, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RateLimitError indicates the upstream throttled the request (HTTP 429).
// Recovered by backoff inside the fetcher.
type RateLimitError struct {
	Err error
}

func (e *RateLimitError) Error() string { return "rate limited: " + e.Err.Error() }
func (e *RateLimitError) Unwrap() error { return e.Err }

// NetworkError indicates a timeout, connection failure, or 5xx response.
// Retried with backoff up to a bound, then surfaced as a skipped listing.
type NetworkError struct {
	StatusCode int // zero when the failure was below HTTP
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream error (status %d): %v", e.StatusCode, e.Err)
	}
	return "network error: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ParseError is scoped to a single payload section. It never aborts the
// listing: the failing section is skipped and the rest persist.
type ParseError struct {
	Section string
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.Section, e.Reason)
}

// ConstraintError indicates a persistence-time constraint violation on a
// child record after the dimension fallback chain already ran. The record
// is skipped and logged; the listing's remaining data persists.
type ConstraintError struct {
	Table string
	Err   error
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("constraint violation on %s: %v", e.Table, e.Err)
}

func (e *ConstraintError) Unwrap() error { return e.Err }

// FatalError aborts the shard: credential acquisition exhausted, or a
// circuit breaker open past its maximum open duration.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return "fatal: " + e.Reason + ": " + e.Err.Error()
	}
	return "fatal: " + e.Reason
}

func (e *FatalError) Unwrap() error { return e.Err }

// Classify maps an error to its taxonomy class name for cycle reporting.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case IsFatal(err):
		return "fatal"
	case isAs[*AuthError](err):
		return "auth"
	case isAs[*RateLimitError](err):
		return "rate_limit"
	case isAs[*NetworkError](err):
		return "network"
	case isAs[*ParseError](err):
		return "parse"
	case isAs[*ConstraintError](err):
		return "constraint"
	default:
		return "other"
	}
}

func isAs[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

// IsFatal reports whether the error chain contains a FatalError.
func IsFatal(err error) bool { return isAs[*FatalError](err) }

// IsRetryable reports whether the error is safe to retry: rate limiting,
// 5xx responses, and network-level transient failures. Auth errors are not
// retryable here — the fetcher handles them through credential refresh.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if isAs[*RateLimitError](err) || isAs[*NetworkError](err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// Heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsRetryableHTTPStatus reports whether the status code is safe to retry.
func IsRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
