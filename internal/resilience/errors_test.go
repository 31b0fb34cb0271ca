package resilience

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"auth", &AuthError{StatusCode: 401, Err: errors.New("rejected")}, "auth"},
		{"rate_limit", &RateLimitError{Err: errors.New("429")}, "rate_limit"},
		{"network", &NetworkError{StatusCode: 503, Err: errors.New("bad gateway")}, "network"},
		{"parse", &ParseError{Section: "pricing", Reason: "not an object"}, "parse"},
		{"constraint", &ConstraintError{Table: "listing_agents", Err: errors.New("fk")}, "constraint"},
		{"fatal", &FatalError{Reason: "halted"}, "fatal"},
		{"other", errors.New("mystery"), "other"},
		{"wrapped auth", fmt.Errorf("detail fetch: %w", &AuthError{StatusCode: 403, Err: errors.New("no")}), "auth"},
		{"fatal wrapping network", &FatalError{Reason: "halted", Err: &NetworkError{Err: errors.New("down")}}, "fatal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
	if !IsRetryable(&RateLimitError{Err: errors.New("429")}) {
		t.Error("rate limit should be retryable")
	}
	if !IsRetryable(&NetworkError{Err: errors.New("reset")}) {
		t.Error("network error should be retryable")
	}
	if IsRetryable(&AuthError{StatusCode: 401, Err: errors.New("rejected")}) {
		t.Error("auth errors recover via refresh, not retry")
	}
	if !IsRetryable(errors.New("read tcp: connection reset by peer")) {
		t.Error("connection reset should be retryable")
	}
	if IsRetryable(errors.New("invalid payload")) {
		t.Error("unknown errors should not be retryable")
	}
}

func TestIsRetryableHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !IsRetryableHTTPStatus(code) {
			t.Errorf("expected %d to be retryable", code)
		}
	}
	for _, code := range []int{200, 201, 301, 400, 401, 403, 404, 422} {
		if IsRetryableHTTPStatus(code) {
			t.Errorf("expected %d not to be retryable", code)
		}
	}
}

func TestIsFatal_Wrapped(t *testing.T) {
	err := fmt.Errorf("pipeline: %w", &FatalError{Reason: "breaker latched"})
	if !IsFatal(err) {
		t.Error("expected wrapped FatalError to be fatal")
	}
	if IsFatal(errors.New("plain")) {
		t.Error("plain error should not be fatal")
	}
}
