package syncerr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestClassifiers(t *testing.T) {
	base := errors.New("boom")
	tests := []struct {
		name      string
		err       error
		auth      bool
		rate      bool
		valid     bool
		transient bool
	}{
		{"auth", &AuthError{Service: "trello", Err: base}, true, false, false, false},
		{"rate", &RateLimitError{Service: "calendar", Err: base}, false, true, false, false},
		{"validation", &ValidationError{Err: base}, false, false, true, false},
		{"transient", &TransientError{Service: "trello", Err: base}, false, false, false, true},
		{"plain", base, false, false, false, false},
		{"wrapped auth", fmt.Errorf("job failed: %w", &AuthError{Service: "calendar", Err: base}), true, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAuth(tt.err); got != tt.auth {
				t.Errorf("IsAuth() = %v, want %v", got, tt.auth)
			}
			if got := IsRateLimit(tt.err); got != tt.rate {
				t.Errorf("IsRateLimit() = %v, want %v", got, tt.rate)
			}
			if got := IsValidation(tt.err); got != tt.valid {
				t.Errorf("IsValidation() = %v, want %v", got, tt.valid)
			}
			if got := IsTransient(tt.err); got != tt.transient {
				t.Errorf("IsTransient() = %v, want %v", got, tt.transient)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	base := errors.New("boom")
	if Retryable(&AuthError{Service: "trello", Err: base}) {
		t.Error("auth errors must not be retryable")
	}
	if Retryable(&ValidationError{Err: base}) {
		t.Error("validation errors must not be retryable")
	}
	if !Retryable(&RateLimitError{Service: "trello", Err: base}) {
		t.Error("rate limit errors should be retryable")
	}
	if !Retryable(&TransientError{Service: "calendar", Err: base}) {
		t.Error("transient errors should be retryable")
	}
}

func TestRateLimitRetryDelay(t *testing.T) {
	base := errors.New("slow down")
	tests := []struct {
		name  string
		after string
		want  time.Duration
		ok    bool
	}{
		{"seconds", "10", 10 * time.Second, true},
		{"absent", "", 0, false},
		{"http date", "Wed, 21 Oct 2015 07:28:00 GMT", 0, false},
		{"negative", "-1", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &RateLimitError{Service: "trello", RetryAfter: tt.after, Err: base}
			got, ok := e.RetryDelay()
			if got != tt.want || ok != tt.ok {
				t.Errorf("RetryDelay() = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestFromStatus(t *testing.T) {
	base := errors.New("status")
	tests := []struct {
		status int
		check  func(error) bool
		label  string
	}{
		{http.StatusUnauthorized, IsAuth, "auth"},
		{http.StatusForbidden, IsAuth, "auth"},
		{http.StatusTooManyRequests, IsRateLimit, "rate limit"},
		{http.StatusBadRequest, IsValidation, "validation"},
		{http.StatusInternalServerError, IsTransient, "transient"},
		{http.StatusBadGateway, IsTransient, "transient"},
	}
	for _, tt := range tests {
		err := FromStatus("trello", tt.status, base)
		if !tt.check(err) {
			t.Errorf("FromStatus(%d) = %v, want %s", tt.status, err, tt.label)
		}
	}

	// 404 and friends pass through unclassified.
	err := FromStatus("trello", http.StatusNotFound, base)
	if IsAuth(err) || IsRateLimit(err) || IsValidation(err) || IsTransient(err) {
		t.Errorf("FromStatus(404) = %v, should be unclassified", err)
	}
	if !errors.Is(err, base) {
		t.Error("FromStatus(404) should return the original error")
	}
}
