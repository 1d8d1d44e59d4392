// Package syncerr defines the error taxonomy shared by the API clients, the
// reconciliation engine and the scheduler. Classification drives behavior:
// transient and rate-limit errors are retried with backoff, auth errors stop
// the job until credentials are refreshed, validation errors are never
// retried.
package syncerr

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// AuthError indicates an expired, revoked or otherwise rejected credential.
// Jobs hitting one must not be retried until the credential is refreshed.
type AuthError struct {
	Service string // "trello" or "calendar"
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s authentication failed: %v", e.Service, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RateLimitError indicates the remote service asked us to back off.
type RateLimitError struct {
	Service    string
	RetryAfter string // raw Retry-After header, if the service sent one
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limited: %v", e.Service, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// RetryDelay returns the server-requested wait parsed from the Retry-After
// header. Retry loops prefer it over their own backoff.
func (e *RateLimitError) RetryDelay() (time.Duration, bool) {
	if e.RetryAfter == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(e.RetryAfter)
	if err != nil || secs <= 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// ValidationError indicates malformed input or an impossible state, such as
// a card missing required fields. Never retried.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %v", e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// TransientError indicates a network or server-side failure that is expected
// to clear on its own: timeouts, connection resets, 5xx responses.
type TransientError struct {
	Service string
	Err     error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s transient failure: %v", e.Service, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsAuth reports whether err is or wraps an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsRateLimit reports whether err is or wraps a RateLimitError.
func IsRateLimit(err error) bool {
	var re *RateLimitError
	return errors.As(err, &re)
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTransient reports whether err is or wraps a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Retryable reports whether a bounded-retry loop should try err again.
// Rate limits and transient failures qualify; auth and validation never do.
func Retryable(err error) bool {
	return IsRateLimit(err) || IsTransient(err)
}

// FromStatus classifies an HTTP status code from a remote API into the
// taxonomy. Both clients route non-2xx responses through here so the engine
// sees one vocabulary regardless of which side failed.
func FromStatus(service string, status int, err error) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{Service: service, Err: err}
	case status == http.StatusTooManyRequests:
		return &RateLimitError{Service: service, Err: err}
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return &ValidationError{Err: err}
	case status >= 500:
		return &TransientError{Service: service, Err: err}
	default:
		return err
	}
}
