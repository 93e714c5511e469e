// SPDX-License-Identifier: MIT

package ppubs

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrTimeout     = errors.New("upstream: request timed out")
	ErrUnreachable = errors.New("upstream: host unreachable or transport failure")
	ErrRateLimited = errors.New("upstream: rate limited")
	ErrAuthExpired = errors.New("upstream: session invalid or expired")
	ErrServerError = errors.New("upstream: internal error (5xx)")
	ErrNotFound    = errors.New("upstream: resource not found")
	ErrBadResponse = errors.New("upstream: invalid response format or malformed data")

	// Print pipeline terminal failures.
	ErrJobFailed  = errors.New("print: job failed upstream")
	ErrJobTimeout = errors.New("print: poll budget exhausted while job still running")
)

// Error is a rich error type that wraps the sentinel errors with context.
type Error struct {
	Sentinel  error
	Operation string
	Status    int           // last HTTP status, 0 if none
	Code      string        // upstream error code when the body carried one
	Body      string        // trimmed response body for diagnosis
	Attempts  int           // attempts performed before surfacing
	Hint      time.Duration // server-suggested wait, if any
	Err       error         // nested lower-level error (e.g. net.Error)
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("ppubs: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Attempts > 1 {
		msg = fmt.Sprintf("%s after %d attempts", msg, e.Attempts)
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Code)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Sentinel
}

// retryable reports whether the executor may try the call again. Auth
// expiry is excluded: it is handled one level up by a forced session refresh
// rather than by blind repetition.
func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrTimeout),
		errors.Is(err, ErrUnreachable),
		errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrServerError):
		return true
	default:
		return false
	}
}

// reason maps an error to a stable label for metrics and traces.
func reason(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrTimeout):
		return "network_timeout"
	case errors.Is(err, ErrUnreachable):
		return "network_unreachable"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrAuthExpired):
		return "auth_expired"
	case errors.Is(err, ErrServerError):
		return "server_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrBadResponse):
		return "malformed_response"
	case errors.Is(err, ErrJobFailed):
		return "job_failed"
	case errors.Is(err, ErrJobTimeout):
		return "job_timeout"
	default:
		return "error"
	}
}
