// SPDX-License-Identifier: MIT

package ppubs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mwrenn/ppubsd/internal/log"
	"github.com/mwrenn/ppubsd/internal/metrics"
	"github.com/mwrenn/ppubsd/internal/ratelimit"
)

const maxErrorBodyBytes = 2048

// rateLimitHeader names the seconds to wait after a 429, as emitted by the
// upstream. The standard Retry-After header is honoured as a fallback.
const rateLimitHeader = "X-Rate-Limit-Retry-After-Seconds"

// requestFactory builds a fresh request for one attempt. Bodies are consumed
// on send, so every retry needs its own request.
type requestFactory func(ctx context.Context) (*http.Request, error)

// upstreamResponse is a drained successful exchange.
type upstreamResponse struct {
	Body   []byte
	Status int
	Header http.Header
}

// executor wraps a single outbound call with bounded retry, failure
// classification and backoff. It holds no per-call state.
type executor struct {
	http     *http.Client
	backoff  Backoff
	limiter  *ratelimit.Upstream
	rateWait time.Duration // fallback pause when a 429 carries no hint
	logger   zerolog.Logger

	// sleep is swapped in tests to avoid real waits.
	sleep func(ctx context.Context, d time.Duration) error
}

func newExecutor(client *http.Client, backoff Backoff, limiter *ratelimit.Upstream, rateWait time.Duration) *executor {
	if rateWait <= 0 {
		rateWait = 5 * time.Second
	}
	return &executor{
		http:     client,
		backoff:  backoff,
		limiter:  limiter,
		rateWait: rateWait,
		logger:   log.WithComponent("executor"),
		sleep:    sleepCtx,
	}
}

// Do performs the call with up to maxAttempts tries. Retryable failures
// (network, 429, 5xx) are repeated after a backoff delay; auth expiry, 404
// and malformed responses surface immediately. On success it returns the
// response body and status.
func (e *executor) Do(ctx context.Context, op string, maxAttempts int, build requestFactory) (*upstreamResponse, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		res, hint, err := e.attempt(ctx, op, attempt, build)
		if err == nil {
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		lastErr = err
		if !retryable(err) {
			e.stamp(err, attempt)
			return nil, err
		}
		if attempt == maxAttempts {
			break
		}

		metrics.RecordUpstreamRetry(reason(err))
		delay := e.backoff.Delay(attempt, hint)
		e.logger.Debug().
			Str(log.FieldEvent, "executor.retry").
			Str("operation", op).
			Int(log.FieldAttempt, attempt).
			Str("reason", reason(err)).
			Dur("delay", delay).
			Msg("retrying after failure")
		if err := e.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	e.stamp(lastErr, maxAttempts)
	return nil, lastErr
}

// attempt performs exactly one exchange and classifies its outcome.
func (e *executor) attempt(ctx context.Context, op string, attempt int, build requestFactory) (res *upstreamResponse, hint time.Duration, err error) {
	req, err := build(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("build request for %s: %w", op, err)
	}

	start := time.Now()
	resp, doErr := e.http.Do(req)
	elapsed := time.Since(start)

	if doErr != nil {
		classified := classifyTransport(op, doErr)
		e.trace(ctx, op, req, 0, attempt, elapsed, classified)
		return nil, 0, classified
	}
	defer resp.Body.Close() //nolint:errcheck

	status := resp.StatusCode
	switch {
	case status == http.StatusForbidden:
		err = &Error{Sentinel: ErrAuthExpired, Operation: op, Status: status}
	case status == http.StatusTooManyRequests:
		hint = retryHint(resp)
		pause := hint
		if pause <= 0 {
			pause = e.rateWait
		}
		if e.limiter != nil {
			e.limiter.Pause(pause)
		}
		err = &Error{Sentinel: ErrRateLimited, Operation: op, Status: status, Hint: hint}
	case status == http.StatusNotFound:
		err = &Error{Sentinel: ErrNotFound, Operation: op, Status: status, Body: snippet(resp)}
	case status >= 500:
		err = &Error{Sentinel: ErrServerError, Operation: op, Status: status, Body: snippet(resp)}
	case status >= 300:
		// Anything else outside 2xx is not in the recognised vocabulary;
		// retrying will not change the answer.
		err = &Error{Sentinel: ErrBadResponse, Operation: op, Status: status, Body: snippet(resp)}
	default:
		var body []byte
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			err = classifyTransport(op, err)
		} else {
			res = &upstreamResponse{Body: body, Status: status, Header: resp.Header}
		}
	}

	e.trace(ctx, op, req, status, attempt, elapsed, err)
	metrics.RecordUpstreamAttempt(req.Method, reason(err), elapsed.Seconds())
	return res, hint, err
}

// trace emits the per-attempt structured record.
func (e *executor) trace(ctx context.Context, op string, req *http.Request, status, attempt int, elapsed time.Duration, err error) {
	logger := log.WithContext(ctx, e.logger)
	evt := logger.Debug().
		Str(log.FieldEvent, "executor.attempt").
		Str("operation", op).
		Str(log.FieldMethod, req.Method).
		Str(log.FieldTarget, req.URL.Path).
		Int(log.FieldStatus, status).
		Int(log.FieldAttempt, attempt).
		Int64(log.FieldElapsed, elapsed.Milliseconds()).
		Str(log.FieldOutcome, reason(err))
	if err != nil {
		evt = evt.Err(err)
	}
	evt.Msg("upstream attempt")
}

// stamp records the attempt count on rich errors before they surface.
func (e *executor) stamp(err error, attempts int) {
	var rich *Error
	if errors.As(err, &rich) {
		rich.Attempts = attempts
	}
}

// classifyTransport maps transport-level failures onto the sentinel set.
func classifyTransport(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return &Error{Sentinel: ErrTimeout, Operation: op, Err: err}
	}
	type timeouter interface{ Timeout() bool }
	var to timeouter
	if errors.As(err, &to) && to.Timeout() {
		return &Error{Sentinel: ErrTimeout, Operation: op, Err: err}
	}
	return &Error{Sentinel: ErrUnreachable, Operation: op, Err: err}
}

// retryHint extracts the server-suggested wait from a 429 response.
func retryHint(resp *http.Response) time.Duration {
	for _, h := range []string{rateLimitHeader, "Retry-After"} {
		v := strings.TrimSpace(resp.Header.Get(h))
		if v == "" {
			continue
		}
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

// snippet reads a bounded amount of the response body for error context.
func snippet(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return strings.TrimSpace(string(data))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
