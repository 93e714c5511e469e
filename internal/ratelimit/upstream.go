// SPDX-License-Identifier: MIT

// Package ratelimit throttles outbound calls to the upstream service.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mwrenn/ppubsd/internal/metrics"
)

// Config holds outbound throttle configuration.
type Config struct {
	RPS   float64 // steady-state requests per second against the upstream
	Burst int     // bucket size
}

// DefaultConfig returns conservative defaults for a shared public upstream.
func DefaultConfig() Config {
	return Config{RPS: 5, Burst: 10}
}

// Upstream is a process-wide outbound throttle. It combines a token bucket
// with a shared pause gate: when the upstream answers 429 with a wait hint,
// every in-flight caller honours the same not-before instant instead of
// retrying independently.
type Upstream struct {
	bucket *rate.Limiter

	mu          sync.Mutex
	pausedUntil time.Time

	now func() time.Time
}

// New creates an outbound throttle with the given config.
func New(cfg Config) *Upstream {
	if cfg.RPS <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Upstream{
		bucket: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		now:    time.Now,
	}
}

// Wait blocks until an outbound call may proceed: first past any server-imposed
// pause, then through the local token bucket. It returns early with ctx.Err()
// on cancellation.
func (u *Upstream) Wait(ctx context.Context) error {
	if d := u.pauseRemaining(); d > 0 {
		metrics.RecordRateLimitWait("server_hint")
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if !u.bucket.Allow() {
		metrics.RecordRateLimitWait("local_bucket")
		return u.bucket.Wait(ctx)
	}
	return nil
}

// Pause blocks all callers for d from now. Later calls with shorter remaining
// pauses do not shrink an already-imposed one.
func (u *Upstream) Pause(d time.Duration) {
	if d <= 0 {
		return
	}
	until := u.now().Add(d)
	u.mu.Lock()
	if until.After(u.pausedUntil) {
		u.pausedUntil = until
	}
	u.mu.Unlock()
}

// PauseRemaining reports how long callers are still gated, zero if not paused.
func (u *Upstream) PauseRemaining() time.Duration {
	return u.pauseRemaining()
}

func (u *Upstream) pauseRemaining() time.Duration {
	u.mu.Lock()
	defer u.mu.Unlock()
	if d := u.pausedUntil.Sub(u.now()); d > 0 {
		return d
	}
	return 0
}
