// SPDX-License-Identifier: MIT

package ppubs

import (
	"math/rand"
	"time"
)

// Backoff computes retry delays. It is pure: no I/O, no shared state beyond
// the injected jitter source.
type Backoff struct {
	Min time.Duration
	Max time.Duration

	// Rand returns a value in [0,1). Defaults to math/rand when nil so tests
	// can pin the jitter.
	Rand func() float64
}

// DefaultBackoff mirrors the configured retry window defaults.
func DefaultBackoff() Backoff {
	return Backoff{Min: 2 * time.Second, Max: 10 * time.Second}
}

// Delay returns the wait before the next attempt. attempt counts completed
// attempts, starting at 1. A server-supplied hint takes precedence over the
// computed schedule. Computed delays grow exponentially between Min and Max
// with full jitter on the upper half to decorrelate concurrent callers.
func (b Backoff) Delay(attempt int, hint time.Duration) time.Duration {
	if hint > 0 {
		return hint
	}
	if attempt < 1 {
		attempt = 1
	}

	min := b.Min
	if min <= 0 {
		min = 2 * time.Second
	}
	max := b.Max
	if max < min {
		max = min
	}

	d := min << (attempt - 1)
	if d > max || d <= 0 { // <= 0 guards shift overflow
		d = max
	}

	// Jitter: keep at least half the computed delay, randomise the rest.
	half := d / 2
	return half + time.Duration(b.rand()*float64(d-half))
}

// Jitter spreads a fixed interval by ±25% so concurrent pollers do not
// synchronise.
func (b Backoff) Jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	spread := float64(d) / 2 // total window: [0.75d, 1.25d)
	return time.Duration(float64(d)*0.75 + b.rand()*spread)
}

func (b Backoff) rand() float64 {
	if b.Rand != nil {
		return b.Rand()
	}
	return rand.Float64()
}
