// SPDX-License-Identifier: MIT

package ppubs

import (
	"testing"
	"time"
)

func fixedRand(v float64) func() float64 {
	return func() float64 { return v }
}

func TestBackoffHintTakesPrecedence(t *testing.T) {
	b := Backoff{Min: time.Second, Max: 10 * time.Second, Rand: fixedRand(0)}
	if got := b.Delay(1, 42*time.Second); got != 42*time.Second {
		t.Errorf("delay with hint = %s, want 42s", got)
	}
}

func TestBackoffGrowsWithAttempts(t *testing.T) {
	b := Backoff{Min: time.Second, Max: time.Minute, Rand: fixedRand(0.999)}
	prev := time.Duration(0)
	for attempt := 1; attempt <= 5; attempt++ {
		d := b.Delay(attempt, 0)
		if d < prev {
			t.Errorf("attempt %d: delay %s shrank below %s", attempt, d, prev)
		}
		prev = d
	}
}

func TestBackoffRespectsBounds(t *testing.T) {
	b := Backoff{Min: time.Second, Max: 4 * time.Second}
	for attempt := 1; attempt <= 20; attempt++ {
		d := b.Delay(attempt, 0)
		if d < time.Second/2 {
			t.Errorf("attempt %d: delay %s below half of min", attempt, d)
		}
		if d > 4*time.Second {
			t.Errorf("attempt %d: delay %s above max", attempt, d)
		}
	}
}

func TestBackoffJitterDecorrelates(t *testing.T) {
	low := Backoff{Rand: fixedRand(0)}
	high := Backoff{Rand: fixedRand(0.999)}

	base := 4 * time.Second
	dLow := low.Jitter(base)
	dHigh := high.Jitter(base)

	if dLow >= dHigh {
		t.Errorf("jitter not spreading: low=%s high=%s", dLow, dHigh)
	}
	if dLow < 3*time.Second || dHigh > 5*time.Second {
		t.Errorf("jitter outside ±25%% window: low=%s high=%s", dLow, dHigh)
	}
}

func TestBackoffZeroValueIsUsable(t *testing.T) {
	var b Backoff
	if d := b.Delay(1, 0); d <= 0 {
		t.Errorf("zero-value backoff produced %s", d)
	}
}
