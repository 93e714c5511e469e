// SPDX-License-Identifier: MIT

package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestWaitPassesWithinBurst(t *testing.T) {
	u := New(Config{RPS: 100, Burst: 10})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	for i := 0; i < 10; i++ {
		if err := u.Wait(ctx); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("burst waits took %s, expected near-immediate", elapsed)
	}
}

func TestPauseGatesCallers(t *testing.T) {
	u := New(Config{RPS: 100, Burst: 10})
	u.Pause(80 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	if err := u.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("wait returned after %s, expected >= ~80ms pause", elapsed)
	}
}

func TestPauseNeverShrinks(t *testing.T) {
	u := New(Config{RPS: 100, Burst: 10})
	u.Pause(200 * time.Millisecond)
	u.Pause(10 * time.Millisecond)

	if rem := u.PauseRemaining(); rem < 100*time.Millisecond {
		t.Errorf("remaining pause = %s, want close to 200ms", rem)
	}
}

func TestWaitRespectsCancellation(t *testing.T) {
	u := New(Config{RPS: 1, Burst: 1})
	u.Pause(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := u.Wait(ctx); err == nil {
		t.Fatal("expected context error while paused")
	}
}

func TestZeroConfigUsesDefaults(t *testing.T) {
	u := New(Config{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := u.Wait(ctx); err != nil {
		t.Fatalf("wait with defaults: %v", err)
	}
}
