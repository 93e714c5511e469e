// SPDX-License-Identifier: MIT

// Package cache stores serialized upstream responses under canonical keys so
// repeated queries skip the rate-limited upstream entirely.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Cache is a TTL byte store. Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the cached payload for key, if present and unexpired.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores payload under key for ttl.
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration)
	// Delete removes key.
	Delete(ctx context.Context, key string)
	// Stats returns hit/miss counters.
	Stats() Stats
	// Close releases backing resources.
	Close() error
}

// Stats holds cache performance counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Sets      int64
	Evictions int64
	Entries   int
}

// Key derives a stable cache key from a prefix and any JSON-encodable value.
// Equal values produce equal keys regardless of caller.
func Key(prefix string, v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return prefix + ":unkeyable"
	}
	sum := sha256.Sum256(data)
	return prefix + ":" + hex.EncodeToString(sum[:16])
}

// NoOp is the disabled cache: every lookup misses.
type NoOp struct{}

func (NoOp) Get(context.Context, string) ([]byte, bool)         { return nil, false }
func (NoOp) Set(context.Context, string, []byte, time.Duration) {}
func (NoOp) Delete(context.Context, string)                     {}
func (NoOp) Stats() Stats                                       { return Stats{} }
func (NoOp) Close() error                                       { return nil }
