// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"sync"
	"time"

	"github.com/mwrenn/ppubsd/internal/metrics"
)

type entry struct {
	payload   []byte
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Memory is an in-process TTL cache. A janitor goroutine sweeps expired
// entries; Close stops it.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*entry
	stats   Stats

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemory creates an in-memory cache. cleanupInterval <= 0 disables the
// background sweep; expired entries are then only dropped on access.
func NewMemory(cleanupInterval time.Duration) *Memory {
	c := &Memory{
		entries: make(map[string]*entry),
		stop:    make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go c.janitor(cleanupInterval)
	}
	return c
}

func (c *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.expired(time.Now()) {
		c.stats.Misses++
		metrics.RecordCacheOp("miss")
		return nil, false
	}
	c.stats.Hits++
	metrics.RecordCacheOp("hit")
	return e.payload, true
}

func (c *Memory) Set(_ context.Context, key string, payload []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry{payload: payload, expiresAt: time.Now().Add(ttl)}
	c.stats.Sets++
	metrics.RecordCacheOp("set")
}

func (c *Memory) Delete(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *Memory) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.stats
	s.Entries = len(c.entries)
	return s
}

// Close stops the janitor. The cache stays usable afterwards.
func (c *Memory) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}

func (c *Memory) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

func (c *Memory) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			c.stats.Evictions++
			metrics.RecordCacheOp("evict")
		}
	}
}
