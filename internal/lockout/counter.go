// Package lockout counts failed login attempts per key over a sliding window.
// A failure at time f counts at time t when t-window < f <= t.
package lockout

import (
	"context"
	"sync"
	"time"
)

// Counter records and counts failures. Implementations must make RecordFailure atomic
// with respect to concurrent callers on the same key.
type Counter interface {
	// RecordFailure adds a failure at `at` and returns the count inside the window ending at `at`.
	RecordFailure(ctx context.Context, key string, at time.Time, window time.Duration) (int, error)
	// Failures returns the count inside the window ending at `at`.
	Failures(ctx context.Context, key string, at time.Time, window time.Duration) (int, error)
	// Reset clears all failures for key.
	Reset(ctx context.Context, key string) error
}

// MemoryCounter is an in-process Counter.
type MemoryCounter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
}

// NewMemoryCounter returns an empty MemoryCounter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{failures: make(map[string][]time.Time)}
}

func (c *MemoryCounter) prune(key string, at time.Time, window time.Duration) []time.Time {
	cutoff := at.Add(-window)
	kept := c.failures[key][:0]
	for _, f := range c.failures[key] {
		if f.After(cutoff) {
			kept = append(kept, f)
		}
	}
	if len(kept) == 0 {
		delete(c.failures, key)
		return nil
	}
	c.failures[key] = kept
	return kept
}

func (c *MemoryCounter) RecordFailure(ctx context.Context, key string, at time.Time, window time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := append(c.prune(key, at, window), at)
	c.failures[key] = kept
	return countUpTo(kept, at), nil
}

func (c *MemoryCounter) Failures(ctx context.Context, key string, at time.Time, window time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return countUpTo(c.prune(key, at, window), at), nil
}

func (c *MemoryCounter) Reset(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.failures, key)
	return nil
}

func countUpTo(failures []time.Time, at time.Time) int {
	n := 0
	for _, f := range failures {
		if !f.After(at) {
			n++
		}
	}
	return n
}
