// Package ratelimit holds the per-business throughput window and the
// concurrent-call ceiling used by the outbound compliance gate.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Window is a per-key counter that resets every Period.
// Allow is a read-only test. Increment consumes one unit of quota.
type Window interface {
	Allow(ctx context.Context, key string, limit int) (bool, error)
	Increment(ctx context.Context, key string) error
}

// Concurrency bounds how many calls a key may have in flight.
type Concurrency interface {
	Acquire(ctx context.Context, key string, limit int) (bool, error)
	Release(ctx context.Context, key string) error
}

// Period is the length of one rate window.
const Period = time.Minute

type windowEntry struct {
	count   int
	resetAt time.Time
}

// MemoryWindow is the process-local Window.
type MemoryWindow struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]*windowEntry
}

// NewMemoryWindow builds a window using clock, or time.Now when nil.
func NewMemoryWindow(clock func() time.Time) *MemoryWindow {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryWindow{now: clock, entries: make(map[string]*windowEntry)}
}

func (w *MemoryWindow) current(key string) *windowEntry {
	now := w.now()
	entry, ok := w.entries[key]
	if !ok || !now.Before(entry.resetAt) {
		entry = &windowEntry{resetAt: now.Add(Period)}
		w.entries[key] = entry
	}
	return entry
}

func (w *MemoryWindow) Allow(_ context.Context, key string, limit int) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current(key).count < limit, nil
}

func (w *MemoryWindow) Increment(_ context.Context, key string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current(key).count++
	return nil
}

// Count reports the calls counted in the key's current window.
func (w *MemoryWindow) Count(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current(key).count
}

// MemoryConcurrency is the process-local Concurrency.
type MemoryConcurrency struct {
	mu     sync.Mutex
	active map[string]int
}

func NewMemoryConcurrency() *MemoryConcurrency {
	return &MemoryConcurrency{active: make(map[string]int)}
}

func (c *MemoryConcurrency) Acquire(_ context.Context, key string, limit int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit > 0 && c.active[key] >= limit {
		return false, nil
	}
	c.active[key]++
	return true, nil
}

func (c *MemoryConcurrency) Release(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[key] <= 1 {
		delete(c.active, key)
		return nil
	}
	c.active[key]--
	return nil
}

// Active reports the slots held by key.
func (c *MemoryConcurrency) Active(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[key]
}
