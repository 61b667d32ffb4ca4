package infra

import (
	"context"
	"sync"
	"time"

	"bulwark/internal/platform/middleware/ratelimit/domain"
)

const defaultMaxEntries = 10000

// LocalCounter is the per-process fallback used while the shared store is
// unreachable. It holds at most maxEntries windows; when full it first drops
// expired windows, then the window closest to expiry.
type LocalCounter struct {
	mu         sync.Mutex
	entries    map[string]*localEntry
	maxEntries int
}

type localEntry struct {
	count   int64
	resetAt time.Time
}

func NewLocalCounter(maxEntries int) *LocalCounter {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &LocalCounter{
		entries:    make(map[string]*localEntry),
		maxEntries: maxEntries,
	}
}

func (c *LocalCounter) Increment(_ context.Context, key domain.Key, window time.Duration, now time.Time) (int64, time.Time, error) {
	id := key.String()
	resetAt := domain.WindowStart(now, window).Add(window)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[id]
	if ok && !now.Before(entry.resetAt) {
		entry.count = 0
		entry.resetAt = resetAt
	}
	if !ok {
		if len(c.entries) >= c.maxEntries {
			c.sweepLocked(now)
		}
		if len(c.entries) >= c.maxEntries {
			c.evictSoonestLocked()
		}
		entry = &localEntry{resetAt: resetAt}
		c.entries[id] = entry
	}
	entry.count++
	return entry.count, entry.resetAt, nil
}

// Sweep drops windows that ended before now.
func (c *LocalCounter) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(now)
}

func (c *LocalCounter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// StartJanitor sweeps expired windows every interval until ctx is done.
func (c *LocalCounter) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				c.Sweep(now)
			}
		}
	}()
}

func (c *LocalCounter) sweepLocked(now time.Time) int {
	removed := 0
	for id, entry := range c.entries {
		if !now.Before(entry.resetAt) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

func (c *LocalCounter) evictSoonestLocked() {
	var (
		victim string
		soon   time.Time
	)
	for id, entry := range c.entries {
		if victim == "" || entry.resetAt.Before(soon) {
			victim, soon = id, entry.resetAt
		}
	}
	delete(c.entries, victim)
}
