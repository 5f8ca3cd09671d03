package web

import (
	"sync"
	"sync/atomic"
	"time"
)

// widgetCache keeps the last good payload for one widget endpoint. A failed
// refresh keeps the previous payload around so the dashboard shows stale data
// next to the error instead of a hole.
type widgetCache[T any] struct {
	ttl time.Duration

	mu        sync.RWMutex
	value     T
	hasValue  bool
	updatedAt time.Time

	// refreshing guards against concurrent refreshes. A request that finds
	// a refresh already in flight serves the cached value; it never queues.
	refreshing atomic.Bool
}

func newWidgetCache[T any](ttl time.Duration) *widgetCache[T] {
	return &widgetCache[T]{ttl: ttl}
}

// snapshot returns the cached value, whether one exists, and when it was set.
func (c *widgetCache[T]) snapshot() (T, bool, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value, c.hasValue, c.updatedAt
}

// invalidate expires the cached value without discarding it; the next get
// refreshes, and the old value still backs the stale-data path.
func (c *widgetCache[T]) invalidate() {
	c.mu.Lock()
	c.updatedAt = time.Time{}
	c.mu.Unlock()
}

// get returns the cached value when it is still fresh and otherwise refreshes
// it with fn. On refresh failure the previous value is returned together with
// the error, so callers can serve stale data. When another refresh is already
// in flight, the cached value is served as-is.
func (c *widgetCache[T]) get(fn func() (T, error)) (T, time.Time, error) {
	value, has, at := c.snapshot()
	if has && time.Since(at) < c.ttl {
		return value, at, nil
	}

	if !c.refreshing.CompareAndSwap(false, true) {
		var zero T
		if has {
			return value, at, nil
		}
		return zero, time.Time{}, errRefreshInFlight
	}
	defer c.refreshing.Store(false)

	fresh, err := fn()
	if err != nil {
		return value, at, err
	}

	now := time.Now()
	c.mu.Lock()
	c.value = fresh
	c.hasValue = true
	c.updatedAt = now
	c.mu.Unlock()
	return fresh, now, nil
}
