// Package cache provides a generic expiring key-value store.
//
// Entries expire lazily on read and are also removed by an optional background
// sweeper. There is no size bound; callers scope a cache to a crawl run or a
// bounded TTL window.
package cache

import (
	"sync"
	"time"
)

// DefaultSweepInterval is used when no sweep interval option is supplied.
const DefaultSweepInterval = time.Minute

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

func (e entry[V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// TTL is a concurrency-safe map whose entries expire after a per-entry duration.
type TTL[K comparable, V any] struct {
	mu      sync.Mutex
	items   map[K]entry[V]
	now     func() time.Time
	sweep   time.Duration
	stop    chan struct{}
	stopped sync.Once
}

type options struct {
	sweep time.Duration
	now   func() time.Time
}

// Option customizes a TTL cache.
type Option func(*options)

// WithSweepInterval sets how often expired entries are purged in the background.
// A non-positive interval disables the sweeper; expiry then happens on read only.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) {
		o.sweep = d
	}
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// New constructs an empty cache and starts its sweeper when enabled.
func New[K comparable, V any](opts ...Option) *TTL[K, V] {
	o := options{sweep: DefaultSweepInterval, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	c := &TTL[K, V]{
		items: make(map[K]entry[V]),
		now:   o.now,
		sweep: o.sweep,
		stop:  make(chan struct{}),
	}
	if c.sweep > 0 {
		go c.sweepLoop()
	}
	return c
}

// Set stores value under key. A non-positive ttl never expires.
func (c *TTL[K, V]) Set(key K, value V, ttl time.Duration) {
	e := entry[V]{value: value}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.items[key] = e
	c.mu.Unlock()
}

// Get returns the value for key. Expired entries are removed and reported as misses.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if e.expired(c.now()) {
		delete(c.items, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Has reports whether key is present and unexpired.
func (c *TTL[K, V]) Has(key K) bool {
	_, ok := c.Get(key)
	return ok
}

// Delete removes key if present.
func (c *TTL[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *TTL[K, V]) Clear() {
	c.mu.Lock()
	c.items = make(map[K]entry[V])
	c.mu.Unlock()
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *TTL[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Purge removes all expired entries and returns how many were dropped.
func (c *TTL[K, V]) Purge() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.items {
		if e.expired(now) {
			delete(c.items, k)
			removed++
		}
	}
	return removed
}

// Close stops the background sweeper. It is safe to call more than once.
func (c *TTL[K, V]) Close() {
	c.stopped.Do(func() {
		close(c.stop)
	})
}

func (c *TTL[K, V]) sweepLoop() {
	ticker := time.NewTicker(c.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.Purge()
		}
	}
}
