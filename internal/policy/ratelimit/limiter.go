// Package ratelimit applies per-domain token bucket limits ahead of page fetches.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/scrapekit/internal/crawler"
	"github.com/JakeFAU/scrapekit/internal/metrics"
)

// minObservedDelay is the shortest wait worth recording as a metric.
const minObservedDelay = time.Millisecond

// Config holds rate limiter configuration. A non-positive DefaultRPS disables
// limiting for domains without an override.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// Domains overrides DefaultRPS for specific hosts.
	Domains map[string]float64
}

// Limiter manages per-domain rate limits.
type Limiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	rate      rate.Limit
	burst     int
	overrides map[string]rate.Limit
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	overrides := make(map[string]rate.Limit, len(cfg.Domains))
	for host, rps := range cfg.Domains {
		overrides[strings.ToLower(host)] = toLimit(rps)
	}
	return &Limiter{
		limiters:  make(map[string]*rate.Limiter),
		rate:      toLimit(cfg.DefaultRPS),
		burst:     burst,
		overrides: overrides,
	}
}

func toLimit(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

// Wait blocks until a token is available for rawURL's domain.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	domain := crawler.Domain(rawURL)
	limiter := l.limiterFor(domain)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", domain, err)
	}
	if waited := time.Since(start); waited > minObservedDelay {
		metrics.ObserveRateLimitDelay(domain, waited)
	}
	return nil
}

// Domains reports how many domains have a limiter.
func (l *Limiter) Domains() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *Limiter) limiterFor(domain string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok := l.limiters[domain]; ok {
		return limiter
	}
	r, ok := l.overrides[domain]
	if !ok {
		r = l.rate
	}
	limiter := rate.NewLimiter(r, l.burst)
	l.limiters[domain] = limiter
	return limiter
}
