// Package ratelimit implements a token bucket rate limiter for outbound
// fetches, keyed by host.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/linkmeta/internal/metrics"
)

const defaultMaxHosts = 1024

// Limiter manages per-host rate limits. Only the most recently used hosts
// keep a bucket; an evicted host starts again with a full burst.
type Limiter struct {
	mu           sync.Mutex
	limiters     *lru.Cache
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// MaxHosts bounds the number of tracked hosts. Zero means 1024.
	MaxHosts int
}

// New creates a new Limiter. A non-positive rate disables throttling.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	maxHosts := cfg.MaxHosts
	if maxHosts <= 0 {
		maxHosts = defaultMaxHosts
	}
	return &Limiter{
		limiters:     lru.New(maxHosts),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Wait blocks until a token is available for the host of rawURL, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}

	start := time.Now()
	if err := l.forHost(host).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Tokens that were available immediately are not worth a sample.
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

func (l *Limiter) forHost(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.limiters.Get(host); ok {
		return v.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(l.defaultRate, l.defaultBurst)
	l.limiters.Add(host, limiter)
	return limiter
}

func (l *Limiter) hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limiters.Len()
}
