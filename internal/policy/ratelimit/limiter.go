// Package ratelimit spaces out page loads per retailer domain with token
// buckets.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/retail-variant-crawler/internal/metrics"
)

// Config sets the default bucket and optional per-domain overrides.
type Config struct {
	DefaultRPS   float64           `mapstructure:"default_rps"`
	DefaultBurst int               `mapstructure:"default_burst"`
	Domains      map[string]Bucket `mapstructure:"domains"`
}

// Bucket is one domain's rate and burst. A non-positive RPS is unlimited.
type Bucket struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Limiter hands out per-domain tokens.
type Limiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	fallback  Bucket
	overrides map[string]Bucket
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	overrides := make(map[string]Bucket, len(cfg.Domains))
	for domain, b := range cfg.Domains {
		overrides[normalize(domain)] = b
	}
	return &Limiter{
		limiters:  make(map[string]*rate.Limiter),
		fallback:  Bucket{RPS: cfg.DefaultRPS, Burst: cfg.DefaultBurst},
		overrides: overrides,
	}
}

// Wait blocks until rawURL's domain has a token or ctx ends.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	domain := domainOf(rawURL)
	limiter := l.forDomain(domain)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(domain, waited)
	}
	return nil
}

func (l *Limiter) forDomain(domain string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[domain]; ok {
		return lim
	}
	b, ok := l.overrides[domain]
	if !ok {
		b = l.fallback
	}
	limit := rate.Limit(b.RPS)
	if b.RPS <= 0 {
		limit = rate.Inf
	}
	burst := b.Burst
	if burst <= 0 {
		burst = 1
	}
	lim := rate.NewLimiter(limit, burst)
	l.limiters[domain] = lim
	return lim
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return normalize(u.Hostname())
}

func normalize(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}
