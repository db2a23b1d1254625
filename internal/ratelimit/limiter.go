// Package ratelimit enforces per-host politeness intervals across workers.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/clinassist/kbpipeline/internal/telemetry"
)

// Limiter serializes request pacing per host. With interval d it admits at
// most one request per d to a given host, no matter how many workers share
// the limiter. The mutex guards only the limiter map; waiting happens on the
// per-host rate.Limiter outside the lock.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	interval time.Duration
}

// New creates a Limiter with the given minimum delay between requests to the
// same host.
func New(interval time.Duration) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		interval: interval,
	}
}

// Wait blocks until the host's next-allowed-time passes, respecting the
// context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	return l.WaitInterval(ctx, rawURL, l.interval)
}

// WaitInterval is Wait with a caller-chosen interval, used when a source
// profile overrides the default politeness delay. The interval is fixed the
// first time a host is seen.
func (l *Limiter) WaitInterval(ctx context.Context, rawURL string, interval time.Duration) error {
	host := hostOf(rawURL)

	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(limitFor(interval), 1)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		telemetry.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

// Interval reports the configured politeness interval.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

func limitFor(interval time.Duration) rate.Limit {
	if interval <= 0 {
		return rate.Inf
	}
	return rate.Every(interval)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
