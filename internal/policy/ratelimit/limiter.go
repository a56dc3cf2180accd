// Package ratelimit bounds per-host request concurrency and pacing.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
	"github.com/JakeFAU/menu-harvester/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	// PerHostConcurrency caps simultaneous requests to one host.
	PerHostConcurrency int
	// PerHostRPS is the token refill rate per host. Zero disables pacing.
	PerHostRPS float64
	// Burst is the token bucket size.
	Burst int
}

// Limiter manages per-host concurrency slots and token buckets. It is safe
// for concurrent use; host entries are created lazily and never evicted
// within a run.
type Limiter struct {
	mu           sync.Mutex
	hosts        map[string]*hostLimiter
	concurrency  int64
	defaultRate  rate.Limit
	defaultBurst int
}

type hostLimiter struct {
	slots  *semaphore.Weighted
	bucket *rate.Limiter
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.PerHostRPS)
	if cfg.PerHostRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	concurrency := int64(cfg.PerHostConcurrency)
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Limiter{
		hosts:        make(map[string]*hostLimiter),
		concurrency:  concurrency,
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Acquire blocks until the URL's host has a free slot and a token. The
// returned release func must be called once the request completes.
func (l *Limiter) Acquire(ctx context.Context, rawURL string) (func(), error) {
	domain := crawler.HostKey(rawURL)
	host := l.host(domain)

	start := time.Now()
	if err := host.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire host slot: %w", err)
	}
	if err := host.bucket.Wait(ctx); err != nil {
		host.slots.Release(1)
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(domain, waited)
	}

	var once sync.Once
	return func() {
		once.Do(func() { host.slots.Release(1) })
	}, nil
}

// Hosts returns the number of hosts with limiter state.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hosts)
}

func (l *Limiter) host(domain string) *hostLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.hosts[domain]
	if !ok {
		h = &hostLimiter{
			slots:  semaphore.NewWeighted(l.concurrency),
			bucket: rate.NewLimiter(l.defaultRate, l.defaultBurst),
		}
		l.hosts[domain] = h
	}
	return h
}
