// Package ratelimit admits or rejects requests with a per-key token bucket,
// built on golang.org/x/time/rate.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"

	"fleetmcp/pkg/ferrors"
)

// Config sets one bucket's refill rate and burst capacity.
type Config struct {
	RequestsPerSecond float64
	BurstSize         int
}

// Limiter holds one token bucket per key, created lazily on first use.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	buckets map[string]*rate.Limiter
}

// New creates a Limiter. Every key shares the same Config; per-key
// overrides are not part of the configuration file contract.
func New(cfg Config) *Limiter {
	return &Limiter{cfg: cfg, buckets: make(map[string]*rate.Limiter)}
}

// Allow admits or denies a single request for key, returning
// RateLimitExceeded on denial with the caller's suggested backoff.
func (l *Limiter) Allow(key string) error {
	bucket := l.bucketFor(key)
	if bucket.Allow() {
		return nil
	}

	reservation := bucket.Reserve()
	retryAfter := reservation.Delay()
	reservation.Cancel()
	return ferrors.NewRateLimitExceeded(key, retryAfter)
}

func (l *Limiter) bucketFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.BurstSize)
		l.buckets[key] = b
	}
	return b
}

// GlobalKey and OpKey build the two key shapes the configuration file
// contract defines: a fleet-wide bucket and one per operation/provider.
const GlobalKey = "global"

func OpKey(providerID string) string {
	return "op:" + providerID
}
