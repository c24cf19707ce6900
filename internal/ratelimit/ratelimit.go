// Package ratelimit gates outbound calls with one token bucket per
// endpoint class plus a companion concurrency semaphore, the client-side
// half of Bitfinex's rate limiting: the token bucket bounds request
// rate, the semaphore bounds how many requests in that class may be
// in flight at once. Buckets are built on golang.org/x/time/rate.
package ratelimit

import (
	"context"
	"fmt"

	"bitfinex-trader/internal/config"
	"bitfinex-trader/internal/core"
	"bitfinex-trader/pkg/apperrors"
	"bitfinex-trader/pkg/telemetry"

	"golang.org/x/time/rate"
)

// Limiter owns one *rate.Limiter plus one counting semaphore per
// configured endpoint class.
type Limiter struct {
	buckets map[string]*rate.Limiter
	burst   map[string]int
	sems    map[string]chan struct{}
}

// New builds a Limiter from the configured per-class patterns. A pattern
// with MaxConcurrent <= 0 gets no semaphore (unbounded concurrency).
func New(patterns []config.RateLimitPattern) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*rate.Limiter, len(patterns)),
		burst:   make(map[string]int, len(patterns)),
		sems:    make(map[string]chan struct{}, len(patterns)),
	}
	for _, p := range patterns {
		l.buckets[p.Class] = rate.NewLimiter(rate.Limit(p.RequestsPerSec), p.Burst)
		l.burst[p.Class] = p.Burst
		if p.MaxConcurrent > 0 {
			l.sems[p.Class] = make(chan struct{}, p.MaxConcurrent)
		}
	}
	return l
}

// Acquire blocks until both a token for class is available and a
// concurrency slot is free, or ctx is done. An unconfigured class is
// treated as unlimited so a newly introduced operation never deadlocks
// waiting for a bucket that doesn't exist. Every successful Acquire must
// be paired with a Release once the call completes.
func (l *Limiter) Acquire(ctx context.Context, class string) error {
	bucket, ok := l.buckets[class]
	if !ok {
		return nil
	}
	if err := bucket.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return &apperrors.Timeout{Op: fmt.Sprintf("ratelimit:%s", class)}
		}
		return &apperrors.RateLimited{Class: class}
	}

	if sem, ok := l.sems[class]; ok {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return &apperrors.Timeout{Op: fmt.Sprintf("ratelimit:%s:semaphore", class)}
		}
	}

	l.publish(class, bucket)
	return nil
}

// Release returns the concurrency slot Acquire reserved for class. A
// class with no semaphore configured is a no-op.
func (l *Limiter) Release(class string) {
	if sem, ok := l.sems[class]; ok {
		<-sem
	}
}

// Tokens reports the tokens currently available in class's bucket.
func (l *Limiter) Tokens(class string) float64 {
	bucket, ok := l.buckets[class]
	if !ok {
		return -1
	}
	return bucket.Tokens()
}

// Utilization reports the fraction of class's burst capacity currently
// consumed, in [0,1].
func (l *Limiter) Utilization(class string) float64 {
	bucket, ok := l.buckets[class]
	if !ok {
		return 0
	}
	burst := l.burst[class]
	if burst == 0 {
		return 0
	}
	available := bucket.Tokens()
	if available > float64(burst) {
		available = float64(burst)
	}
	return 1 - available/float64(burst)
}

func (l *Limiter) publish(class string, bucket *rate.Limiter) {
	telemetry.GetGlobalMetrics().SetRateLimiterState(class, bucket.Tokens(), l.Utilization(class))
}

var _ core.IRateLimiter = (*Limiter)(nil)
