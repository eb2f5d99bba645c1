// Package ratelimit enforces per-exchange order and query rate ceilings
// using token buckets with lazy refill.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"ordergate/internal/config"
)

// Kind selects which bucket an acquisition draws from. Orders and queries
// never share tokens.
type Kind string

const (
	KindOrder Kind = "order"
	KindQuery Kind = "query"
)

// Error is returned when a bucket has no token available. RetryAfter is the
// computed time until the next token; callers decide whether to retry.
type Error struct {
	Exchange   string
	Kind       Kind
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s %s requests, retry after %s",
		e.Exchange, e.Kind, e.RetryAfter)
}

// Reason identifies the rejection for metrics labels.
func (e *Error) Reason() string { return "rate_limit" }

// bucket is a token bucket that refills lazily on access: elapsed time since
// the last access × rate, capped at capacity. No background timer runs for
// idle buckets.
type bucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64 // tokens per second
	lastTime time.Time
}

// tryAcquire takes one token if available. A failed acquire consumes
// nothing and returns the duration until the next token.
func (b *bucket) tryAcquire(now time.Time) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastTime).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.rate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.lastTime = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}

	retryAfter := time.Duration((1 - b.tokens) / b.rate * float64(time.Second))
	return false, retryAfter
}

// Limiter holds one order bucket and one query bucket per configured
// exchange. Buckets are independently locked; acquisitions for different
// exchanges never contend.
type Limiter struct {
	buckets map[string]map[Kind]*bucket
	now     func() time.Time
}

// New creates a Limiter from the per-exchange configuration. Order buckets
// hold orders_per_second tokens refilled at that rate; query buckets hold
// queries_per_minute tokens refilled at queries_per_minute/60 per second.
func New(exchanges map[string]config.ExchangeLimits) *Limiter {
	l := &Limiter{
		buckets: make(map[string]map[Kind]*bucket, len(exchanges)),
		now:     time.Now,
	}
	start := l.now()
	for name, limits := range exchanges {
		l.buckets[name] = map[Kind]*bucket{
			KindOrder: {
				tokens:   limits.OrdersPerSecond,
				capacity: limits.OrdersPerSecond,
				rate:     limits.OrdersPerSecond,
				lastTime: start,
			},
			KindQuery: {
				tokens:   limits.QueriesPerMinute,
				capacity: limits.QueriesPerMinute,
				rate:     limits.QueriesPerMinute / 60.0,
				lastTime: start,
			},
		}
	}
	return l
}

// SetNow overrides the limiter's clock. Intended for tests.
func (l *Limiter) SetNow(now func() time.Time) {
	l.now = now
	for _, kinds := range l.buckets {
		for _, b := range kinds {
			b.lastTime = now()
		}
	}
}

// TryAcquire takes one token from the (exchange, kind) bucket. It returns a
// *Error carrying the retry-after duration when the bucket is empty.
// Exchanges without configured limits are not throttled.
func (l *Limiter) TryAcquire(exchange string, kind Kind) error {
	kinds, ok := l.buckets[exchange]
	if !ok {
		return nil
	}
	b, ok := kinds[kind]
	if !ok {
		return nil
	}
	if ok, retryAfter := b.tryAcquire(l.now()); !ok {
		return &Error{Exchange: exchange, Kind: kind, RetryAfter: retryAfter}
	}
	return nil
}
