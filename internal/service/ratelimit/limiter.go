package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type bucket struct {
	tokens float64
	last   time.Time
}

// Limiter is a keyed token bucket. Every key shares the same capacity and
// refill rate.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	capacity float64
	refill   float64 // tokens per second
	clock    clockwork.Clock
}

// New creates a limiter allowing burst requests and then perSecond per key.
func New(burst int, perSecond float64, clk clockwork.Clock) *Limiter {
	if burst < 1 {
		burst = 1
	}
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Limiter{
		buckets:  make(map[string]*bucket),
		capacity: float64(burst),
		refill:   perSecond,
		clock:    clk,
	}
}

// Every returns a limiter that allows one request per interval per key.
func Every(interval time.Duration, clk clockwork.Clock) *Limiter {
	if interval <= 0 {
		interval = time.Second
	}
	return New(1, float64(time.Second)/float64(interval), clk)
}

// Allow consumes one token for key if available.
func (l *Limiter) Allow(key string) bool {
	_, ok := l.reserve(key)
	return ok
}

// Wait blocks until a token is available for key or ctx is done.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	for {
		wait, ok := l.reserve(key)
		if ok {
			return nil
		}
		select {
		case <-l.clock.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// reserve takes a token or reports how long until one is available.
func (l *Limiter) reserve(key string) (time.Duration, bool) {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.capacity, last: now}
		l.buckets[key] = b
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens += elapsed * l.refill
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.last = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return 0, true
	}
	if l.refill <= 0 {
		return time.Hour, false
	}
	need := (1 - b.tokens) / l.refill
	return time.Duration(need * float64(time.Second)), false
}
