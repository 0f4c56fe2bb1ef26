package httpx

import (
	"context"
	"sync"
	"time"

	"github.com/create-newspulse/newspulse-auth/pkg/ratelimit"
	"golang.org/x/time/rate"
)

// TokenBucket is an in-process per-key token bucket limiter, used for
// endpoints where smooth throttling matters more than shared state.
type TokenBucket struct {
	limiters sync.Map // map[string]*rate.Limiter
	rate     rate.Limit
	burst    int

	mu          sync.Mutex
	lastCleanup time.Time
}

// NewTokenBucket derives a per-second rate from config.
func NewTokenBucket(config RateLimitConfig) *TokenBucket {
	return &TokenBucket{
		rate:        rate.Limit(float64(config.RequestsPerWindow) / config.Window.Seconds()),
		burst:       config.Burst,
		lastCleanup: time.Now(),
	}
}

// Allow implements Limiter.
func (tb *TokenBucket) Allow(_ context.Context, key string) (ratelimit.Result, error) {
	l := tb.get(key)

	if !l.Allow() {
		// Peek at when the next token arrives without consuming it.
		r := l.Reserve()
		delay := r.Delay()
		r.Cancel()
		return ratelimit.Result{Allowed: false, RetryAfter: delay}, nil
	}
	return ratelimit.Result{Allowed: true, Remaining: int64(l.Tokens())}, nil
}

func (tb *TokenBucket) get(key string) *rate.Limiter {
	if l, ok := tb.limiters.Load(key); ok {
		return l.(*rate.Limiter)
	}

	actual, _ := tb.limiters.LoadOrStore(key, rate.NewLimiter(tb.rate, tb.burst))
	tb.maybeCleanup()
	return actual.(*rate.Limiter)
}

// maybeCleanup drops idle limiters (full buckets) at most every 5 minutes.
func (tb *TokenBucket) maybeCleanup() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if time.Since(tb.lastCleanup) < 5*time.Minute {
		return
	}
	tb.lastCleanup = time.Now()

	tb.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).Tokens() >= float64(tb.burst) {
			tb.limiters.Delete(key)
		}
		return true
	})
}
