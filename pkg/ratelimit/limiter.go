// Package ratelimit implements a fixed-window request limiter over a
// pluggable counter store.
//
// Every caller inside the same window shares one bucket, so a client can
// burst up to 2*Max requests around a window boundary. That relaxation is
// accepted; swap in a sliding window if strict limiting is ever required.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Defaults applied when a Limiter is built with zero values.
const (
	DefaultWindow = 60 * time.Second
	DefaultMax    = 10
)

// Result describes the outcome of a single Allow call.
type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration // only set when denied
	Hits       int64
}

// Store is an atomic counter keyed by bucket. Incr increments the bucket and
// returns the post-increment count. The bucket is created with expireIn on
// first increment.
type Store interface {
	Incr(ctx context.Context, key string, expireIn time.Duration) (int64, error)
}

// Limiter is a fixed-window limiter.
type Limiter struct {
	store  Store
	prefix string
	max    int64
	window time.Duration
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New builds a Limiter allowing max hits per window for each key.
func New(store Store, prefix string, max int, window time.Duration, opts ...Option) *Limiter {
	if max <= 0 {
		max = DefaultMax
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if prefix == "" {
		prefix = "rl:"
	}
	l := &Limiter{
		store:  store,
		prefix: prefix,
		max:    int64(max),
		window: window,
		now:    time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Limiter) Max() int64            { return l.max }
func (l *Limiter) Window() time.Duration { return l.window }

// Allow counts one hit against key in the current window.
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	now := l.now().UTC()
	winStart := now.Truncate(l.window)
	winEnd := winStart.Add(l.window)
	bucket := fmt.Sprintf("%s%s:%d", l.prefix, strings.ReplaceAll(key, " ", "_"), winStart.Unix())

	hits, err := l.store.Incr(ctx, bucket, winEnd.Sub(now))
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: incr %s: %w", l.prefix, err)
	}

	res := Result{
		Allowed:   hits <= l.max,
		Remaining: max(l.max-hits, 0),
		Hits:      hits,
	}
	if !res.Allowed {
		res.RetryAfter = winEnd.Sub(now)
	}
	return res, nil
}
