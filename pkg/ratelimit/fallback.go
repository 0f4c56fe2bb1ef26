package ratelimit

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultCooldown is how long the primary store is skipped after a failure.
const DefaultCooldown = 5 * time.Second

// FallbackStore uses Primary while it is healthy and switches to Secondary
// when Primary errors. After a failure Primary is not retried until the
// cooldown has passed.
type FallbackStore struct {
	Primary   Store
	Secondary Store
	Cooldown  time.Duration
	Logger    *slog.Logger
	// OnFallback is called each time a hit is served by Secondary.
	OnFallback func()

	downUntil atomic.Int64
}

func NewFallbackStore(primary, secondary Store, logger *slog.Logger) *FallbackStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackStore{Primary: primary, Secondary: secondary, Cooldown: DefaultCooldown, Logger: logger}
}

// Incr implements Store.
func (s *FallbackStore) Incr(ctx context.Context, key string, expireIn time.Duration) (int64, error) {
	if s.Primary != nil && time.Now().UnixNano() >= s.downUntil.Load() {
		n, err := s.Primary.Incr(ctx, key, expireIn)
		if err == nil {
			return n, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		s.downUntil.Store(time.Now().Add(s.cooldown()).UnixNano())
		s.Logger.Warn("rate limit store unavailable, using in-process buckets", slog.Any("err", err))
	}

	if s.Primary != nil && s.OnFallback != nil {
		s.OnFallback()
	}
	return s.Secondary.Incr(ctx, key, expireIn)
}

// Degraded reports whether the primary store is currently being skipped.
func (s *FallbackStore) Degraded() bool {
	return time.Now().UnixNano() < s.downUntil.Load()
}

func (s *FallbackStore) cooldown() time.Duration {
	if s.Cooldown <= 0 {
		return DefaultCooldown
	}
	return s.Cooldown
}
