package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/create-newspulse/newspulse-auth/internal/auth/metrics"
	"github.com/create-newspulse/newspulse-auth/pkg/ratelimit"
	"github.com/create-newspulse/newspulse-auth/pkg/slogx"
)

// Rate limit scopes. Each scope has its own bucket namespace.
const (
	ScopeLoginIP    = "login:ip"
	ScopeLoginEmail = "login:email"
	ScopeMFAToken   = "mfa:token"
	ScopeForgot     = "forgot:email"
	ScopeResetIP    = "reset:ip"
	ScopeRefreshIP  = "refresh:ip"
)

// Limiter is satisfied by *ratelimit.Limiter.
type Limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Result, error)
}

// Limits holds one limiter per scope. A nil limiter disables that check.
type Limits struct {
	LoginIP    Limiter
	LoginEmail Limiter
	MFAToken   Limiter
	Forgot     Limiter
	ResetIP    Limiter
	RefreshIP  Limiter
}

// NewLimits builds every scope over one counter store with the same
// window and maximum. MFA attempts per token are capped at 5.
func NewLimits(s ratelimit.Store, max int, window time.Duration) Limits {
	mk := func(scope string, m int) Limiter {
		return ratelimit.New(s, "np:rl:"+scope+":", m, window)
	}
	return Limits{
		LoginIP:    mk(ScopeLoginIP, max),
		LoginEmail: mk(ScopeLoginEmail, max),
		MFAToken:   mk(ScopeMFAToken, MaxMFAAttempts),
		Forgot:     mk(ScopeForgot, max),
		ResetIP:    mk(ScopeResetIP, max),
		RefreshIP:  mk(ScopeRefreshIP, max),
	}
}

// checkLimit counts one hit against key. A store failure denies the request:
// the fallback store already absorbs shared-store outages, so an error here
// means no counter is available at all.
func checkLimit(ctx context.Context, l Limiter, m *metrics.Metrics, scope, key string) error {
	if l == nil || key == "" {
		return nil
	}
	res, err := l.Allow(ctx, key)
	if err != nil {
		slogx.FromContext(ctx).Error("rate limiter unavailable", slog.String("scope", scope), slog.Any("error", err))
		return fmt.Errorf("rate limit %s: %w", scope, err)
	}
	if !res.Allowed {
		m.ObserveRateLimited(scope)
		slogx.FromContext(ctx).Warn("rate limited", slog.String("scope", scope), slog.Duration("retry_after", res.RetryAfter))
		return &RateLimitError{Scope: scope, RetryAfter: res.RetryAfter}
	}
	return nil
}
