package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/create-newspulse/newspulse-auth/internal/auth/domain"
	"github.com/create-newspulse/newspulse-auth/internal/auth/metrics"
	"github.com/create-newspulse/newspulse-auth/pkg/jwtx"
	"github.com/create-newspulse/newspulse-auth/pkg/slogx"
)

// Credentials are the tokens a request presented, usually from cookies.
type Credentials struct {
	Access  string
	Refresh string
}

// Policy is what a route requires of its caller. No roles means any
// authenticated identity.
type Policy struct {
	Roles []domain.Role
}

// Allows reports whether role satisfies the policy.
func (p Policy) Allows(role domain.Role) bool {
	return len(p.Roles) == 0 || slices.Contains(p.Roles, role)
}

// Decision is the outcome of a guard evaluation. Rotated is set whenever a
// silent refresh replaced the session tokens, including on a role or lock
// denial: the old refresh token is spent, so the caller must send the new
// cookies either way.
type Decision struct {
	Principal domain.Principal
	Rotated   *domain.TokenPair
}

// LockChecker reports the authority lock. Implementations fail closed.
type LockChecker interface {
	IsLocked(ctx context.Context) bool
}

// Guard authorizes requests: verify the access token, refresh once if it
// fails, then apply the role policy and the authority lock. It keeps no
// state between requests.
type Guard struct {
	Tokens  *TokenService
	Lock    LockChecker
	Metrics *metrics.Metrics
}

func (g *Guard) Authorize(ctx context.Context, creds Credentials, policy Policy) (Decision, error) {
	d, err := g.authorize(ctx, creds, policy)
	switch {
	case err == nil && d.Rotated != nil:
		g.Metrics.ObserveGuard("allow_refreshed")
	case err == nil:
		g.Metrics.ObserveGuard("allow")
	case errors.Is(err, ErrLockedOut):
		g.Metrics.ObserveGuard("locked")
	case errors.Is(err, ErrUnauthorized):
		g.Metrics.ObserveGuard("forbidden")
	default:
		g.Metrics.ObserveGuard("unauthenticated")
	}
	return d, err
}

func (g *Guard) authorize(ctx context.Context, creds Credentials, policy Policy) (Decision, error) {
	l := slogx.FromContext(ctx)

	var d Decision
	claims, err := g.Tokens.VerifyAccess(creds.Access)
	if err != nil {
		if creds.Refresh == "" {
			return Decision{}, err
		}
		pair, _, rerr := g.Tokens.Rotate(ctx, creds.Refresh)
		if rerr != nil {
			if errors.Is(rerr, ErrUnauthorized) {
				return Decision{}, ErrUnauthorized
			}
			if errors.Is(err, ErrTokenExpired) {
				return Decision{}, ErrTokenExpired
			}
			return Decision{}, ErrTokenInvalid
		}
		if claims, err = g.Tokens.VerifyAccess(pair.AccessToken); err != nil {
			return Decision{}, ErrTokenInvalid
		}
		d.Rotated = &pair
	}

	d.Principal = principalFromClaims(claims)

	if !policy.Allows(d.Principal.Role) {
		l.Info("access denied by role", slog.String("identity_id", d.Principal.IdentityID), slog.String("role", d.Principal.Role.String()))
		return Decision{Rotated: d.Rotated}, ErrUnauthorized
	}

	if !d.Principal.Role.IsFounder() && g.Lock.IsLocked(ctx) {
		l.Info("access denied by lockdown", slog.String("identity_id", d.Principal.IdentityID), slog.String("event", "lockdown"))
		return Decision{Rotated: d.Rotated}, ErrLockedOut
	}

	return d, nil
}

func principalFromClaims(c jwtx.Claims) domain.Principal {
	return domain.Principal{
		IdentityID: c.Subject,
		Role:       domain.ParseRole(c.Role),
		SID:        c.SID,
		AMR:        c.AMR,
	}
}
