package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/create-newspulse/newspulse-auth/internal/auth/domain"
	"github.com/create-newspulse/newspulse-auth/internal/auth/metrics"
	"github.com/create-newspulse/newspulse-auth/internal/auth/store"
	"github.com/create-newspulse/newspulse-auth/pkg/idx"
	"github.com/create-newspulse/newspulse-auth/pkg/jwtx"
	"github.com/create-newspulse/newspulse-auth/pkg/slogx"
)

// Authentication method references carried in the amr claim.
const (
	AMRPassword = "pwd"
	AMROTP      = "otp"
	AMRRecovery = "rec"
	AMRHardware = "hwk"
	AMRMFA      = "mfa"
)

// refreshAudienceSuffix separates refresh tokens from access tokens at the
// audience level, on top of the typ claim.
const refreshAudienceSuffix = ":refresh"

// TokenService mints, verifies and rotates the session token pair.
type TokenService struct {
	Signer     jwtx.Signer
	Verifier   jwtx.Verifier
	Store      store.Store
	Metrics    *metrics.Metrics
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Leeway     time.Duration
}

func (s *TokenService) accessTTL() time.Duration {
	if s.AccessTTL <= 0 {
		return jwtx.DefaultAccessTokenTTL
	}
	return s.AccessTTL
}

func (s *TokenService) refreshTTL() time.Duration {
	if s.RefreshTTL <= 0 {
		return jwtx.DefaultRefreshTokenTTL
	}
	return s.RefreshTTL
}

// RefreshAudience is the audience refresh tokens are minted for.
func (s *TokenService) RefreshAudience() string { return s.Audience + refreshAudienceSuffix }

// IssueAccess signs an access token for identity within session sid.
func (s *TokenService) IssueAccess(identity domain.Identity, sid string, amr []string, now time.Time) (string, time.Time, error) {
	claims := jwtx.NewClaims(jwtx.TypeAccess, identity.ID, identity.Role.String(), sid, amr,
		s.accessTTL(), s.Issuer, []string{s.Audience}, now)
	tok, err := s.Signer.Sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return tok, claims.ExpiresAt.Time, nil
}

// IssueRefresh signs a refresh token and opens session sid with it as the
// current token.
func (s *TokenService) IssueRefresh(ctx context.Context, identity domain.Identity, sid string, amr []string, now time.Time) (string, time.Time, error) {
	claims := s.refreshClaims(identity, sid, amr, now)
	tok, err := s.Signer.Sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	err = s.Store.RefreshSessions().CreateRefreshSession(ctx, domain.RefreshSession{
		SID:        sid,
		IdentityID: identity.ID,
		JTI:        claims.ID,
		AMR:        amr,
		ExpiresAt:  claims.ExpiresAt.Time,
	})
	if err != nil {
		return "", time.Time{}, err
	}
	return tok, claims.ExpiresAt.Time, nil
}

func (s *TokenService) refreshClaims(identity domain.Identity, sid string, amr []string, now time.Time) jwtx.Claims {
	return jwtx.NewClaims(jwtx.TypeRefresh, identity.ID, identity.Role.String(), sid, amr,
		s.refreshTTL(), s.Issuer, []string{s.RefreshAudience()}, now)
}

// IssuePair starts a new session and returns both tokens. Nothing is
// returned unless both were minted.
func (s *TokenService) IssuePair(ctx context.Context, identity domain.Identity, amr []string) (domain.TokenPair, error) {
	now := time.Now().UTC()
	sid := idx.New().String()
	amr = dedupe(amr)

	access, accessExp, err := s.IssueAccess(identity, sid, amr, now)
	if err != nil {
		return domain.TokenPair{}, err
	}
	refresh, refreshExp, err := s.IssueRefresh(ctx, identity, sid, amr, now)
	if err != nil {
		return domain.TokenPair{}, err
	}

	slogx.FromContext(ctx).Info("session issued",
		slog.String("identity_id", identity.ID),
		slog.String("sid", sid),
		slog.Any("amr", amr),
	)

	return domain.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Verify checks signature, expiry, audience and issuer. Expiry is reported
// as ErrTokenExpired; every other failure collapses into ErrTokenInvalid.
func (s *TokenService) Verify(token, audience, issuer string) (jwtx.Claims, error) {
	return s.verify(token, jwtx.VerifyOptions{Issuer: issuer, Audience: []string{audience}})
}

// VerifyAccess verifies an access token against the configured issuer and
// audience.
func (s *TokenService) VerifyAccess(token string) (jwtx.Claims, error) {
	return s.verify(token, jwtx.VerifyOptions{
		Issuer:   s.Issuer,
		Audience: []string{s.Audience},
		Type:     jwtx.TypeAccess,
	})
}

// VerifyRefresh verifies a refresh token against the configured issuer and
// refresh audience.
func (s *TokenService) VerifyRefresh(token string) (jwtx.Claims, error) {
	return s.verify(token, jwtx.VerifyOptions{
		Issuer:   s.Issuer,
		Audience: []string{s.RefreshAudience()},
		Type:     jwtx.TypeRefresh,
	})
}

func (s *TokenService) verify(token string, opts jwtx.VerifyOptions) (jwtx.Claims, error) {
	if token == "" {
		return jwtx.Claims{}, ErrTokenInvalid
	}
	opts.Leeway = s.Leeway
	claims, err := s.Verifier.Verify(token, opts)
	if err != nil {
		if errors.Is(err, jwtx.ErrExpired) {
			return jwtx.Claims{}, ErrTokenExpired
		}
		return jwtx.Claims{}, ErrTokenInvalid
	}
	return claims, nil
}

// Rotate exchanges a refresh token for a new pair. The identity is reloaded
// so suspension or a role change takes effect on the next refresh, and the
// session's current jti is swapped atomically so only one of several
// concurrent rotations of the same token succeeds.
func (s *TokenService) Rotate(ctx context.Context, refreshToken string) (domain.TokenPair, domain.Identity, error) {
	pair, identity, err := s.rotate(ctx, refreshToken)
	if err != nil {
		s.Metrics.ObserveRotation("denied")
		return domain.TokenPair{}, domain.Identity{}, err
	}
	s.Metrics.ObserveRotation("success")
	return pair, identity, nil
}

func (s *TokenService) rotate(ctx context.Context, refreshToken string) (domain.TokenPair, domain.Identity, error) {
	l := slogx.FromContext(ctx)
	now := time.Now().UTC()

	claims, err := s.VerifyRefresh(refreshToken)
	if err != nil {
		return domain.TokenPair{}, domain.Identity{}, ErrTokenInvalid
	}

	identity, err := s.Store.Identities().GetIdentityByID(ctx, claims.Subject)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domain.TokenPair{}, domain.Identity{}, ErrTokenInvalid
	case err != nil:
		l.Error("refresh: identity lookup failed", slog.Any("error", err))
		return domain.TokenPair{}, domain.Identity{}, ErrUnauthorized
	}
	if !identity.Active() {
		l.Info("refresh denied for inactive identity", slog.String("identity_id", identity.ID))
		return domain.TokenPair{}, domain.Identity{}, ErrTokenInvalid
	}

	sess, err := s.Store.RefreshSessions().GetRefreshSession(ctx, claims.SID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domain.TokenPair{}, domain.Identity{}, ErrTokenInvalid
	case err != nil:
		l.Error("refresh: session lookup failed", slog.Any("error", err))
		return domain.TokenPair{}, domain.Identity{}, ErrUnauthorized
	}
	if sess.IdentityID != identity.ID {
		return domain.TokenPair{}, domain.Identity{}, ErrTokenInvalid
	}

	amr := dedupe(append(slices.Clone(sess.AMR), "refresh"))
	next := s.refreshClaims(identity, sess.SID, sess.AMR, now)

	err = s.Store.RefreshSessions().RotateRefreshSession(ctx, sess.SID, claims.ID, next.ID, next.ExpiresAt.Time, now)
	switch {
	case errors.Is(err, store.ErrConflict):
		l.Warn("refresh token reuse or revoked session",
			slog.String("identity_id", identity.ID),
			slog.String("sid", sess.SID),
		)
		return domain.TokenPair{}, domain.Identity{}, ErrTokenInvalid
	case err != nil:
		l.Error("refresh: rotation failed", slog.Any("error", err))
		return domain.TokenPair{}, domain.Identity{}, ErrUnauthorized
	}

	refresh, err := s.Signer.Sign(next)
	if err != nil {
		return domain.TokenPair{}, domain.Identity{}, err
	}
	access, accessExp, err := s.IssueAccess(identity, sess.SID, amr, now)
	if err != nil {
		return domain.TokenPair{}, domain.Identity{}, err
	}

	return domain.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: next.ExpiresAt.Time,
	}, identity, nil
}

// Revoke ends the session a refresh token belongs to. Invalid or already
// expired tokens are ignored so logout stays idempotent.
func (s *TokenService) Revoke(ctx context.Context, refreshToken string) error {
	claims, err := s.VerifyRefresh(refreshToken)
	if err != nil {
		return nil
	}
	return s.Store.RefreshSessions().RevokeRefreshSession(ctx, claims.SID, time.Now().UTC())
}

// RevokeIdentity ends every session of an identity.
func (s *TokenService) RevokeIdentity(ctx context.Context, identityID string) error {
	return s.Store.RefreshSessions().RevokeIdentitySessions(ctx, identityID, time.Now().UTC())
}

func dedupe(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
