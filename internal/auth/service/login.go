package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/create-newspulse/newspulse-auth/internal/auth/domain"
	"github.com/create-newspulse/newspulse-auth/internal/auth/metrics"
	"github.com/create-newspulse/newspulse-auth/internal/auth/store"
	"github.com/create-newspulse/newspulse-auth/pkg/cryptox"
	"github.com/create-newspulse/newspulse-auth/pkg/slogx"
	"github.com/go-webauthn/webauthn/protocol"
)

const (
	// MaxMFAAttempts caps second-factor attempts per pending login.
	MaxMFAAttempts = 5

	DefaultChallengeTTL = 5 * time.Minute

	loginChallengePrefix = "mfa:login:"
)

// LoginRequest is a password login through one of the two lanes.
type LoginRequest struct {
	Lane     domain.Lane
	Email    string
	Password string
	IP       string
}

// LoginResult is a completed login.
type LoginResult struct {
	Identity domain.Identity
	Tokens   domain.TokenPair
}

// rehasher is implemented by hashers that can tell when a digest was made
// with outdated parameters.
type rehasher interface {
	NeedsRehash(digest string) bool
}

// LoginService verifies passwords and, when the identity has a second
// factor, parks the login until that factor is presented.
type LoginService struct {
	Store        store.Store
	Hasher       cryptox.Hasher
	Tokens       *TokenService
	MFA          *MFAService
	WebAuthn     *WebAuthnService
	Challenges   store.Challenges
	Limits       Limits
	Metrics      *metrics.Metrics
	ChallengeTTL time.Duration
}

func (s *LoginService) challengeTTL() time.Duration {
	if s.ChallengeTTL <= 0 {
		return DefaultChallengeTTL
	}
	return s.ChallengeTTL
}

// Login checks the password. Without MFA it returns a token pair; with MFA
// it returns a *MFARequiredError carrying the pending login's token.
//
// Unknown emails, wrong passwords, suspended accounts and a lane the role
// may not use are all ErrInvalidCredential, and all cost one hash verify.
func (s *LoginService) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	l := slogx.FromContext(ctx)
	email := domain.NormalizeEmail(req.Email)

	if err := checkLimit(ctx, s.Limits.LoginIP, s.Metrics, ScopeLoginIP, req.IP); err != nil {
		s.Metrics.ObserveLogin("rate_limited")
		return LoginResult{}, err
	}
	if err := checkLimit(ctx, s.Limits.LoginEmail, s.Metrics, ScopeLoginEmail, email); err != nil {
		s.Metrics.ObserveLogin("rate_limited")
		return LoginResult{}, err
	}

	identity, err := s.Store.Identities().GetIdentityByEmail(ctx, email)
	known := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		l.Error("login: identity lookup failed", slog.Any("error", err))
		return LoginResult{}, ErrUnauthorized
	}

	digest := identity.PasswordHash
	if !known || digest == "" {
		digest = cryptox.DummyDigest()
	}
	ok := s.Hasher.Verify(digest, req.Password)

	switch {
	case !known || !ok:
		s.Metrics.ObserveLogin("invalid")
		l.Info("login failed", slog.String("lane", string(req.Lane)), slog.String("reason", "bad_credentials"))
		return LoginResult{}, ErrInvalidCredential
	case !identity.Active():
		s.Metrics.ObserveLogin("invalid")
		l.Info("login failed", slog.String("identity_id", identity.ID), slog.String("reason", "inactive"))
		return LoginResult{}, ErrInvalidCredential
	case !req.Lane.Permits(identity.Role):
		s.Metrics.ObserveLogin("invalid")
		l.Info("login failed", slog.String("identity_id", identity.ID), slog.String("reason", "lane"))
		return LoginResult{}, ErrInvalidCredential
	}

	s.maybeRehash(ctx, identity, req.Password)

	status, err := s.MFA.Status(ctx, identity.ID)
	if err != nil {
		l.Error("login: mfa status failed", slog.Any("error", err))
		return LoginResult{}, ErrUnauthorized
	}
	if status.Enabled() {
		token, err := s.parkLogin(ctx, identity.ID, status.Methods())
		if err != nil {
			return LoginResult{}, err
		}
		s.Metrics.ObserveLogin("mfa_required")
		l.Info("login awaiting second factor", slog.String("identity_id", identity.ID))
		return LoginResult{}, &MFARequiredError{Token: token, Methods: status.Methods()}
	}

	pair, err := s.Tokens.IssuePair(ctx, identity, []string{AMRPassword})
	if err != nil {
		return LoginResult{}, fmt.Errorf("failed to issue tokens: %w", err)
	}
	s.Metrics.ObserveLogin("success")
	l.Info("login succeeded", slog.String("identity_id", identity.ID), slog.String("event", "login"))
	return LoginResult{Identity: identity, Tokens: pair}, nil
}

func (s *LoginService) maybeRehash(ctx context.Context, identity domain.Identity, password string) {
	rh, ok := s.Hasher.(rehasher)
	if !ok || !rh.NeedsRehash(identity.PasswordHash) {
		return
	}
	hash, err := s.Hasher.Hash(password)
	if err == nil {
		err = s.Store.Identities().UpdatePasswordHash(ctx, identity.ID, hash)
	}
	if err != nil {
		slogx.FromContext(ctx).Warn("password rehash failed", slog.String("identity_id", identity.ID), slog.Any("error", err))
	}
}

func (s *LoginService) parkLogin(ctx context.Context, identityID string, methods []string) (string, error) {
	token, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return "", err
	}
	ttl := s.challengeTTL()
	raw, err := json.Marshal(domain.LoginChallenge{
		IdentityID: identityID,
		Methods:    methods,
		AMR:        []string{AMRPassword},
		ExpiresAt:  time.Now().Add(ttl).Unix(),
	})
	if err != nil {
		return "", err
	}
	if err := s.Challenges.Put(ctx, loginChallengePrefix+token, raw, ttl); err != nil {
		return "", fmt.Errorf("failed to store login challenge: %w", err)
	}
	return token, nil
}

// pending reads a parked login without consuming it, so a wrong code leaves
// the login open for another attempt. Each read counts against the token's
// attempt budget.
func (s *LoginService) pending(ctx context.Context, token, method string) (domain.LoginChallenge, error) {
	if token == "" {
		return domain.LoginChallenge{}, ErrMFAInvalid
	}
	if err := checkLimit(ctx, s.Limits.MFAToken, s.Metrics, ScopeMFAToken, token); err != nil {
		return domain.LoginChallenge{}, err
	}

	raw, err := s.Challenges.Get(ctx, loginChallengePrefix+token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.LoginChallenge{}, ErrMFAInvalid
		}
		return domain.LoginChallenge{}, fmt.Errorf("failed to read login challenge: %w", err)
	}
	var ch domain.LoginChallenge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return domain.LoginChallenge{}, ErrMFAInvalid
	}
	if time.Now().Unix() >= ch.ExpiresAt || !slices.Contains(ch.Methods, method) {
		return domain.LoginChallenge{}, ErrMFAInvalid
	}
	return ch, nil
}

// finish consumes the parked login and issues the session. Of two
// concurrent completions only the one that takes the challenge wins.
func (s *LoginService) finish(ctx context.Context, token string, ch domain.LoginChallenge, amr ...string) (LoginResult, error) {
	if err := s.take(ctx, token); err != nil {
		return LoginResult{}, err
	}
	return s.issue(ctx, ch, amr...)
}

func (s *LoginService) take(ctx context.Context, token string) error {
	if _, err := s.Challenges.Take(ctx, loginChallengePrefix+token); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrMFAInvalid
		}
		return fmt.Errorf("failed to take login challenge: %w", err)
	}
	return nil
}

// restore parks a taken login again for the rest of its lifetime.
func (s *LoginService) restore(ctx context.Context, token string, ch domain.LoginChallenge) {
	ttl := time.Until(time.Unix(ch.ExpiresAt, 0))
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(ch)
	if err == nil {
		err = s.Challenges.Put(ctx, loginChallengePrefix+token, raw, ttl)
	}
	if err != nil {
		slogx.FromContext(ctx).Warn("failed to restore login challenge", slog.String("identity_id", ch.IdentityID), slog.Any("error", err))
	}
}

func (s *LoginService) issue(ctx context.Context, ch domain.LoginChallenge, amr ...string) (LoginResult, error) {
	l := slogx.FromContext(ctx)

	identity, err := s.Store.Identities().GetIdentityByID(ctx, ch.IdentityID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return LoginResult{}, ErrInvalidCredential
		}
		return LoginResult{}, ErrUnauthorized
	}
	if !identity.Active() {
		return LoginResult{}, ErrInvalidCredential
	}

	pair, err := s.Tokens.IssuePair(ctx, identity, append(slices.Clone(ch.AMR), append(amr, AMRMFA)...))
	if err != nil {
		return LoginResult{}, fmt.Errorf("failed to issue tokens: %w", err)
	}
	s.Metrics.ObserveLogin("success")
	l.Info("login succeeded", slog.String("identity_id", identity.ID), slog.String("event", "login"), slog.Any("amr", amr))
	return LoginResult{Identity: identity, Tokens: pair}, nil
}

// CompleteMFA finishes a pending login with a TOTP or recovery code.
func (s *LoginService) CompleteMFA(ctx context.Context, token, method, code string) (LoginResult, error) {
	if method != domain.MethodTOTP && method != domain.MethodRecovery {
		return LoginResult{}, ErrMFAInvalid
	}
	ch, err := s.pending(ctx, token, method)
	if err != nil {
		return LoginResult{}, err
	}

	switch method {
	case domain.MethodTOTP:
		if err := s.MFA.VerifyTOTP(ctx, ch.IdentityID, code); err != nil {
			return LoginResult{}, err
		}
		return s.finish(ctx, token, ch, AMROTP)
	default:
		// Recovery codes are spent on use, so only the request holding the
		// challenge may spend one.
		if err := s.take(ctx, token); err != nil {
			return LoginResult{}, err
		}
		if _, err := s.MFA.ConsumeRecoveryCode(ctx, ch.IdentityID, code); err != nil {
			s.restore(ctx, token, ch)
			return LoginResult{}, err
		}
		return s.issue(ctx, ch, AMRRecovery)
	}
}

// BeginWebAuthn starts a passkey assertion for a pending login.
func (s *LoginService) BeginWebAuthn(ctx context.Context, token string) (*protocol.CredentialAssertion, error) {
	ch, err := s.pending(ctx, token, domain.MethodWebAuthn)
	if err != nil {
		return nil, err
	}
	return s.WebAuthn.BeginLogin(ctx, token, ch.IdentityID)
}

// FinishWebAuthn verifies the passkey assertion and completes the login.
func (s *LoginService) FinishWebAuthn(ctx context.Context, token string, body []byte) (LoginResult, error) {
	ch, err := s.pending(ctx, token, domain.MethodWebAuthn)
	if err != nil {
		return LoginResult{}, err
	}
	if err := s.WebAuthn.FinishLogin(ctx, token, ch.IdentityID, body); err != nil {
		return LoginResult{}, err
	}
	return s.finish(ctx, token, ch, AMRHardware)
}
