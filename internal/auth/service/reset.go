package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/create-newspulse/newspulse-auth/internal/auth/domain"
	"github.com/create-newspulse/newspulse-auth/internal/auth/metrics"
	"github.com/create-newspulse/newspulse-auth/internal/auth/store"
	"github.com/create-newspulse/newspulse-auth/pkg/cryptox"
	"github.com/create-newspulse/newspulse-auth/pkg/idx"
	"github.com/create-newspulse/newspulse-auth/pkg/mailx"
	"github.com/create-newspulse/newspulse-auth/pkg/slogx"
)

const (
	DefaultResetTTL    = 30 * time.Minute
	DefaultMailTimeout = 30 * time.Second
	MinPasswordLength = 8
	MaxPasswordLength = 256
)

// PasswordResetService owns reset grants: single use, time boxed, and
// stored only as a fingerprint of the emailed token.
type PasswordResetService struct {
	Store   store.Store
	Hasher  cryptox.Hasher
	Mailer  mailx.Sender
	Limits  Limits
	Metrics *metrics.Metrics
	TTL     time.Duration
	LinkURL string // reset page; rid and token are appended as query params
	Now     func() time.Time

	// MailTimeout bounds a background delivery. Zero means DefaultMailTimeout.
	MailTimeout time.Duration

	pending sync.WaitGroup
}

// Wait blocks until every background delivery has finished.
func (s *PasswordResetService) Wait() {
	s.pending.Wait()
}

func (s *PasswordResetService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Create issues a reset grant for identityID. The plaintext token is
// returned once and never stored or logged.
func (s *PasswordResetService) Create(ctx context.Context, identityID string, ttl time.Duration) (domain.PasswordReset, string, error) {
	if ttl <= 0 {
		ttl = s.TTL
	}
	if ttl <= 0 {
		ttl = DefaultResetTTL
	}

	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.PasswordReset{}, "", err
	}

	now := s.now()
	rec := domain.PasswordReset{
		ID:         idx.New().String(),
		IdentityID: identityID,
		TokenHash:  cryptox.FingerprintToken(token),
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}
	if err := s.Store.PasswordResets().CreatePasswordReset(ctx, rec); err != nil {
		return domain.PasswordReset{}, "", fmt.Errorf("failed to store password reset: %w", err)
	}
	return rec, token, nil
}

// Verify checks a grant. The error is a *ResetTokenError whose reason is
// for logs; callers only ever surface ErrResetTokenInvalid.
func (s *PasswordResetService) Verify(ctx context.Context, rid, token string) (domain.PasswordReset, error) {
	if _, err := idx.Parse(rid); err != nil {
		return domain.PasswordReset{}, &ResetTokenError{Reason: ResetNotFound}
	}
	rec, err := s.Store.PasswordResets().GetPasswordReset(ctx, rid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Spend the same compare as a real record.
			_ = cryptox.EqualFingerprint(cryptox.FingerprintToken(""), token)
			return domain.PasswordReset{}, &ResetTokenError{Reason: ResetNotFound}
		}
		return domain.PasswordReset{}, err
	}

	match := cryptox.EqualFingerprint(rec.TokenHash, token)
	switch {
	case rec.Used():
		return domain.PasswordReset{}, &ResetTokenError{Reason: ResetUsed}
	case rec.Expired(s.now()):
		return domain.PasswordReset{}, &ResetTokenError{Reason: ResetExpired}
	case !match:
		return domain.PasswordReset{}, &ResetTokenError{Reason: ResetMismatch}
	}
	return rec, nil
}

// MarkUsed is the only transition into the used state. Marking a used
// grant again is a no-op.
func (s *PasswordResetService) MarkUsed(ctx context.Context, rid string) error {
	_, err := s.Store.PasswordResets().MarkPasswordResetUsed(ctx, rid, s.now())
	return err
}

// RequestReset emails a reset link. Unknown or suspended accounts get the
// same silent success so the endpoint cannot be used to enumerate emails.
// The grant is issued and mailed in the background, so a known address
// answers as fast as an unknown one.
func (s *PasswordResetService) RequestReset(ctx context.Context, email, ip string) error {
	l := slogx.FromContext(ctx)
	email = domain.NormalizeEmail(email)

	if err := checkLimit(ctx, s.Limits.ResetIP, s.Metrics, ScopeResetIP, ip); err != nil {
		return err
	}
	if err := checkLimit(ctx, s.Limits.Forgot, s.Metrics, ScopeForgot, email); err != nil {
		return err
	}

	identity, err := s.Store.Identities().GetIdentityByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.Metrics.ObserveReset("request", "unknown")
			l.Info("password reset requested for unknown email")
			return nil
		}
		return err
	}
	if !identity.Active() {
		s.Metrics.ObserveReset("request", "inactive")
		return nil
	}

	timeout := s.MailTimeout
	if timeout <= 0 {
		timeout = DefaultMailTimeout
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		s.deliver(mctx, identity)
	}()
	return nil
}

func (s *PasswordResetService) deliver(ctx context.Context, identity domain.Identity) {
	l := slogx.FromContext(ctx)

	rec, token, err := s.Create(ctx, identity.ID, 0)
	if err != nil {
		s.Metrics.ObserveReset("request", "error")
		l.Error("failed to create password reset", slog.String("identity_id", identity.ID), slog.Any("error", err))
		return
	}
	link, err := s.link(rec.ID, token)
	if err != nil {
		s.Metrics.ObserveReset("request", "error")
		l.Error("failed to build password reset link", slog.Any("error", err))
		return
	}
	msg := mailx.Message{
		To:      identity.Email,
		Subject: "Reset your NewsPulse admin password",
		TextBody: "A password reset was requested for your account.\n\n" +
			"Open this link within " + rec.ExpiresAt.Sub(rec.CreatedAt).String() + " to choose a new password:\n" +
			link + "\n\nIf you did not ask for this, ignore this email.",
	}
	if err := s.Mailer.Send(ctx, msg); err != nil {
		s.Metrics.ObserveReset("request", "mail_failed")
		l.Error("failed to send password reset email", slog.String("identity_id", identity.ID), slog.Any("error", err))
		return
	}

	s.Metrics.ObserveReset("request", "sent")
	l.Info("password reset issued", slog.String("identity_id", identity.ID), slog.String("rid", rec.ID))
}

func (s *PasswordResetService) link(rid, token string) (string, error) {
	u, err := url.Parse(s.LinkURL)
	if err != nil {
		return "", fmt.Errorf("reset link url: %w", err)
	}
	q := u.Query()
	q.Set("rid", rid)
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ResetPassword consumes a grant and sets a new password. The grant is
// marked used, the hash replaced and every session revoked in one
// transaction; a concurrent reset with the same grant loses.
func (s *PasswordResetService) ResetPassword(ctx context.Context, rid, token, newPassword, ip string) error {
	l := slogx.FromContext(ctx)

	if err := checkLimit(ctx, s.Limits.ResetIP, s.Metrics, ScopeResetIP, ip); err != nil {
		return err
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	rec, err := s.Verify(ctx, rid, token)
	if err != nil {
		var rerr *ResetTokenError
		if errors.As(err, &rerr) {
			s.Metrics.ObserveReset("consume", string(rerr.Reason))
			l.Info("password reset refused", slog.String("rid", rid), slog.String("reason", string(rerr.Reason)))
		}
		return err
	}

	hash, err := s.Hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		ok, err := tx.PasswordResets().MarkPasswordResetUsed(ctx, rec.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return &ResetTokenError{Reason: ResetUsed}
		}
		if err := tx.Identities().UpdatePasswordHash(ctx, rec.IdentityID, hash); err != nil {
			return err
		}
		return tx.RefreshSessions().RevokeIdentitySessions(ctx, rec.IdentityID, now)
	})
	if err != nil {
		return err
	}

	s.Metrics.ObserveReset("consume", "success")
	l.Info("password reset completed", slog.String("identity_id", rec.IdentityID))
	return nil
}

// ValidatePassword enforces the length bounds on a new password.
func ValidatePassword(p string) error {
	if len(p) < MinPasswordLength || len(p) > MaxPasswordLength {
		return fmt.Errorf("%w: password must be %d to %d characters", ErrInvalidRequest, MinPasswordLength, MaxPasswordLength)
	}
	return nil
}
