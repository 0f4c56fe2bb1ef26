package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/create-newspulse/newspulse-auth/internal/auth/domain"
	"github.com/create-newspulse/newspulse-auth/internal/auth/metrics"
	"github.com/create-newspulse/newspulse-auth/internal/auth/store"
	"github.com/create-newspulse/newspulse-auth/pkg/cryptox"
	"github.com/create-newspulse/newspulse-auth/pkg/idx"
	"github.com/create-newspulse/newspulse-auth/pkg/slogx"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod = 30
	totpDigits = otp.DigitsSix
	totpSkew   = 1

	// MinRecoveryCodeLength rejects obviously truncated input early.
	MinRecoveryCodeLength = 4
)

// MFAService runs the TOTP state machine and recovery codes:
//
//	none -> pending_setup -> enabled -> none
//
// Every verification failure is ErrMFAInvalid.
type MFAService struct {
	Store   store.Store
	Hasher  cryptox.Hasher
	Metrics *metrics.Metrics
	Issuer  string // shown by authenticator apps, e.g. "NewsPulse Admin"
	Now     func() time.Time
}

// MFAStatus summarises an identity's second factors.
type MFAStatus struct {
	TOTP              domain.MFAState `json:"totp"`
	Passkeys          int             `json:"passkeys"`
	RecoveryRemaining int             `json:"recovery_codes_remaining"`
}

// Enabled reports whether login must ask for a second factor.
func (st MFAStatus) Enabled() bool {
	return st.TOTP == domain.MFAStateEnabled || st.Passkeys > 0
}

// Methods lists the second factors a pending login may use.
func (st MFAStatus) Methods() []string {
	var out []string
	if st.TOTP == domain.MFAStateEnabled {
		out = append(out, domain.MethodTOTP)
	}
	if st.Passkeys > 0 {
		out = append(out, domain.MethodWebAuthn)
	}
	if st.RecoveryRemaining > 0 {
		out = append(out, domain.MethodRecovery)
	}
	return out
}

func (s *MFAService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Status reads the MFA record and counts passkeys and recovery codes.
func (s *MFAService) Status(ctx context.Context, identityID string) (MFAStatus, error) {
	st := MFAStatus{TOTP: domain.MFAStateNone}

	rec, err := s.Store.MFA().GetMFARecord(ctx, identityID)
	switch {
	case err == nil:
		st.TOTP = rec.State
	case !errors.Is(err, store.ErrNotFound):
		return MFAStatus{}, err
	}

	if st.Passkeys, err = s.Store.WebAuthnCredentials().CountCredentials(ctx, identityID); err != nil {
		return MFAStatus{}, err
	}
	if st.RecoveryRemaining, err = s.Store.RecoveryCodes().CountRecoveryCodes(ctx, identityID); err != nil {
		return MFAStatus{}, err
	}
	return st, nil
}

// SetupTOTP issues a fresh secret and moves the identity to pending_setup.
// It may be repeated until the secret is confirmed.
func (s *MFAService) SetupTOTP(ctx context.Context, identityID string) (domain.TOTPSetup, error) {
	identity, err := s.Store.Identities().GetIdentityByID(ctx, identityID)
	if err != nil {
		return domain.TOTPSetup{}, fmt.Errorf("failed to get identity: %w", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.Issuer,
		AccountName: identity.Email,
		Period:      totpPeriod,
		Digits:      totpDigits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return domain.TOTPSetup{}, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	sealed, err := cryptox.Seal([]byte(key.Secret()))
	if err != nil {
		return domain.TOTPSetup{}, fmt.Errorf("failed to seal TOTP secret: %w", err)
	}

	if err := s.Store.MFA().BeginTOTPSetup(ctx, identityID, sealed); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.TOTPSetup{}, ErrMFAInvalid
		}
		return domain.TOTPSetup{}, fmt.Errorf("failed to store TOTP secret: %w", err)
	}

	slogx.FromContext(ctx).Info("totp setup started", slog.String("identity_id", identityID))

	return domain.TOTPSetup{
		Secret: key.Secret(),
		URI:    key.URL(),
		Label:  s.Issuer + ":" + identity.Email,
	}, nil
}

// ConfirmTOTP enables TOTP once the user proves they hold the secret and
// returns a fresh set of recovery codes, replacing any previous set.
func (s *MFAService) ConfirmTOTP(ctx context.Context, identityID, code string) ([]string, error) {
	rec, err := s.Store.MFA().GetMFARecord(ctx, identityID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMFAInvalid
		}
		return nil, err
	}
	if rec.State != domain.MFAStatePendingSetup {
		return nil, ErrMFAInvalid
	}

	step, ok := s.matchTOTP(rec, code)
	if !ok {
		s.Metrics.ObserveMFA(domain.MethodTOTP, "invalid")
		return nil, ErrMFAInvalid
	}

	plain, hashed, err := s.newRecoveryCodes(identityID)
	if err != nil {
		return nil, err
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.MFA().EnableTOTP(ctx, identityID, step); err != nil {
			return err
		}
		return tx.RecoveryCodes().ReplaceRecoveryCodes(ctx, identityID, hashed)
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrMFAInvalid
		}
		return nil, err
	}

	slogx.FromContext(ctx).Info("totp enabled", slog.String("identity_id", identityID))
	return plain, nil
}

// DisableTOTP turns TOTP off after a valid TOTP or recovery code. The
// secret and all recovery codes are removed.
func (s *MFAService) DisableTOTP(ctx context.Context, identityID, code string) error {
	if err := s.verifyFactor(ctx, identityID, code); err != nil {
		return err
	}

	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.MFA().DisableTOTP(ctx, identityID); err != nil {
			return err
		}
		n, err := tx.WebAuthnCredentials().CountCredentials(ctx, identityID)
		if err != nil {
			return err
		}
		if n > 0 {
			// passkeys still rely on the recovery codes
			return nil
		}
		return tx.RecoveryCodes().DeleteAllRecoveryCodes(ctx, identityID)
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return ErrMFAInvalid
		}
		return err
	}

	slogx.FromContext(ctx).Info("totp disabled", slog.String("identity_id", identityID))
	return nil
}

// RegenerateRecoveryCodes replaces the recovery set after a valid TOTP code.
func (s *MFAService) RegenerateRecoveryCodes(ctx context.Context, identityID, totpCode string) ([]string, error) {
	if err := s.VerifyTOTP(ctx, identityID, totpCode); err != nil {
		return nil, err
	}
	return s.GenerateRecoveryCodes(ctx, identityID)
}

// GenerateRecoveryCodes stores a new set of RecoveryCodeCount codes and
// returns them in plaintext, once.
func (s *MFAService) GenerateRecoveryCodes(ctx context.Context, identityID string) ([]string, error) {
	plain, hashed, err := s.newRecoveryCodes(identityID)
	if err != nil {
		return nil, err
	}
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		return tx.RecoveryCodes().ReplaceRecoveryCodes(ctx, identityID, hashed)
	})
	if err != nil {
		return nil, err
	}
	slogx.FromContext(ctx).Info("recovery codes issued", slog.String("identity_id", identityID))
	return plain, nil
}

func (s *MFAService) newRecoveryCodes(identityID string) ([]string, []domain.RecoveryCode, error) {
	plain := make([]string, domain.RecoveryCodeCount)
	hashed := make([]domain.RecoveryCode, domain.RecoveryCodeCount)
	for i := range plain {
		code, err := cryptox.GenerateRecoveryCode()
		if err != nil {
			return nil, nil, err
		}
		h, err := s.Hasher.Hash(cryptox.NormalizeRecoveryCode(code))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to hash recovery code: %w", err)
		}
		plain[i] = code
		hashed[i] = domain.RecoveryCode{
			ID:         idx.New().String(),
			IdentityID: identityID,
			Position:   i,
			Hash:       h,
		}
	}
	return plain, hashed, nil
}

// VerifyTOTP accepts a 6 digit code for an identity with TOTP enabled.
// A code's time step is accepted once; replaying it fails.
func (s *MFAService) VerifyTOTP(ctx context.Context, identityID, code string) error {
	rec, err := s.Store.MFA().GetMFARecord(ctx, identityID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrMFAInvalid
		}
		return err
	}
	if rec.State != domain.MFAStateEnabled {
		return ErrMFAInvalid
	}

	step, ok := s.matchTOTP(rec, code)
	if !ok {
		s.Metrics.ObserveMFA(domain.MethodTOTP, "invalid")
		return ErrMFAInvalid
	}

	fresh, err := s.Store.MFA().AdvanceTOTPStep(ctx, identityID, step)
	if err != nil {
		return err
	}
	if !fresh {
		s.Metrics.ObserveMFA(domain.MethodTOTP, "replay")
		slogx.FromContext(ctx).Warn("totp code replayed", slog.String("identity_id", identityID))
		return ErrMFAInvalid
	}

	s.Metrics.ObserveMFA(domain.MethodTOTP, "success")
	return nil
}

// matchTOTP returns the time step the code belongs to. Every step inside
// the skew window is checked so timing does not reveal which one matched.
func (s *MFAService) matchTOTP(rec domain.MFARecord, code string) (int64, bool) {
	if !isTOTPCode(code) || rec.TOTPSecretSealed == "" {
		return 0, false
	}
	secret, err := cryptox.Open(rec.TOTPSecretSealed)
	if err != nil {
		return 0, false
	}

	now := s.now()
	opts := totp.ValidateOpts{Period: totpPeriod, Skew: 0, Digits: totpDigits, Algorithm: otp.AlgorithmSHA1}

	var (
		matched int64
		found   bool
	)
	for off := -totpSkew; off <= totpSkew; off++ {
		t := now.Add(time.Duration(off*totpPeriod) * time.Second)
		ok, err := totp.ValidateCustom(code, string(secret), t, opts)
		if err == nil && ok && !found {
			matched = t.Unix() / totpPeriod
			found = true
		}
	}
	return matched, found
}

func isTOTPCode(code string) bool {
	if len(code) != totpDigits.Length() {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// ConsumeRecoveryCode matches code against every stored hash and removes
// the matching one. It returns the code's position in the issued set. Of
// two concurrent uses of one code only one succeeds.
func (s *MFAService) ConsumeRecoveryCode(ctx context.Context, identityID, code string) (int, error) {
	normalized := cryptox.NormalizeRecoveryCode(code)
	if len(normalized) < MinRecoveryCodeLength {
		return -1, ErrMFAInvalid
	}

	codes, err := s.Store.RecoveryCodes().ListRecoveryCodes(ctx, identityID)
	if err != nil {
		return -1, err
	}

	// No early exit: every candidate costs one hash verification.
	var match *domain.RecoveryCode
	for i := range codes {
		if s.Hasher.Verify(codes[i].Hash, normalized) && match == nil {
			match = &codes[i]
		}
	}
	if match == nil {
		s.Metrics.ObserveMFA(domain.MethodRecovery, "invalid")
		return -1, ErrMFAInvalid
	}

	deleted, err := s.Store.RecoveryCodes().DeleteRecoveryCode(ctx, match.ID)
	if err != nil {
		return -1, err
	}
	if !deleted {
		s.Metrics.ObserveMFA(domain.MethodRecovery, "replay")
		return -1, ErrMFAInvalid
	}

	s.Metrics.ObserveMFA(domain.MethodRecovery, "success")
	slogx.FromContext(ctx).Info("recovery code consumed",
		slog.String("identity_id", identityID),
		slog.Int("index", match.Position),
		slog.Int("remaining", len(codes)-1),
	)
	return match.Position, nil
}

// verifyFactor accepts either a TOTP code or a recovery code.
func (s *MFAService) verifyFactor(ctx context.Context, identityID, code string) error {
	if isTOTPCode(code) {
		return s.VerifyTOTP(ctx, identityID, code)
	}
	_, err := s.ConsumeRecoveryCode(ctx, identityID, code)
	return err
}
