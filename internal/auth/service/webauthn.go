package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/create-newspulse/newspulse-auth/internal/auth/domain"
	"github.com/create-newspulse/newspulse-auth/internal/auth/metrics"
	"github.com/create-newspulse/newspulse-auth/internal/auth/store"
	"github.com/create-newspulse/newspulse-auth/pkg/slogx"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
)

// DefaultCeremonyTTL bounds how long a WebAuthn challenge stays usable.
const DefaultCeremonyTTL = 5 * time.Minute

const (
	webauthnRegPrefix  = "webauthn:reg:"
	webauthnAuthPrefix = "webauthn:auth:"
)

// WebAuthnConfig configures the relying party.
type WebAuthnConfig struct {
	RPDisplayName string
	RPID          string
	RPOrigins     []string
}

// NewWebAuthn builds the relying party used by WebAuthnService.
func NewWebAuthn(cfg WebAuthnConfig) (*webauthn.WebAuthn, error) {
	return webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
}

// WebAuthnService runs passkey ceremonies. Each ceremony's session data is
// parked in the challenge store and taken (read and deleted atomically) by
// the finish step, so a challenge can be answered once.
type WebAuthnService struct {
	WebAuthn   *webauthn.WebAuthn
	Store      store.Store
	Challenges store.Challenges
	MFA        *MFAService
	Metrics    *metrics.Metrics
	TTL        time.Duration
}

func (s *WebAuthnService) ttl() time.Duration {
	if s.TTL <= 0 {
		return DefaultCeremonyTTL
	}
	return s.TTL
}

// RegistrationResult is returned when a passkey has been stored. Recovery
// codes are only set when the identity had none.
type RegistrationResult struct {
	CredentialID  []byte   `json:"credential_id"`
	Name          string   `json:"name"`
	RecoveryCodes []string `json:"recovery_codes,omitempty"`
}

// webauthnUser adapts an identity and its passkeys to webauthn.User.
type webauthnUser struct {
	identity domain.Identity
	handle   []byte
	creds    []webauthn.Credential
}

func (u *webauthnUser) WebAuthnID() []byte                         { return u.handle }
func (u *webauthnUser) WebAuthnName() string                       { return u.identity.Email }
func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential { return u.creds }

func (u *webauthnUser) WebAuthnDisplayName() string {
	if u.identity.DisplayName != "" {
		return u.identity.DisplayName
	}
	return u.identity.Email
}

func (s *WebAuthnService) loadUser(ctx context.Context, identityID string) (*webauthnUser, error) {
	identity, err := s.Store.Identities().GetIdentityByID(ctx, identityID)
	if err != nil {
		return nil, err
	}

	fresh, err := uuid.New().MarshalBinary()
	if err != nil {
		return nil, err
	}
	handle, err := s.Store.MFA().EnsureWebAuthnUserID(ctx, identityID, fresh)
	if err != nil {
		return nil, err
	}

	stored, err := s.Store.WebAuthnCredentials().ListCredentials(ctx, identityID)
	if err != nil {
		return nil, err
	}

	creds := make([]webauthn.Credential, len(stored))
	for i, c := range stored {
		transports := make([]protocol.AuthenticatorTransport, len(c.Transports))
		for j, t := range c.Transports {
			transports[j] = protocol.AuthenticatorTransport(t)
		}
		creds[i] = webauthn.Credential{
			ID:              c.ID,
			PublicKey:       c.PublicKey,
			AttestationType: c.AttestationType,
			Transport:       transports,
			Flags: webauthn.CredentialFlags{
				BackupEligible: c.BackupEligible,
				BackupState:    c.BackupState,
			},
			Authenticator: webauthn.Authenticator{
				AAGUID:    c.AAGUID,
				SignCount: c.SignCount,
			},
		}
	}

	return &webauthnUser{identity: identity, handle: handle, creds: creds}, nil
}

// BeginRegistration returns creation options for a new passkey. Starting
// again replaces any earlier pending registration.
func (s *WebAuthnService) BeginRegistration(ctx context.Context, identityID string) (*protocol.CredentialCreation, error) {
	user, err := s.loadUser(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}

	options, session, err := s.WebAuthn.BeginRegistration(user,
		webauthn.WithExclusions(webauthn.Credentials(user.creds).CredentialDescriptors()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to begin registration: %w", err)
	}

	if err := s.park(ctx, webauthnRegPrefix+identityID, session); err != nil {
		return nil, err
	}
	return options, nil
}

// FinishRegistration verifies the authenticator's attestation against the
// pending challenge and stores the credential.
func (s *WebAuthnService) FinishRegistration(ctx context.Context, identityID, name string, body []byte) (RegistrationResult, error) {
	l := slogx.FromContext(ctx)

	session, err := s.take(ctx, webauthnRegPrefix+identityID)
	if err != nil {
		return RegistrationResult{}, err
	}

	user, err := s.loadUser(ctx, identityID)
	if err != nil {
		return RegistrationResult{}, fmt.Errorf("failed to load identity: %w", err)
	}
	if !bytes.Equal(session.UserID, user.handle) {
		l.Warn("webauthn registration challenge issued to another user", slog.String("identity_id", identityID))
		return RegistrationResult{}, ErrMFAInvalid
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(body))
	if err != nil {
		return RegistrationResult{}, ErrMFAInvalid
	}
	cred, err := s.WebAuthn.CreateCredential(user, *session, parsed)
	if err != nil {
		l.Info("webauthn registration rejected", slog.String("identity_id", identityID), slog.Any("error", err))
		return RegistrationResult{}, ErrMFAInvalid
	}

	if name == "" {
		name = "Passkey"
	}
	transports := make([]string, len(cred.Transport))
	for i, t := range cred.Transport {
		transports[i] = string(t)
	}

	err = s.Store.WebAuthnCredentials().CreateCredential(ctx, domain.WebAuthnCredential{
		ID:              cred.ID,
		IdentityID:      identityID,
		Name:            name,
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		AAGUID:          cred.Authenticator.AAGUID,
		SignCount:       cred.Authenticator.SignCount,
		Transports:      transports,
		BackupEligible:  cred.Flags.BackupEligible,
		BackupState:     cred.Flags.BackupState,
	})
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return RegistrationResult{}, ErrMFAInvalid
		}
		return RegistrationResult{}, fmt.Errorf("failed to store credential: %w", err)
	}

	res := RegistrationResult{CredentialID: cred.ID, Name: name}

	n, err := s.Store.RecoveryCodes().CountRecoveryCodes(ctx, identityID)
	if err != nil {
		return RegistrationResult{}, err
	}
	if n == 0 && s.MFA != nil {
		if res.RecoveryCodes, err = s.MFA.GenerateRecoveryCodes(ctx, identityID); err != nil {
			return RegistrationResult{}, err
		}
	}

	l.Info("webauthn credential registered", slog.String("identity_id", identityID), slog.String("name", name))
	return res, nil
}

// BeginLogin returns assertion options for the identity behind a pending
// MFA login. The ceremony is keyed by the login's MFA token.
func (s *WebAuthnService) BeginLogin(ctx context.Context, mfaToken, identityID string) (*protocol.CredentialAssertion, error) {
	user, err := s.loadUser(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	if len(user.creds) == 0 {
		return nil, ErrMFAInvalid
	}

	options, session, err := s.WebAuthn.BeginLogin(user)
	if err != nil {
		return nil, fmt.Errorf("failed to begin login: %w", err)
	}
	if err := s.park(ctx, webauthnAuthPrefix+mfaToken, session); err != nil {
		return nil, err
	}
	return options, nil
}

// FinishLogin validates an assertion against the pending challenge and
// bumps the credential's sign counter. A clone warning rejects the login.
func (s *WebAuthnService) FinishLogin(ctx context.Context, mfaToken, identityID string, body []byte) error {
	l := slogx.FromContext(ctx)

	session, err := s.take(ctx, webauthnAuthPrefix+mfaToken)
	if err != nil {
		return err
	}

	user, err := s.loadUser(ctx, identityID)
	if err != nil {
		return fmt.Errorf("failed to load identity: %w", err)
	}
	if !bytes.Equal(session.UserID, user.handle) {
		return ErrMFAInvalid
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(body))
	if err != nil {
		s.Metrics.ObserveMFA(domain.MethodWebAuthn, "invalid")
		return ErrMFAInvalid
	}
	cred, err := s.WebAuthn.ValidateLogin(user, *session, parsed)
	if err != nil {
		s.Metrics.ObserveMFA(domain.MethodWebAuthn, "invalid")
		l.Info("webauthn assertion rejected", slog.String("identity_id", identityID), slog.Any("error", err))
		return ErrMFAInvalid
	}
	if cred.Authenticator.CloneWarning {
		s.Metrics.ObserveMFA(domain.MethodWebAuthn, "clone_warning")
		l.Warn("webauthn sign counter went backwards", slog.String("identity_id", identityID))
		return ErrMFAInvalid
	}

	if err := s.Store.WebAuthnCredentials().UpdateSignCount(ctx, cred.ID, cred.Authenticator.SignCount, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to update sign count: %w", err)
	}
	s.Metrics.ObserveMFA(domain.MethodWebAuthn, "success")
	return nil
}

func (s *WebAuthnService) park(ctx context.Context, key string, session *webauthn.SessionData) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode webauthn session: %w", err)
	}
	if err := s.Challenges.Put(ctx, key, raw, s.ttl()); err != nil {
		return fmt.Errorf("failed to store webauthn challenge: %w", err)
	}
	return nil
}

// take consumes a pending ceremony. Missing, expired and already used
// challenges are indistinguishable to the caller.
func (s *WebAuthnService) take(ctx context.Context, key string) (*webauthn.SessionData, error) {
	raw, err := s.Challenges.Take(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMFAInvalid
		}
		return nil, fmt.Errorf("failed to read webauthn challenge: %w", err)
	}
	var session webauthn.SessionData
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, ErrMFAInvalid
	}
	if !session.Expires.IsZero() && time.Now().After(session.Expires) {
		return nil, ErrMFAInvalid
	}
	return &session, nil
}
