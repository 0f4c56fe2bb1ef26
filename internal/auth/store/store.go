package store

import (
	"context"
	"errors"
	"time"

	"github.com/create-newspulse/newspulse-auth/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
	// ErrConflict reports a conditional write that matched no row, e.g. a
	// refresh rotation that lost the race.
	ErrConflict = errors.New("store: conflict")
)

// Store is the root data access interface. Concrete drivers implement this.
// It exposes sub-repositories to keep concerns tidy and testable, and so a
// Tx-scoped store can never start a nested transaction by accident.
type Store interface {
	Identities() Identities
	MFA() MFA
	RecoveryCodes() RecoveryCodes
	WebAuthnCredentials() WebAuthnCredentials
	PasswordResets() PasswordResets
	RefreshSessions() RefreshSessions
	Lock() Lock

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed. Inside fn only
	// the tx store may be used.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Identities interface {
	GetIdentityByID(ctx context.Context, id string) (domain.Identity, error)

	// GetIdentityByEmail matches case-insensitively.
	GetIdentityByEmail(ctx context.Context, email string) (domain.Identity, error)

	// CreateIdentity returns ErrAlreadyExists when the email is taken.
	CreateIdentity(ctx context.Context, i domain.Identity) error

	UpdatePasswordHash(ctx context.Context, id, hash string) error
	UpdateStatus(ctx context.Context, id string, status domain.IdentityStatus) error
	UpdateRole(ctx context.Context, id string, role domain.Role) error

	ListIdentities(ctx context.Context) ([]domain.Identity, error)
}

type MFA interface {
	// GetMFARecord returns ErrNotFound when the identity never touched MFA.
	GetMFARecord(ctx context.Context, identityID string) (domain.MFARecord, error)

	// BeginTOTPSetup stores a sealed secret and moves the record to
	// pending_setup. Fails with ErrConflict when TOTP is already enabled.
	BeginTOTPSetup(ctx context.Context, identityID, sealedSecret string) error

	// EnableTOTP moves pending_setup -> enabled. ErrConflict otherwise.
	EnableTOTP(ctx context.Context, identityID string, step int64) error

	// DisableTOTP moves enabled -> none and clears the secret.
	DisableTOTP(ctx context.Context, identityID string) error

	// AdvanceTOTPStep records step as used. It returns false when step is
	// not newer than the last accepted step, which rejects code replay.
	AdvanceTOTPStep(ctx context.Context, identityID string, step int64) (bool, error)

	// EnsureWebAuthnUserID returns the identity's passkey user handle,
	// storing handle if none exists yet.
	EnsureWebAuthnUserID(ctx context.Context, identityID string, handle []byte) ([]byte, error)
}

type RecoveryCodes interface {
	// ReplaceRecoveryCodes drops the identity's codes and inserts codes.
	ReplaceRecoveryCodes(ctx context.Context, identityID string, codes []domain.RecoveryCode) error

	// ListRecoveryCodes returns the remaining codes ordered by position.
	ListRecoveryCodes(ctx context.Context, identityID string) ([]domain.RecoveryCode, error)

	// DeleteRecoveryCode removes one code. It returns false when the code was
	// already gone, so concurrent use of the same code succeeds once.
	DeleteRecoveryCode(ctx context.Context, id string) (bool, error)

	DeleteAllRecoveryCodes(ctx context.Context, identityID string) error
	CountRecoveryCodes(ctx context.Context, identityID string) (int, error)
}

type WebAuthnCredentials interface {
	CreateCredential(ctx context.Context, c domain.WebAuthnCredential) error
	ListCredentials(ctx context.Context, identityID string) ([]domain.WebAuthnCredential, error)
	UpdateSignCount(ctx context.Context, credentialID []byte, signCount uint32, usedAt time.Time) error
	DeleteCredential(ctx context.Context, identityID string, credentialID []byte) error
	CountCredentials(ctx context.Context, identityID string) (int, error)
}

type PasswordResets interface {
	CreatePasswordReset(ctx context.Context, r domain.PasswordReset) error
	GetPasswordReset(ctx context.Context, id string) (domain.PasswordReset, error)

	// MarkPasswordResetUsed sets used_at if it is not set yet. It reports
	// whether this call made the transition.
	MarkPasswordResetUsed(ctx context.Context, id string, at time.Time) (bool, error)

	// DeleteStalePasswordResets removes records that expired or were used
	// before the cutoff.
	DeleteStalePasswordResets(ctx context.Context, before time.Time) (int64, error)
}

type RefreshSessions interface {
	CreateRefreshSession(ctx context.Context, s domain.RefreshSession) error
	GetRefreshSession(ctx context.Context, sid string) (domain.RefreshSession, error)

	// RotateRefreshSession swaps the session's jti from oldJTI to newJTI.
	// Returns ErrConflict when the session is revoked, expired or no longer
	// at oldJTI; exactly one of several concurrent rotations succeeds.
	RotateRefreshSession(ctx context.Context, sid, oldJTI, newJTI string, expiresAt, now time.Time) error

	RevokeRefreshSession(ctx context.Context, sid string, at time.Time) error
	RevokeIdentitySessions(ctx context.Context, identityID string, at time.Time) error
	DeleteExpiredRefreshSessions(ctx context.Context, before time.Time) (int64, error)
}

type Lock interface {
	GetLockState(ctx context.Context) (domain.LockState, error)
	SetLockState(ctx context.Context, state domain.LockState) error
	AppendLockEvent(ctx context.Context, e domain.LockEvent) error
	ListLockEvents(ctx context.Context, limit int) ([]domain.LockEvent, error)
}

// Challenges holds short-lived ceremony state (pending MFA logins, WebAuthn
// session data). Take is an atomic read-and-delete: of several concurrent
// Takes of one key exactly one gets the value.
type Challenges interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Take(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}
