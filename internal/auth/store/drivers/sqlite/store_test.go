package sqlite_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/create-newspulse/newspulse-auth/internal/auth/domain"
	"github.com/create-newspulse/newspulse-auth/internal/auth/store"
	"github.com/create-newspulse/newspulse-auth/internal/auth/store/drivers/sqlite"
	"github.com/create-newspulse/newspulse-auth/pkg/idx"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.ApplyMigrations())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedIdentity(t *testing.T, s store.Store, email string, role domain.Role) domain.Identity {
	t.Helper()
	i := domain.Identity{
		ID:           idx.New().String(),
		Email:        email,
		PasswordHash: "$argon2id$placeholder",
		Role:         role,
	}
	require.NoError(t, s.Identities().CreateIdentity(context.Background(), i))
	got, err := s.Identities().GetIdentityByID(context.Background(), i.ID)
	require.NoError(t, err)
	return got
}

func TestIdentities(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	id := seedIdentity(t, s, "Editor@NewsPulse.test", domain.RoleAdmin)
	require.Equal(t, "editor@newspulse.test", id.Email)
	require.Equal(t, domain.StatusActive, id.Status)

	got, err := s.Identities().GetIdentityByEmail(ctx, "EDITOR@newspulse.TEST")
	require.NoError(t, err)
	require.Equal(t, id.ID, got.ID)

	err = s.Identities().CreateIdentity(ctx, domain.Identity{
		ID: idx.New().String(), Email: "editor@newspulse.test", PasswordHash: "x", Role: domain.RoleEmployee,
	})
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	require.NoError(t, s.Identities().UpdateStatus(ctx, id.ID, domain.StatusSuspended))
	require.NoError(t, s.Identities().UpdateRole(ctx, id.ID, domain.RoleEmployee))
	require.NoError(t, s.Identities().UpdatePasswordHash(ctx, id.ID, "new"))
	got, err = s.Identities().GetIdentityByID(ctx, id.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusSuspended, got.Status)
	require.Equal(t, domain.RoleEmployee, got.Role)
	require.Equal(t, "new", got.PasswordHash)

	_, err = s.Identities().GetIdentityByID(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.Identities().UpdateStatus(ctx, "missing", domain.StatusActive), store.ErrNotFound)

	list, err := s.Identities().ListIdentities(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestMFA_TOTPStateMachine(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	id := seedIdentity(t, s, "founder@newspulse.test", domain.RoleFounder)
	mfa := s.MFA()

	_, err := mfa.GetMFARecord(ctx, id.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.ErrorIs(t, mfa.EnableTOTP(ctx, id.ID, 1), store.ErrConflict, "enable without setup")

	require.NoError(t, mfa.BeginTOTPSetup(ctx, id.ID, "sealed-1"))
	require.NoError(t, mfa.BeginTOTPSetup(ctx, id.ID, "sealed-2"), "setup may be restarted")
	rec, err := mfa.GetMFARecord(ctx, id.ID)
	require.NoError(t, err)
	require.Equal(t, domain.MFAStatePendingSetup, rec.State)
	require.Equal(t, "sealed-2", rec.TOTPSecretSealed)

	require.NoError(t, mfa.EnableTOTP(ctx, id.ID, 100))
	rec, err = mfa.GetMFARecord(ctx, id.ID)
	require.NoError(t, err)
	require.Equal(t, domain.MFAStateEnabled, rec.State)
	require.NotNil(t, rec.EnabledAt)
	require.EqualValues(t, 100, rec.LastTOTPStep)

	require.ErrorIs(t, mfa.BeginTOTPSetup(ctx, id.ID, "sealed-3"), store.ErrConflict)

	ok, err := mfa.AdvanceTOTPStep(ctx, id.ID, 100)
	require.NoError(t, err)
	require.False(t, ok, "same step is a replay")
	ok, err = mfa.AdvanceTOTPStep(ctx, id.ID, 101)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, mfa.DisableTOTP(ctx, id.ID))
	rec, err = mfa.GetMFARecord(ctx, id.ID)
	require.NoError(t, err)
	require.Equal(t, domain.MFAStateNone, rec.State)
	require.Empty(t, rec.TOTPSecretSealed)
	require.ErrorIs(t, mfa.DisableTOTP(ctx, id.ID), store.ErrConflict)
}

func TestMFA_EnsureWebAuthnUserID(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	id := seedIdentity(t, s, "a@newspulse.test", domain.RoleAdmin)

	h1, err := s.MFA().EnsureWebAuthnUserID(ctx, id.ID, []byte("handle-1"))
	require.NoError(t, err)
	require.Equal(t, []byte("handle-1"), h1)

	h2, err := s.MFA().EnsureWebAuthnUserID(ctx, id.ID, []byte("handle-2"))
	require.NoError(t, err)
	require.Equal(t, []byte("handle-1"), h2, "handle is stable once stored")
}

func TestRecoveryCodes(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	id := seedIdentity(t, s, "a@newspulse.test", domain.RoleAdmin)

	codes := make([]domain.RecoveryCode, domain.RecoveryCodeCount)
	for i := range codes {
		codes[i] = domain.RecoveryCode{ID: idx.New().String(), Position: i, Hash: "h"}
	}
	require.NoError(t, s.RecoveryCodes().ReplaceRecoveryCodes(ctx, id.ID, codes))

	n, err := s.RecoveryCodes().CountRecoveryCodes(ctx, id.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RecoveryCodeCount, n)

	ok, err := s.RecoveryCodes().DeleteRecoveryCode(ctx, codes[3].ID)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.RecoveryCodes().DeleteRecoveryCode(ctx, codes[3].ID)
	require.NoError(t, err)
	require.False(t, ok)

	list, err := s.RecoveryCodes().ListRecoveryCodes(ctx, id.ID)
	require.NoError(t, err)
	require.Len(t, list, domain.RecoveryCodeCount-1)
	for _, c := range list {
		require.NotEqual(t, 3, c.Position)
	}

	require.NoError(t, s.RecoveryCodes().DeleteAllRecoveryCodes(ctx, id.ID))
	n, err = s.RecoveryCodes().CountRecoveryCodes(ctx, id.ID)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestWebAuthnCredentials(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	id := seedIdentity(t, s, "a@newspulse.test", domain.RoleAdmin)

	cred := domain.WebAuthnCredential{
		ID:             []byte{1, 2, 3},
		IdentityID:     id.ID,
		Name:           "laptop",
		PublicKey:      []byte("pk"),
		SignCount:      4,
		Transports:     []string{"usb", "internal"},
		BackupEligible: true,
	}
	require.NoError(t, s.WebAuthnCredentials().CreateCredential(ctx, cred))
	require.ErrorIs(t, s.WebAuthnCredentials().CreateCredential(ctx, cred), store.ErrAlreadyExists)

	used := time.Now().UTC()
	require.NoError(t, s.WebAuthnCredentials().UpdateSignCount(ctx, cred.ID, 9, used))

	list, err := s.WebAuthnCredentials().ListCredentials(ctx, id.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.EqualValues(t, 9, list[0].SignCount)
	require.Equal(t, []string{"usb", "internal"}, list[0].Transports)
	require.True(t, list[0].BackupEligible)
	require.False(t, list[0].BackupState)
	require.NotNil(t, list[0].LastUsedAt)

	require.NoError(t, s.WebAuthnCredentials().DeleteCredential(ctx, id.ID, cred.ID))
	require.ErrorIs(t, s.WebAuthnCredentials().DeleteCredential(ctx, id.ID, cred.ID), store.ErrNotFound)
}

func TestPasswordResets(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	id := seedIdentity(t, s, "a@newspulse.test", domain.RoleAdmin)

	now := time.Now().UTC()
	r := domain.PasswordReset{
		ID:         idx.New().String(),
		IdentityID: id.ID,
		TokenHash:  "fp",
		ExpiresAt:  now.Add(30 * time.Minute),
	}
	require.NoError(t, s.PasswordResets().CreatePasswordReset(ctx, r))

	got, err := s.PasswordResets().GetPasswordReset(ctx, r.ID)
	require.NoError(t, err)
	require.False(t, got.Used())
	require.WithinDuration(t, r.ExpiresAt, got.ExpiresAt, time.Millisecond)

	ok, err := s.PasswordResets().MarkPasswordResetUsed(ctx, r.ID, now)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.PasswordResets().MarkPasswordResetUsed(ctx, r.ID, now)
	require.NoError(t, err)
	require.False(t, ok, "used is a one-way transition")

	got, err = s.PasswordResets().GetPasswordReset(ctx, r.ID)
	require.NoError(t, err)
	require.True(t, got.Used())

	n, err := s.PasswordResets().DeleteStalePasswordResets(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = s.PasswordResets().GetPasswordReset(ctx, r.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRefreshSessions_RotateOnce(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	id := seedIdentity(t, s, "a@newspulse.test", domain.RoleAdmin)

	now := time.Now().UTC()
	sess := domain.RefreshSession{
		SID:        "sid-1",
		IdentityID: id.ID,
		JTI:        "jti-0",
		AMR:        []string{"pwd", "otp"},
		ExpiresAt:  now.Add(time.Hour),
	}
	require.NoError(t, s.RefreshSessions().CreateRefreshSession(ctx, sess))

	got, err := s.RefreshSessions().GetRefreshSession(ctx, "sid-1")
	require.NoError(t, err)
	require.Equal(t, []string{"pwd", "otp"}, got.AMR)

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.RefreshSessions().RotateRefreshSession(ctx, "sid-1", "jti-0", idx.New().String(), now.Add(time.Hour), now)
			if err == nil {
				winners.Add(1)
				return
			}
			if !errors.Is(err, store.ErrConflict) {
				t.Errorf("rotation %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	require.EqualValues(t, 1, winners.Load())

	got, err = s.RefreshSessions().GetRefreshSession(ctx, "sid-1")
	require.NoError(t, err)
	require.NotEqual(t, "jti-0", got.JTI)

	require.NoError(t, s.RefreshSessions().RevokeIdentitySessions(ctx, id.ID, now))
	err = s.RefreshSessions().RotateRefreshSession(ctx, "sid-1", got.JTI, "jti-x", now.Add(time.Hour), now)
	require.ErrorIs(t, err, store.ErrConflict, "revoked session cannot rotate")
}

func TestRefreshSessions_ExpiredCannotRotate(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	id := seedIdentity(t, s, "a@newspulse.test", domain.RoleAdmin)

	now := time.Now().UTC()
	require.NoError(t, s.RefreshSessions().CreateRefreshSession(ctx, domain.RefreshSession{
		SID: "sid-2", IdentityID: id.ID, JTI: "j", ExpiresAt: now.Add(-time.Second),
	}))
	err := s.RefreshSessions().RotateRefreshSession(ctx, "sid-2", "j", "k", now.Add(time.Hour), now)
	require.ErrorIs(t, err, store.ErrConflict)

	n, err := s.RefreshSessions().DeleteExpiredRefreshSessions(ctx, now)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestLock(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	st, err := s.Lock().GetLockState(ctx)
	require.NoError(t, err)
	require.False(t, st.Locked)

	at := time.Now().UTC()
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Lock().SetLockState(ctx, domain.LockState{Locked: true, Reason: "incident", SetBy: "founder", SetAt: &at}); err != nil {
			return err
		}
		return tx.Lock().AppendLockEvent(ctx, domain.LockEvent{
			ID: idx.New().String(), Action: domain.LockActionSet, By: "founder", Reason: "incident", At: at,
		})
	}))

	st, err = s.Lock().GetLockState(ctx)
	require.NoError(t, err)
	require.True(t, st.Locked)
	require.Equal(t, "incident", st.Reason)
	require.NotNil(t, st.SetAt)

	events, err := s.Lock().ListLockEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, domain.LockActionSet, events[0].Action)
}

func TestWithTx_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx store.Tx) error {
		at := time.Now().UTC()
		if err := tx.Lock().SetLockState(ctx, domain.LockState{Locked: true, SetBy: "x", SetAt: &at}); err != nil {
			return err
		}
		_, nestedErr := tx.Tx(ctx)
		require.Error(t, nestedErr)
		return boom
	})
	require.ErrorIs(t, err, boom)

	st, err := s.Lock().GetLockState(ctx)
	require.NoError(t, err)
	require.False(t, st.Locked)
}

func TestSchemaVersion(t *testing.T) {
	s := newStore(t)
	v, dirty, err := s.SchemaVersion()
	require.NoError(t, err)
	require.False(t, dirty)
	require.EqualValues(t, 1, v)
}
