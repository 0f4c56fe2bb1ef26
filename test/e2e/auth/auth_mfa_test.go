//go:build e2e

package auth_test

import (
	"errors"
	"testing"
	"time"

	"github.com/create-newspulse/newspulse-auth/internal/auth/domain"
	"github.com/create-newspulse/newspulse-auth/pkg/authsdk"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

// enrollTOTP enables TOTP for the signed-in client and returns the secret
// and the recovery codes issued on confirmation.
func enrollTOTP(t *testing.T, client *authsdk.SDKClient) (string, []string) {
	t.Helper()
	ctx := t.Context()

	setup, err := client.SetupTOTP(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, setup.Secret)
	require.Contains(t, setup.URI, "otpauth://totp/")

	code, err := totp.GenerateCode(setup.Secret, time.Now())
	require.NoError(t, err)
	codes, err := client.ConfirmTOTP(ctx, code)
	require.NoError(t, err)
	require.Len(t, codes, 10)

	status, err := client.MFAStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, "enabled", status.TOTP)
	require.Equal(t, 10, status.RecoveryRemaining)

	return setup.Secret, codes
}

// loginChallenge signs in with a password and returns the pending MFA token.
func loginChallenge(t *testing.T, client *authsdk.SDKClient) *authsdk.MFARequiredError {
	t.Helper()
	_, err := client.Login(t.Context(), "team", adminEmail, testPassword)
	var mfaErr *authsdk.MFARequiredError
	require.True(t, errors.As(err, &mfaErr), "expected MFA challenge, got %v", err)
	require.NotEmpty(t, mfaErr.MFAToken)
	require.Contains(t, mfaErr.Methods, "totp")
	return mfaErr
}

// TestMFAEnrollmentAndAuthentication enrolls TOTP, then signs in with it.
// The challenge lives in Redis, so it is shared by every instance.
func TestMFAEnrollmentAndAuthentication(t *testing.T) {
	flushRedis(t, redisURL)
	svc := startInstance(t, staff())
	ctx := t.Context()

	admin := signIn(t, svc.URL, adminEmail, domain.RoleAdmin)
	secret, _ := enrollTOTP(t, admin)
	require.NoError(t, admin.Logout(ctx))

	client := newClient(t, svc.URL)
	challenge := loginChallenge(t, client)

	_, err := client.VerifyMFA(ctx, challenge.MFAToken, "totp", "000000")
	assertAPIError(t, err, authsdk.ErrMFAInvalid)

	// The confirmation consumed the current step; use the next one.
	code, err := totp.GenerateCode(secret, time.Now().Add(30*time.Second))
	require.NoError(t, err)
	sess, err := client.VerifyMFA(ctx, challenge.MFAToken, "totp", code)
	require.NoError(t, err)
	require.Contains(t, sess.User.AMR, "otp")

	// The challenge is spent.
	_, err = newClient(t, svc.URL).VerifyMFA(ctx, challenge.MFAToken, "totp", code)
	assertAPIError(t, err, authsdk.ErrMFAInvalid)

	// Replaying the same code on a fresh challenge is refused.
	other := newClient(t, svc.URL)
	second := loginChallenge(t, other)
	_, err = other.VerifyMFA(ctx, second.MFAToken, "totp", code)
	assertAPIError(t, err, authsdk.ErrMFAInvalid)
}

// TestRecoveryCodes signs in with a recovery code once and verifies the
// same code is refused afterwards.
func TestRecoveryCodes(t *testing.T) {
	flushRedis(t, redisURL)
	svc := startInstance(t, staff())
	ctx := t.Context()

	admin := signIn(t, svc.URL, adminEmail, domain.RoleAdmin)
	_, codes := enrollTOTP(t, admin)

	client := newClient(t, svc.URL)
	challenge := loginChallenge(t, client)
	sess, err := client.UseRecoveryCode(ctx, challenge.MFAToken, codes[0])
	require.NoError(t, err)
	require.Contains(t, sess.User.AMR, "rec")

	status, err := client.MFAStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 9, status.RecoveryRemaining)

	again := newClient(t, svc.URL)
	next := loginChallenge(t, again)
	_, err = again.UseRecoveryCode(ctx, next.MFAToken, codes[0])
	assertAPIError(t, err, authsdk.ErrMFAInvalid)
}

// TestMFAChallengeSharedAcrossInstances starts the login on one instance
// and completes it on another. Both serve the same database file.
func TestMFAChallengeSharedAcrossInstances(t *testing.T) {
	flushRedis(t, redisURL)
	a := startInstance(t, staff())
	b := startInstance(t, nil, withDatabase(a.dbFile))
	ctx := t.Context()

	admin := signIn(t, a.URL, adminEmail, domain.RoleAdmin)
	secret, _ := enrollTOTP(t, admin)

	client := newClient(t, a.URL)
	challenge := loginChallenge(t, client)

	code, err := totp.GenerateCode(secret, time.Now().Add(30*time.Second))
	require.NoError(t, err)
	bc := newClient(t, b.URL)
	_, err = bc.VerifyMFA(ctx, challenge.MFAToken, "totp", code)
	require.NoError(t, err, "challenge issued by one instance should complete on another")

	me, err := bc.Me(ctx)
	require.NoError(t, err)
	require.Equal(t, adminEmail, me.Email)
}
