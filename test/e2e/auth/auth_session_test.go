//go:build e2e

package auth_test

import (
	"testing"
	"time"

	"github.com/create-newspulse/newspulse-auth/internal/auth/domain"
	authhttp "github.com/create-newspulse/newspulse-auth/internal/auth/http"
	"github.com/create-newspulse/newspulse-auth/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

// TestSessionLifecycle covers sign in, refresh rotation, reuse of a spent
// refresh token and logout through the cookie session.
func TestSessionLifecycle(t *testing.T) {
	flushRedis(t, redisURL)
	svc := startInstance(t, staff())
	ctx := t.Context()

	client := newClient(t, svc.URL)
	sess, err := client.Login(ctx, "owner", founderEmail, testPassword)
	require.NoError(t, err)
	require.Equal(t, "founder", sess.User.Role)
	require.Contains(t, sess.User.AMR, "pwd")

	me, err := client.Me(ctx)
	require.NoError(t, err)
	require.Equal(t, founderEmail, me.Email)

	oldRefresh := cookieValue(t, client, authhttp.RefreshCookie)
	oldAccess := cookieValue(t, client, authhttp.AccessCookie)

	_, err = client.Refresh(ctx)
	require.NoError(t, err)
	require.NotEqual(t, oldRefresh, cookieValue(t, client, authhttp.RefreshCookie), "refresh token should rotate")
	require.NotEqual(t, oldAccess, cookieValue(t, client, authhttp.AccessCookie), "access token should rotate")

	// A second browser replaying the spent refresh token is refused.
	replay := newClient(t, svc.URL)
	plantCookie(t, replay, authhttp.RefreshCookie, oldRefresh)
	_, err = replay.Refresh(ctx)
	assertAPIError(t, err, authsdk.ErrTokenInvalid, "spent refresh token must not rotate")

	require.NoError(t, client.Logout(ctx))
	_, err = client.Me(ctx)
	require.Error(t, err, "session should be gone after logout")

	// Logout is idempotent.
	require.NoError(t, client.Logout(ctx))
}

// TestLaneSeparation verifies the owner lane is reserved for founders and
// the team lane refuses them, both with the generic credential error.
func TestLaneSeparation(t *testing.T) {
	flushRedis(t, redisURL)
	svc := startInstance(t, staff())
	ctx := t.Context()

	_, err := newClient(t, svc.URL).Login(ctx, "team", founderEmail, testPassword)
	assertAPIError(t, err, authsdk.ErrInvalidCredential)

	_, err = newClient(t, svc.URL).Login(ctx, "owner", adminEmail, testPassword)
	assertAPIError(t, err, authsdk.ErrInvalidCredential)

	_, err = newClient(t, svc.URL).Login(ctx, "team", adminEmail, "wrong password")
	assertAPIError(t, err, authsdk.ErrInvalidCredential)

	_, err = newClient(t, svc.URL).Login(ctx, "team", "nobody@newspulse.in", testPassword)
	assertAPIError(t, err, authsdk.ErrInvalidCredential)

	_, err = newClient(t, svc.URL).Login(ctx, "team", adminEmail, testPassword)
	require.NoError(t, err)
}

// TestSilentRefresh lets the access token expire and expects the next
// guarded request to succeed on the refresh cookie alone.
func TestSilentRefresh(t *testing.T) {
	flushRedis(t, redisURL)
	svc := startInstance(t, staff(), withAccessTTL(time.Second))
	ctx := t.Context()

	client := signIn(t, svc.URL, adminEmail, domain.RoleAdmin)
	before := cookieValue(t, client, authhttp.RefreshCookie)

	time.Sleep(2 * time.Second)

	status, err := client.MFAStatus(ctx)
	require.NoError(t, err, "expired access token should be refreshed silently")
	require.Equal(t, "none", status.TOTP)
	require.NotEqual(t, before, cookieValue(t, client, authhttp.RefreshCookie), "silent refresh should rotate the pair")
}

// TestTamperedCookie verifies a forged access cookie without a refresh
// cookie is rejected as invalid.
func TestTamperedCookie(t *testing.T) {
	flushRedis(t, redisURL)
	svc := startInstance(t, staff())

	client := newClient(t, svc.URL)
	plantCookie(t, client, authhttp.AccessCookie, "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiJ4In0.bm9wZQ")
	_, err := client.Me(t.Context())
	assertAPIError(t, err, authsdk.ErrTokenInvalid)
}
