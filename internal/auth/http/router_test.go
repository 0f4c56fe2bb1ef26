package http_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	authhttp "github.com/create-newspulse/newspulse-auth/internal/auth/http"
	"github.com/create-newspulse/newspulse-auth/internal/auth/domain"
	"github.com/create-newspulse/newspulse-auth/pkg/authsdk"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

func TestLogin_SessionCookies(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	srv.seedIdentity(t, "editor@newspulse.test", domain.RoleEmployee)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login",
		strings.NewReader(`{"lane":"team","email":"Editor@NewsPulse.test","password":"`+testPassword+`"}`))
	srv.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.NotContains(t, rr.Body.String(), "eyJ", "tokens must not appear in the body")

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 2)
	for _, ck := range cookies {
		require.Contains(t, []string{authhttp.AccessCookie, authhttp.RefreshCookie}, ck.Name)
		require.True(t, ck.HttpOnly)
		require.Equal(t, http.SameSiteStrictMode, ck.SameSite)
		require.Equal(t, "/", ck.Path)
		require.NotEmpty(t, ck.Value)
		require.Positive(t, ck.MaxAge)
	}
}

func TestLogin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := newTestServer(t)
	srv.seedIdentity(t, "owner@newspulse.test", domain.RoleFounder)
	srv.seedIdentity(t, "admin@newspulse.test", domain.RoleAdmin)

	t.Run("owner lane", func(t *testing.T) {
		c := srv.client(t)
		sess, err := c.Login(ctx, authsdk.LaneOwner, "owner@newspulse.test", testPassword)
		require.NoError(t, err)
		require.Equal(t, "founder", sess.User.Role)
		require.True(t, sess.RefreshExpiresAt.After(sess.AccessExpiresAt))

		me, err := c.Me(ctx)
		require.NoError(t, err)
		require.Equal(t, "owner@newspulse.test", me.Email)
		require.Equal(t, []string{"pwd"}, me.AMR)
	})

	t.Run("admin on the owner lane", func(t *testing.T) {
		_, err := srv.client(t).Login(ctx, authsdk.LaneOwner, "admin@newspulse.test", testPassword)
		require.ErrorIs(t, err, authsdk.ErrInvalidCredential)
	})

	t.Run("wrong password and unknown email look the same", func(t *testing.T) {
		_, err1 := srv.client(t).Login(ctx, authsdk.LaneTeam, "admin@newspulse.test", "wrong password")
		_, err2 := srv.client(t).Login(ctx, authsdk.LaneTeam, "nobody@newspulse.test", "wrong password")
		require.ErrorIs(t, err1, authsdk.ErrInvalidCredential)
		require.Equal(t, err1.Error(), err2.Error())
	})

	t.Run("unknown lane", func(t *testing.T) {
		_, err := srv.client(t).Login(ctx, "staff", "admin@newspulse.test", testPassword)
		require.ErrorIs(t, err, authsdk.ErrInvalidRequest)
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		rr := httptest.NewRecorder()
		srv.router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/auth/login",
			strings.NewReader(`{"lane":"team","email":"a@b.c","password":"x","admin":true}`)))
		require.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestLogin_RateLimited(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := newTestServer(t, withLimit(2))
	c := srv.client(t)

	for range 2 {
		_, err := c.Login(ctx, authsdk.LaneTeam, "x@newspulse.test", "nope")
		require.ErrorIs(t, err, authsdk.ErrInvalidCredential)
	}
	_, err := c.Login(ctx, authsdk.LaneTeam, "x@newspulse.test", "nope")
	require.ErrorIs(t, err, authsdk.ErrRateLimited)

	var apiErr *authsdk.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	require.Greater(t, apiErr.RetryAfter, time.Duration(0))
}

func TestLogin_TOTP(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := newTestServer(t)
	id := srv.seedIdentity(t, "mfa@newspulse.test", domain.RoleAdmin)

	base := time.Now()
	secret := srv.enableTOTP(t, id.ID, base)
	next := base.Add(30 * time.Second)
	srv.mfa.Now = func() time.Time { return next }

	c := srv.client(t)
	_, err := c.Login(ctx, authsdk.LaneTeam, "mfa@newspulse.test", testPassword)
	var mfaErr *authsdk.MFARequiredError
	require.True(t, errors.As(err, &mfaErr))
	require.NotEmpty(t, mfaErr.MFAToken)
	require.ElementsMatch(t, []string{"totp", "recovery"}, mfaErr.Methods)

	_, ok := c.Cookie("/", authhttp.AccessCookie)
	require.False(t, ok, "no session before the second factor")

	_, err = c.VerifyMFA(ctx, mfaErr.MFAToken, "totp", "000000")
	require.ErrorIs(t, err, authsdk.ErrMFAInvalid)
	_, ok = c.Cookie("/", authhttp.AccessCookie)
	require.False(t, ok, "a wrong code sets no cookies")

	code, err := totp.GenerateCode(secret, next)
	require.NoError(t, err)
	sess, err := c.VerifyMFA(ctx, mfaErr.MFAToken, "totp", code)
	require.NoError(t, err)
	require.Equal(t, id.ID, sess.User.ID)

	me, err := c.Me(ctx)
	require.NoError(t, err)
	require.Contains(t, me.AMR, "otp")
	require.Contains(t, me.AMR, "mfa")

	// the pending login was consumed
	_, err = srv.client(t).VerifyMFA(ctx, mfaErr.MFAToken, "totp", code)
	require.ErrorIs(t, err, authsdk.ErrMFAInvalid)
}

func TestRefreshAndLogout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := newTestServer(t)
	c, _ := srv.signIn(t, "r@newspulse.test", domain.RoleEmployee)

	before, ok := c.Cookie("/", authhttp.RefreshCookie)
	require.True(t, ok)

	_, err := c.Refresh(ctx)
	require.NoError(t, err)
	after, ok := c.Cookie("/", authhttp.RefreshCookie)
	require.True(t, ok)
	require.NotEqual(t, before.Value, after.Value)

	// the rotated-away token is dead
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: authhttp.RefreshCookie, Value: before.Value})
	srv.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	require.NoError(t, c.Logout(ctx))
	_, ok = c.Cookie("/", authhttp.AccessCookie)
	require.False(t, ok)

	_, err = c.Me(ctx)
	require.ErrorIs(t, err, authsdk.ErrTokenInvalid)

	// logout without a session still succeeds
	require.NoError(t, c.Logout(ctx))

	// and the revoked refresh token can not be used again
	req = httptest.NewRequest(http.MethodPost, "/v1/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: authhttp.RefreshCookie, Value: after.Value})
	rr = httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestLogout_ClearsCookies(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/auth/logout", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 2)
	for _, ck := range cookies {
		require.Empty(t, ck.Value)
		require.Negative(t, ck.MaxAge)
	}
}

func TestGuard_SilentRefresh(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	c, id := srv.signIn(t, "silent@newspulse.test", domain.RoleAdmin)
	refresh, ok := c.Cookie("/", authhttp.RefreshCookie)
	require.True(t, ok)

	// only the refresh cookie: the access cookie has expired in the browser
	req := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: authhttp.RefreshCookie, Value: refresh.Value})
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), id.ID)

	names := map[string]bool{}
	for _, ck := range rr.Result().Cookies() {
		names[ck.Name] = ck.Value != ""
	}
	require.True(t, names[authhttp.AccessCookie])
	require.True(t, names[authhttp.RefreshCookie])

	// the refresh happens once; replaying the old refresh token fails
	rr = httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestGuard_DeniedAfterRefreshSetsCookies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := newTestServer(t)
	founder := srv.seedIdentity(t, "founder@newspulse.test", domain.RoleFounder)
	c, _ := srv.signIn(t, "locked@newspulse.test", domain.RoleAdmin)
	refresh, ok := c.Cookie("/", authhttp.RefreshCookie)
	require.True(t, ok)

	fprin := domain.Principal{IdentityID: founder.ID, Role: domain.RoleFounder}
	_, err := srv.router.LockdownService.Set(ctx, fprin, "incident")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: authhttp.RefreshCookie, Value: refresh.Value})
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusLocked, rr.Code)

	var rotated string
	for _, ck := range rr.Result().Cookies() {
		if ck.Name == authhttp.RefreshCookie {
			rotated = ck.Value
		}
	}
	require.NotEmpty(t, rotated, "the spent refresh token is replaced even on denial")
	require.NotEqual(t, refresh.Value, rotated)

	_, err = srv.router.LockdownService.Clear(ctx, fprin)
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: authhttp.RefreshCookie, Value: rotated})
	rr = httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestLockdown(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := newTestServer(t)
	founder, _ := srv.signIn(t, "founder@newspulse.test", domain.RoleFounder)
	admin, _ := srv.signIn(t, "admin@newspulse.test", domain.RoleAdmin)
	employee, _ := srv.signIn(t, "employee@newspulse.test", domain.RoleEmployee)

	st, err := admin.GetLockdown(ctx)
	require.NoError(t, err)
	require.False(t, st.Locked)

	_, err = employee.GetLockdown(ctx)
	require.ErrorIs(t, err, authsdk.ErrUnauthorized)

	_, err = admin.SetLockdown(ctx, true, "admin tries")
	require.ErrorIs(t, err, authsdk.ErrUnauthorized)

	st, err = founder.SetLockdown(ctx, true, "incident 42")
	require.NoError(t, err)
	require.True(t, st.Locked)
	require.Equal(t, "incident 42", st.Reason)
	require.NotNil(t, st.SetAt)

	for _, c := range []*authsdk.SDKClient{admin, employee} {
		_, err = c.Me(ctx)
		require.ErrorIs(t, err, authsdk.ErrLockedOut)
		_, err = c.MFAStatus(ctx)
		require.ErrorIs(t, err, authsdk.ErrLockedOut)
	}
	_, err = founder.Me(ctx)
	require.NoError(t, err)

	st, err = founder.SetLockdown(ctx, false, "")
	require.NoError(t, err)
	require.False(t, st.Locked)

	_, err = admin.Me(ctx)
	require.NoError(t, err)

	events, err := srv.router.LockdownService.Events(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, domain.LockActionClear, events[0].Action)
}

func TestMFAManagement(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := newTestServer(t)
	c, _ := srv.signIn(t, "enrol@newspulse.test", domain.RoleEmployee)

	st, err := c.MFAStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, "none", st.TOTP)

	base := time.Now()
	srv.mfa.Now = func() time.Time { return base }
	setup, err := c.SetupTOTP(ctx)
	require.NoError(t, err)
	require.Contains(t, setup.URI, "otpauth://totp/")

	_, err = c.ConfirmTOTP(ctx, "123")
	require.ErrorIs(t, err, authsdk.ErrMFAInvalid)

	code, err := totp.GenerateCode(setup.Secret, base)
	require.NoError(t, err)
	codes, err := c.ConfirmTOTP(ctx, code)
	require.NoError(t, err)
	require.Len(t, codes, domain.RecoveryCodeCount)

	st, err = c.MFAStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, "enabled", st.TOTP)
	require.Equal(t, domain.RecoveryCodeCount, st.RecoveryRemaining)

	_, err = c.SetupTOTP(ctx)
	require.ErrorIs(t, err, authsdk.ErrMFAInvalid, "setup is refused while enabled")

	require.NoError(t, c.DisableTOTP(ctx, codes[0]))
	st, err = c.MFAStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, "none", st.TOTP)
	require.Zero(t, st.RecoveryRemaining)
}

func TestMFAManagement_RequiresSession(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	_, err := srv.client(t).SetupTOTP(context.Background())
	require.ErrorIs(t, err, authsdk.ErrTokenInvalid)
}

func TestPasswordReset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := newTestServer(t)
	c, _ := srv.signIn(t, "reset@newspulse.test", domain.RoleAdmin)

	require.NoError(t, srv.client(t).ForgotPassword(ctx, "nobody@newspulse.test"))
	require.Empty(t, srv.mailer.Messages())

	require.NoError(t, srv.client(t).ForgotPassword(ctx, "reset@newspulse.test"))
	srv.router.ResetService.Wait()
	msg, ok := srv.mailer.Last()
	require.True(t, ok)
	rid, token := resetLink(t, msg.TextBody)

	err := srv.client(t).ResetPassword(ctx, rid, "wrong", "a brand new password")
	require.ErrorIs(t, err, authsdk.ErrResetTokenInvalid)

	require.NoError(t, srv.client(t).ResetPassword(ctx, rid, token, "a brand new password"))

	err = srv.client(t).ResetPassword(ctx, rid, token, "another new password")
	require.ErrorIs(t, err, authsdk.ErrResetTokenInvalid, "a used link gives the same answer")

	// the reset revoked the old session
	_, err = c.Refresh(ctx)
	require.ErrorIs(t, err, authsdk.ErrTokenInvalid)

	_, err = srv.client(t).Login(ctx, authsdk.LaneTeam, "reset@newspulse.test", "a brand new password")
	require.NoError(t, err)
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := newTestServer(t)
	c := srv.client(t)

	live, err := c.GetLiveness(ctx)
	require.NoError(t, err)
	require.Equal(t, "ok", live.Status)
	require.Equal(t, "test", live.Version)

	ready, err := c.GetReadiness(ctx)
	require.NoError(t, err)
	require.Equal(t, "ok", ready.Status)
	require.Equal(t, "ok", ready.Checks.Database)
	require.Equal(t, "ok", ready.Checks.Challenges)
	require.Equal(t, "in-process", ready.Checks.RateLimit)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `auth_http_requests_total{method="GET",route="GET /livez",status="200"} 1`)
}

func TestReadyz_DatabaseDown(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	require.NoError(t, srv.store.Close())

	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Contains(t, rr.Body.String(), `"status":"degraded"`)

	ready, err := srv.client(t).GetReadiness(context.Background())
	require.ErrorIs(t, err, authsdk.ErrNotReady)
	require.NotNil(t, ready)
	require.NotEqual(t, "ok", ready.Checks.Database)
	require.Equal(t, "ok", ready.Checks.Challenges)
}
