/*
Package authsdk provides a client SDK for the NewsPulse admin auth service,
and the request, response and error types the service itself writes.

# Sessions

The service never returns tokens in a response body. A successful sign in
sets two HttpOnly cookies, np_access and np_refresh. An SDKClient carries a cookie jar, so one client is one signed-in
browser:

	client, err := authsdk.NewSDKClient("https://auth.newspulse.example")

	_, err = client.Login(ctx, authsdk.LaneTeam, "editor@newspulse.example", password)
	var mfa *authsdk.MFARequiredError
	if errors.As(err, &mfa) {
		_, err = client.VerifyMFA(ctx, mfa.MFAToken, "totp", code)
	}

	me, err := client.Me(ctx)

Guarded calls refresh silently when the access cookie has expired. Refresh
can also be called explicitly; Logout clears both cookies and succeeds
whether or not a session exists.

# Errors

Every failure is an *APIError with one of the ErrorCode constants, or an
*MFARequiredError for a login waiting on a second factor. APIError supports
errors.Is against the predefined errors:

	if errors.Is(err, authsdk.ErrLockedOut) {
		// the platform is locked down and the caller is not a founder
	}

Rate-limit denials carry RetryAfter.
*/
package authsdk
