package authsdk

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"
)

// SDKClient talks to the NewsPulse auth service. Sessions travel in HttpOnly
// cookies, so each SDKClient keeps its own cookie jar and represents one
// signed-in browser.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewSDKClient creates a client with an empty cookie jar.
func NewSDKClient(baseURL string) (*SDKClient, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
			Jar:     jar,
		},
	}, nil
}

// Cookie returns the named cookie the jar would send to path, if any.
func (c *SDKClient) Cookie(path, name string) (*http.Cookie, bool) {
	if c.HTTPClient.Jar == nil {
		return nil, false
	}
	req, err := http.NewRequest(http.MethodGet, c.url(path), nil)
	if err != nil {
		return nil, false
	}
	for _, ck := range c.HTTPClient.Jar.Cookies(req.URL) {
		if ck.Name == name {
			return ck, true
		}
	}
	return nil, false
}

// ============================================================================
// Sign in
// ============================================================================

// Login signs in with a password. When the account has a second factor the
// error is a *MFARequiredError whose token is passed to VerifyMFA.
func (c *SDKClient) Login(ctx context.Context, lane, email, password string) (*SessionResponse, error) {
	var out SessionResponse
	err := c.postJSON(ctx, "/v1/auth/login", LoginRequest{Lane: lane, Email: email, Password: password}, &out, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyMFA completes a pending login with a TOTP or recovery code.
func (c *SDKClient) VerifyMFA(ctx context.Context, mfaToken, method, code string) (*SessionResponse, error) {
	var out SessionResponse
	err := c.postJSON(ctx, "/v1/auth/mfa/verify", MFAVerifyRequest{MFAToken: mfaToken, Method: method, Code: code}, &out, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UseRecoveryCode completes a pending login with a recovery code.
func (c *SDKClient) UseRecoveryCode(ctx context.Context, mfaToken, code string) (*SessionResponse, error) {
	var out SessionResponse
	err := c.postJSON(ctx, "/v1/auth/mfa/recovery", MFARecoveryRequest{MFAToken: mfaToken, Code: code}, &out, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh rotates the session using the refresh cookie.
func (c *SDKClient) Refresh(ctx context.Context) (*SessionResponse, error) {
	var out SessionResponse
	if err := c.postJSON(ctx, "/v1/auth/refresh", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout ends the session. It succeeds with or without one.
func (c *SDKClient) Logout(ctx context.Context) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/auth/logout", nil, nil)
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

// Me returns the signed-in principal.
func (c *SDKClient) Me(ctx context.Context) (*Principal, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/v1/auth/me", nil, nil)
	if err != nil {
		return nil, err
	}
	var out Principal
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// ============================================================================
// Password reset
// ============================================================================

// ForgotPassword asks for a reset email. The answer is the same whether or
// not the address belongs to an account.
func (c *SDKClient) ForgotPassword(ctx context.Context, email string) error {
	var out StatusResponse
	return c.postJSON(ctx, "/v1/auth/forgot-password", ForgotPasswordRequest{Email: email}, &out, http.StatusAccepted)
}

// ResetPassword spends a reset grant.
func (c *SDKClient) ResetPassword(ctx context.Context, rid, token, newPassword string) error {
	var out StatusResponse
	return c.postJSON(ctx, "/v1/auth/reset-password", ResetPasswordRequest{RID: rid, Token: token, NewPassword: newPassword}, &out, http.StatusOK)
}

// ============================================================================
// MFA management (signed in)
// ============================================================================

// MFAStatus reports the caller's second factors.
func (c *SDKClient) MFAStatus(ctx context.Context) (*MFAStatusResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/v1/mfa", nil, nil)
	if err != nil {
		return nil, err
	}
	var out MFAStatusResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetupTOTP starts TOTP enrolment.
func (c *SDKClient) SetupTOTP(ctx context.Context) (*TOTPSetupResponse, error) {
	var out TOTPSetupResponse
	if err := c.postJSON(ctx, "/v1/mfa/totp/setup", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConfirmTOTP finishes enrolment and returns the recovery codes.
func (c *SDKClient) ConfirmTOTP(ctx context.Context, code string) ([]string, error) {
	var out RecoveryCodesResponse
	if err := c.postJSON(ctx, "/v1/mfa/totp/confirm", CodeRequest{Code: code}, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.RecoveryCodes, nil
}

// DisableTOTP turns TOTP off with a TOTP or recovery code.
func (c *SDKClient) DisableTOTP(ctx context.Context, code string) error {
	body, err := jsonBody(CodeRequest{Code: code})
	if err != nil {
		return err
	}
	resp, err := c.doRequest(ctx, http.MethodDelete, "/v1/mfa/totp", body, jsonHeaders)
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

// RegenerateRecoveryCodes replaces the recovery set after a TOTP code.
func (c *SDKClient) RegenerateRecoveryCodes(ctx context.Context, totpCode string) ([]string, error) {
	var out RecoveryCodesResponse
	if err := c.postJSON(ctx, "/v1/mfa/recovery-codes", CodeRequest{Code: totpCode}, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.RecoveryCodes, nil
}

// ============================================================================
// Lockdown
// ============================================================================

// GetLockdown reads the authority lock.
func (c *SDKClient) GetLockdown(ctx context.Context) (*LockdownResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/v1/lockdown", nil, nil)
	if err != nil {
		return nil, err
	}
	var out LockdownResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetLockdown sets or clears the authority lock. Founder only.
func (c *SDKClient) SetLockdown(ctx context.Context, locked bool, reason string) (*LockdownResponse, error) {
	var out LockdownResponse
	if err := c.postJSON(ctx, "/v1/lockdown", LockdownRequest{Locked: locked, Reason: reason}, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}
