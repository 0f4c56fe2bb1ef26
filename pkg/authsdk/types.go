package authsdk

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Internal Response Types (used for JSON unmarshaling)
// ============================================================================

// ErrorResponse is the wire form of an APIError.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	RetryAfterMS     int64  `json:"retry_after_ms,omitempty"`
}

// ============================================================================
// Login Types
// ============================================================================

// Lanes accepted by POST /v1/auth/login.
const (
	LaneOwner = "owner"
	LaneTeam  = "team"
)

// LoginRequest is the body of POST /v1/auth/login.
type LoginRequest struct {
	// Lane is "owner" (founder only) or "team" (admins and employees)
	Lane     string `json:"lane"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// MFAVerifyRequest is the body of POST /v1/auth/mfa/verify.
type MFAVerifyRequest struct {
	MFAToken string `json:"mfa_token"`

	// Method is "totp" or "recovery"
	Method string `json:"method"`
	Code   string `json:"code"`
}

// MFARecoveryRequest is the body of POST /v1/auth/mfa/recovery.
type MFARecoveryRequest struct {
	MFAToken string `json:"mfa_token"`
	Code     string `json:"code"`
}

// MFATokenRequest is the body of POST /v1/auth/mfa/webauthn/begin.
type MFATokenRequest struct {
	MFAToken string `json:"mfa_token"`
}

// WebAuthnFinishRequest is the body of POST /v1/auth/mfa/webauthn/finish.
// Response is the raw PublicKeyCredential JSON from the browser.
type WebAuthnFinishRequest struct {
	MFAToken string          `json:"mfa_token"`
	Response json.RawMessage `json:"response" swaggertype:"object"`
}

// SessionResponse is returned whenever a session was started or refreshed.
// The tokens themselves travel only in HttpOnly cookies.
type SessionResponse struct {
	User             Principal `json:"user"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Principal is the signed-in identity.
type Principal struct {
	ID    string   `json:"id"`
	Email string   `json:"email,omitempty"`
	Role  string   `json:"role"`
	SID   string   `json:"sid,omitempty"`
	AMR   []string `json:"amr,omitempty"`
}

// ============================================================================
// Password Reset Types
// ============================================================================

// ForgotPasswordRequest is the body of POST /v1/auth/forgot-password.
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest is the body of POST /v1/auth/reset-password.
type ResetPasswordRequest struct {
	RID         string `json:"rid"`
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// StatusResponse is a bare acknowledgement.
type StatusResponse struct {
	Status string `json:"status"`
}

// ============================================================================
// MFA Management Types
// ============================================================================

// TOTPSetupResponse is returned by POST /v1/mfa/totp/setup.
type TOTPSetupResponse struct {
	Secret string `json:"secret"`
	URI    string `json:"otpauth_uri"`
	Label  string `json:"label"`
}

// CodeRequest carries a single TOTP or recovery code.
type CodeRequest struct {
	Code string `json:"code"`
}

// RecoveryCodesResponse carries a freshly issued recovery set. The codes are
// shown once.
type RecoveryCodesResponse struct {
	RecoveryCodes []string `json:"recovery_codes"`
}

// MFAStatusResponse is returned by GET /v1/mfa.
type MFAStatusResponse struct {
	TOTP              string `json:"totp"`
	Passkeys          int    `json:"passkeys"`
	RecoveryRemaining int    `json:"recovery_codes_remaining"`
}

// WebAuthnRegisterRequest is the body of POST /v1/mfa/webauthn/register/finish.
type WebAuthnRegisterRequest struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response" swaggertype:"object"`
}

// WebAuthnRegisterResponse describes a stored passkey.
type WebAuthnRegisterResponse struct {
	CredentialID  []byte   `json:"credential_id"`
	Name          string   `json:"name"`
	RecoveryCodes []string `json:"recovery_codes,omitempty"`
}

// ============================================================================
// Lockdown Types
// ============================================================================

// LockdownRequest is the body of POST /v1/lockdown.
type LockdownRequest struct {
	Locked bool   `json:"locked"`
	Reason string `json:"reason,omitempty"`
}

// LockdownResponse is the authority lock state.
type LockdownResponse struct {
	Locked bool       `json:"locked"`
	Reason string     `json:"reason,omitempty"`
	SetBy  string     `json:"set_by,omitempty"`
	SetAt  *time.Time `json:"set_at,omitempty"`
}

// ============================================================================
// Health Types
// ============================================================================

// HealthResponse is returned by /livez and /readyz (readyz adds Checks).
type HealthResponse struct {
	// Status indicates the overall health status (e.g., "ok")
	Status string `json:"status"`

	// Uptime is the service uptime duration as a string (e.g., "1h23m45s")
	Uptime string `json:"uptime,omitempty"`

	// Version is the service version string
	Version string `json:"version,omitempty"`

	// Checks contains readiness check results (only for /readyz)
	Checks *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks is the status of each dependency checked by /readyz.
type HealthChecks struct {
	Database   string `json:"database"`
	Challenges string `json:"challenges"`
	RateLimit  string `json:"rate_limit"`
}
