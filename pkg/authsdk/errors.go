package authsdk

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/create-newspulse/newspulse-auth/pkg/httpx"
)

// ============================================================================
// Error Codes
// ============================================================================

const (
	ErrorCodeInvalidRequest    = "invalid_request"
	ErrorCodeInvalidCredential = "invalid_credentials"
	ErrorCodeRateLimited       = "rate_limited"
	ErrorCodeMFARequired       = "mfa_required"
	ErrorCodeMFAInvalid        = "mfa_invalid"
	ErrorCodeTokenExpired      = "token_expired"
	ErrorCodeTokenInvalid      = "token_invalid"
	ErrorCodeResetTokenInvalid = "reset_token_invalid"
	ErrorCodeLockedOut         = "locked_out"
	ErrorCodeUnauthorized      = "unauthorized"
	ErrorCodeServerError       = "server_error"
)

// ============================================================================
// APIError - the one error body every endpoint returns
// ============================================================================

// APIError is the JSON error body of the auth service. It is used by the
// server to write responses and by the SDK to represent them.
type APIError struct {
	// StatusCode is the HTTP status code for this error
	StatusCode int `json:"-"`

	// Code is one of the ErrorCode constants
	Code string `json:"error"`

	// Description is a fixed human-readable message for the code
	Description string `json:"error_description"`

	// RetryAfter is set on rate-limit denials
	RetryAfter time.Duration `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Is matches two APIErrors by code, so errors.Is(err, authsdk.ErrLockedOut)
// works on errors parsed from a response.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	return ok && t.Code == e.Code
}

// WriteError writes this APIError to an HTTP response writer.
func (e *APIError) WriteError(w http.ResponseWriter) {
	httpx.NoCache(w)
	w.Header().Set("Content-Type", "application/json")

	body := map[string]any{
		"error":             e.Code,
		"error_description": e.Description,
	}
	if e.RetryAfter > 0 {
		secs := int(math.Ceil(e.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		body["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}

	w.WriteHeader(e.StatusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// WithRetryAfter returns a copy of e carrying a retry hint.
func (e *APIError) WithRetryAfter(d time.Duration) *APIError {
	c := *e
	c.RetryAfter = d
	return &c
}

// ============================================================================
// Predefined Errors
// ============================================================================

var (
	ErrInvalidRequest = &APIError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidRequest,
		Description: "the request is malformed or missing required parameters",
	}

	// ErrInvalidCredential covers unknown accounts, wrong passwords and a lane
	// the account may not use.
	ErrInvalidCredential = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidCredential,
		Description: "invalid credentials",
	}

	ErrRateLimited = &APIError{
		StatusCode:  http.StatusTooManyRequests,
		Code:        ErrorCodeRateLimited,
		Description: "too many requests, try again later",
	}

	ErrMFAInvalid = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeMFAInvalid,
		Description: "the verification code or challenge is invalid",
	}

	ErrTokenExpired = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeTokenExpired,
		Description: "the session has expired",
	}

	ErrTokenInvalid = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeTokenInvalid,
		Description: "the session is missing or invalid",
	}

	// ErrResetTokenInvalid is the single answer for unknown, used, expired
	// and mismatched reset links.
	ErrResetTokenInvalid = &APIError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeResetTokenInvalid,
		Description: "the reset link is invalid or has expired",
	}

	ErrLockedOut = &APIError{
		StatusCode:  http.StatusLocked,
		Code:        ErrorCodeLockedOut,
		Description: "the platform is locked down",
	}

	ErrUnauthorized = &APIError{
		StatusCode:  http.StatusForbidden,
		Code:        ErrorCodeUnauthorized,
		Description: "not allowed",
	}

	ErrServerError = &APIError{
		StatusCode:  http.StatusInternalServerError,
		Code:        ErrorCodeServerError,
		Description: "internal server error",
	}
)

// ============================================================================
// MFA Error Response
// ============================================================================

// MFARequiredError is returned with 409 Conflict when the password was
// accepted and a second factor must be presented with MFAToken.
type MFARequiredError struct {
	MFAToken string   `json:"mfa_token"`
	Methods  []string `json:"mfa_methods"`
}

// Error implements the error interface.
func (e *MFARequiredError) Error() string {
	return fmt.Sprintf("MFA required: available methods=%v", e.Methods)
}

// WriteError writes the challenge as a 409 Conflict.
func (e *MFARequiredError) WriteError(w http.ResponseWriter) {
	httpx.NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusConflict)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":             ErrorCodeMFARequired,
		"error_description": "a second factor is required to complete sign in",
		"mfa_required":      true,
		"mfa_token":         e.MFAToken,
		"mfa_methods":       e.Methods,
	})
}

// ============================================================================
// Error Parsing Helpers
// ============================================================================

// parseErrorResponse turns a non-2xx response into *MFARequiredError or
// *APIError. It returns nil for 2xx responses.
func parseErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	if resp.StatusCode == http.StatusConflict {
		var mfaResp struct {
			Error      string   `json:"error"`
			MFAToken   string   `json:"mfa_token"`
			MFAMethods []string `json:"mfa_methods"`
		}
		if err := json.Unmarshal(body, &mfaResp); err == nil {
			if mfaResp.Error == ErrorCodeMFARequired && mfaResp.MFAToken != "" {
				return &MFARequiredError{
					MFAToken: mfaResp.MFAToken,
					Methods:  mfaResp.MFAMethods,
				}
			}
		}
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return &APIError{
			StatusCode:  resp.StatusCode,
			Code:        errResp.Error,
			Description: errResp.ErrorDescription,
			RetryAfter:  time.Duration(errResp.RetryAfterMS) * time.Millisecond,
		}
	}

	return &APIError{
		StatusCode:  resp.StatusCode,
		Code:        ErrorCodeServerError,
		Description: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
	}
}
