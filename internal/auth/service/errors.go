package service

import (
	"errors"
	"fmt"
	"time"
)

// Caller-facing error taxonomy. Handlers map each onto one fixed response;
// the wrapping types below carry detail that is logged or used for headers
// but never echoed.
var (
	ErrInvalidCredential = errors.New("invalid_credentials")
	ErrRateLimited       = errors.New("rate_limited")
	ErrMFARequired       = errors.New("mfa_required")
	ErrMFAInvalid        = errors.New("mfa_invalid")
	ErrTokenExpired      = errors.New("token_expired")
	ErrTokenInvalid      = errors.New("token_invalid")
	ErrResetTokenInvalid = errors.New("reset_token_invalid")
	ErrLockedOut         = errors.New("locked_out")
	ErrUnauthorized      = errors.New("unauthorized")

	// ErrInvalidRequest reports input that fails validation before any
	// credential is looked at (e.g. a too short new password).
	ErrInvalidRequest = errors.New("invalid_request")
)

// RateLimitError is a denial with the time until the window resets.
type RateLimitError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (%s), retry after %s", e.Scope, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// MFARequiredError signals that the password step passed and a second
// factor must be presented together with Token.
type MFARequiredError struct {
	Token   string
	Methods []string
}

func (e *MFARequiredError) Error() string { return "mfa required" }

func (e *MFARequiredError) Unwrap() error { return ErrMFARequired }

// ResetReason says why a reset token was refused. It is for logs only.
type ResetReason string

const (
	ResetNotFound ResetReason = "not_found"
	ResetUsed     ResetReason = "used"
	ResetExpired  ResetReason = "expired"
	ResetMismatch ResetReason = "invalid"
)

type ResetTokenError struct {
	Reason ResetReason
}

func (e *ResetTokenError) Error() string { return "reset token invalid: " + string(e.Reason) }

func (e *ResetTokenError) Unwrap() error { return ErrResetTokenInvalid }
