package http

import (
	"errors"
	"net/http"

	"github.com/create-newspulse/newspulse-auth/internal/auth/service"
	"github.com/create-newspulse/newspulse-auth/pkg/authsdk"
	"github.com/create-newspulse/newspulse-auth/pkg/httpx"
	"github.com/create-newspulse/newspulse-auth/pkg/slogx"
)

// writeError maps a service error onto its fixed response. Detail carried
// by wrapped errors is logged, never written.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		mfa *service.MFARequiredError
		rl  *service.RateLimitError
	)
	switch {
	case errors.As(err, &mfa):
		(&authsdk.MFARequiredError{MFAToken: mfa.Token, Methods: mfa.Methods}).WriteError(w)
	case errors.As(err, &rl):
		authsdk.ErrRateLimited.WithRetryAfter(rl.RetryAfter).WriteError(w)
	case errors.Is(err, httpx.ErrBadRequest), errors.Is(err, service.ErrInvalidRequest):
		authsdk.ErrInvalidRequest.WriteError(w)
	case errors.Is(err, service.ErrInvalidCredential):
		authsdk.ErrInvalidCredential.WriteError(w)
	case errors.Is(err, service.ErrRateLimited):
		authsdk.ErrRateLimited.WriteError(w)
	case errors.Is(err, service.ErrMFAInvalid):
		authsdk.ErrMFAInvalid.WriteError(w)
	case errors.Is(err, service.ErrTokenExpired):
		authsdk.ErrTokenExpired.WriteError(w)
	case errors.Is(err, service.ErrTokenInvalid):
		authsdk.ErrTokenInvalid.WriteError(w)
	case errors.Is(err, service.ErrResetTokenInvalid):
		authsdk.ErrResetTokenInvalid.WriteError(w)
	case errors.Is(err, service.ErrLockedOut):
		authsdk.ErrLockedOut.WriteError(w)
	case errors.Is(err, service.ErrUnauthorized):
		authsdk.ErrUnauthorized.WriteError(w)
	default:
		slogx.FromContext(r.Context()).Error("request failed", "err", err)
		authsdk.ErrServerError.WriteError(w)
	}
}
