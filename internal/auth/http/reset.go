package http

import (
	"errors"
	"net/http"

	"github.com/create-newspulse/newspulse-auth/internal/auth/service"
	"github.com/create-newspulse/newspulse-auth/pkg/authsdk"
	"github.com/create-newspulse/newspulse-auth/pkg/httpx"
	"github.com/create-newspulse/newspulse-auth/pkg/slogx"
)

// ResetHandler serves the password reset flow.
type ResetHandler struct {
	Resets *service.PasswordResetService
}

// HandleForgot handles POST /v1/auth/forgot-password
//
//	@Summary		Request a password reset email
//	@Description	Always answers 202 for a well-formed request, whether or not the address belongs to an account.
//	@Tags			Password Reset
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.ForgotPasswordRequest	true	"Account email"
//	@Success		202		{object}	authsdk.StatusResponse			"Accepted"
//	@Failure		400		{object}	authsdk.ErrorResponse			"Malformed request"
//	@Failure		429		{object}	authsdk.ErrorResponse			"Rate limited"
//	@Router			/v1/auth/forgot-password [post].
func (h *ResetHandler) HandleForgot(w http.ResponseWriter, r *http.Request) {
	var req authsdk.ForgotPasswordRequest
	if err := httpx.DecodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Email == "" {
		writeError(w, r, service.ErrInvalidRequest)
		return
	}

	err := h.Resets.RequestReset(r.Context(), req.Email, httpx.ClientIP(r))
	switch {
	case errors.Is(err, service.ErrRateLimited):
		writeError(w, r, err)
		return
	case err != nil:
		// Delivery failures are not disclosed; the answer stays the same.
		slogx.FromContext(r.Context()).Error("forgot password failed", "err", err)
	}
	httpx.WriteJSON(w, http.StatusAccepted, authsdk.StatusResponse{Status: "accepted"})
}

// HandleReset handles POST /v1/auth/reset-password
//
//	@Summary		Set a new password with a reset link
//	@Description	Spends the reset grant and revokes every session of the account. Unknown, used, expired and mismatched links get the same answer.
//	@Tags			Password Reset
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.ResetPasswordRequest	true	"Grant id, token and new password"
//	@Success		200		{object}	authsdk.StatusResponse			"Password changed"
//	@Failure		400		{object}	authsdk.ErrorResponse			"Invalid link or password"
//	@Failure		429		{object}	authsdk.ErrorResponse			"Rate limited"
//	@Router			/v1/auth/reset-password [post].
func (h *ResetHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	var req authsdk.ResetPasswordRequest
	if err := httpx.DecodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	if req.RID == "" || req.Token == "" {
		writeError(w, r, service.ErrResetTokenInvalid)
		return
	}

	if err := h.Resets.ResetPassword(r.Context(), req.RID, req.Token, req.NewPassword, httpx.ClientIP(r)); err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.StatusResponse{Status: "ok"})
}
