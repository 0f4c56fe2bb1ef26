package http

import (
	"net/http"

	"github.com/create-newspulse/newspulse-auth/internal/auth/service"
	"github.com/create-newspulse/newspulse-auth/pkg/authsdk"
	"github.com/create-newspulse/newspulse-auth/pkg/httpx"
)

// MFAHandler manages the signed-in caller's own second factors.
type MFAHandler struct {
	MFA      *service.MFAService
	WebAuthn *service.WebAuthnService
}

// HandleStatus handles GET /v1/mfa
//
//	@Summary		Second factor status
//	@Tags			MFA
//	@Security		CookieAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.MFAStatusResponse	"TOTP state, passkeys and remaining recovery codes"
//	@Failure		401	{object}	authsdk.ErrorResponse		"No valid session"
//	@Router			/v1/mfa [get].
func (h *MFAHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := mustPrincipal(w, r)
	if !ok {
		return
	}
	st, err := h.MFA.Status(r.Context(), p.IdentityID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.MFAStatusResponse{
		TOTP:              string(st.TOTP),
		Passkeys:          st.Passkeys,
		RecoveryRemaining: st.RecoveryRemaining,
	})
}

// HandleSetup handles POST /v1/mfa/totp/setup
//
//	@Summary		Start TOTP enrolment
//	@Description	Issues a new TOTP secret and moves the caller to pending_setup. Fails once TOTP is enabled.
//	@Tags			MFA
//	@Security		CookieAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.TOTPSetupResponse	"Secret and otpauth URI"
//	@Failure		401	{object}	authsdk.ErrorResponse		"No valid session or TOTP already enabled"
//	@Router			/v1/mfa/totp/setup [post].
func (h *MFAHandler) HandleSetup(w http.ResponseWriter, r *http.Request) {
	p, ok := mustPrincipal(w, r)
	if !ok {
		return
	}
	setup, err := h.MFA.SetupTOTP(r.Context(), p.IdentityID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.TOTPSetupResponse{
		Secret: setup.Secret,
		URI:    setup.URI,
		Label:  setup.Label,
	})
}

// HandleConfirm handles POST /v1/mfa/totp/confirm
//
//	@Summary		Confirm TOTP enrolment
//	@Description	Enables TOTP with a first valid code and returns ten recovery codes, shown once.
//	@Tags			MFA
//	@Security		CookieAuth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.CodeRequest				true	"TOTP code"
//	@Success		200		{object}	authsdk.RecoveryCodesResponse	"Recovery codes"
//	@Failure		401		{object}	authsdk.ErrorResponse			"Invalid code"
//	@Router			/v1/mfa/totp/confirm [post].
func (h *MFAHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	p, ok := mustPrincipal(w, r)
	if !ok {
		return
	}
	var req authsdk.CodeRequest
	if err := httpx.DecodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	codes, err := h.MFA.ConfirmTOTP(r.Context(), p.IdentityID, req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.RecoveryCodesResponse{RecoveryCodes: codes})
}

// HandleDisable handles DELETE /v1/mfa/totp
//
//	@Summary		Disable TOTP
//	@Description	Requires a current TOTP or recovery code.
//	@Tags			MFA
//	@Security		CookieAuth
//	@Accept			json
//	@Param			request	body	authsdk.CodeRequest	true	"TOTP or recovery code"
//	@Success		204		"Disabled"
//	@Failure		401		{object}	authsdk.ErrorResponse	"Invalid code"
//	@Router			/v1/mfa/totp [delete].
func (h *MFAHandler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	p, ok := mustPrincipal(w, r)
	if !ok {
		return
	}
	var req authsdk.CodeRequest
	if err := httpx.DecodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.MFA.DisableTOTP(r.Context(), p.IdentityID, req.Code); err != nil {
		writeError(w, r, err)
		return
	}
	httpx.NoCache(w)
	w.WriteHeader(http.StatusNoContent)
}

// HandleRegenerate handles POST /v1/mfa/recovery-codes
//
//	@Summary		Replace recovery codes
//	@Description	Requires a current TOTP code. The previous set stops working.
//	@Tags			MFA
//	@Security		CookieAuth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.CodeRequest				true	"TOTP code"
//	@Success		200		{object}	authsdk.RecoveryCodesResponse	"New recovery codes"
//	@Failure		401		{object}	authsdk.ErrorResponse			"Invalid code"
//	@Router			/v1/mfa/recovery-codes [post].
func (h *MFAHandler) HandleRegenerate(w http.ResponseWriter, r *http.Request) {
	p, ok := mustPrincipal(w, r)
	if !ok {
		return
	}
	var req authsdk.CodeRequest
	if err := httpx.DecodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	codes, err := h.MFA.RegenerateRecoveryCodes(r.Context(), p.IdentityID, req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.RecoveryCodesResponse{RecoveryCodes: codes})
}

// HandleRegisterBegin handles POST /v1/mfa/webauthn/register/begin
//
//	@Summary		Start passkey registration
//	@Tags			MFA
//	@Security		CookieAuth
//	@Produce		json
//	@Success		200	{object}	object					"PublicKeyCredentialCreationOptions"
//	@Failure		401	{object}	authsdk.ErrorResponse	"No valid session"
//	@Router			/v1/mfa/webauthn/register/begin [post].
func (h *MFAHandler) HandleRegisterBegin(w http.ResponseWriter, r *http.Request) {
	p, ok := mustPrincipal(w, r)
	if !ok {
		return
	}
	options, err := h.WebAuthn.BeginRegistration(r.Context(), p.IdentityID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, options)
}

// HandleRegisterFinish handles POST /v1/mfa/webauthn/register/finish
//
//	@Summary		Finish passkey registration
//	@Description	Stores the passkey. Recovery codes are returned when the caller had none.
//	@Tags			MFA
//	@Security		CookieAuth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.WebAuthnRegisterRequest		true	"Passkey name and attestation"
//	@Success		201		{object}	authsdk.WebAuthnRegisterResponse	"Stored passkey"
//	@Failure		401		{object}	authsdk.ErrorResponse				"Attestation rejected"
//	@Router			/v1/mfa/webauthn/register/finish [post].
func (h *MFAHandler) HandleRegisterFinish(w http.ResponseWriter, r *http.Request) {
	p, ok := mustPrincipal(w, r)
	if !ok {
		return
	}
	var req authsdk.WebAuthnRegisterRequest
	if err := httpx.DecodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.Response) == 0 {
		writeError(w, r, service.ErrInvalidRequest)
		return
	}
	res, err := h.WebAuthn.FinishRegistration(r.Context(), p.IdentityID, req.Name, req.Response)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, authsdk.WebAuthnRegisterResponse{
		CredentialID:  res.CredentialID,
		Name:          res.Name,
		RecoveryCodes: res.RecoveryCodes,
	})
}
