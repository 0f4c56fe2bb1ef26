package http

import (
	"errors"
	"net/http"

	"github.com/create-newspulse/newspulse-auth/internal/auth/domain"
	"github.com/create-newspulse/newspulse-auth/internal/auth/service"
	"github.com/create-newspulse/newspulse-auth/internal/auth/store"
	"github.com/create-newspulse/newspulse-auth/pkg/authsdk"
	"github.com/create-newspulse/newspulse-auth/pkg/httpx"
	"github.com/create-newspulse/newspulse-auth/pkg/slogx"
)

// AuthHandler serves sign in, MFA completion, refresh, logout and the
// caller's own principal.
type AuthHandler struct {
	Login   *service.LoginService
	Tokens  *service.TokenService
	Store   store.Store
	Cookies CookieConfig
}

// HandleLogin handles POST /v1/auth/login
//
//	@Summary		Sign in with a password
//	@Description	Verifies email and password on the owner lane (founders) or the team lane (admins and employees).
//	@Description	Sets the np_access and np_refresh cookies, or answers 409 when a second factor is required.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.LoginRequest	true	"Credentials"
//	@Success		200		{object}	authsdk.SessionResponse	"Signed in"
//	@Failure		400		{object}	authsdk.ErrorResponse	"Malformed request"
//	@Failure		401		{object}	authsdk.ErrorResponse	"Invalid credentials"
//	@Failure		409		{object}	authsdk.ErrorResponse	"Second factor required (mfa_token, mfa_methods)"
//	@Failure		429		{object}	authsdk.ErrorResponse	"Rate limited"
//	@Router			/v1/auth/login [post].
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req authsdk.LoginRequest
	if err := httpx.DecodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	lane := domain.Lane(req.Lane)
	if !lane.Valid() || req.Email == "" || req.Password == "" {
		writeError(w, r, service.ErrInvalidRequest)
		return
	}

	res, err := h.Login.Login(r.Context(), service.LoginRequest{
		Lane:     lane,
		Email:    req.Email,
		Password: req.Password,
		IP:       httpx.ClientIP(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeSession(w, res.Identity, res.Tokens)
}

// HandleVerifyMFA handles POST /v1/auth/mfa/verify
//
//	@Summary		Complete sign in with a second factor
//	@Description	Presents a TOTP or recovery code for a pending login. A wrong code leaves the login pending; attempts per mfa_token are capped.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.MFAVerifyRequest	true	"MFA token, method and code"
//	@Success		200		{object}	authsdk.SessionResponse		"Signed in"
//	@Failure		400		{object}	authsdk.ErrorResponse		"Malformed request"
//	@Failure		401		{object}	authsdk.ErrorResponse		"Invalid code or expired login"
//	@Failure		429		{object}	authsdk.ErrorResponse		"Too many attempts"
//	@Router			/v1/auth/mfa/verify [post].
func (h *AuthHandler) HandleVerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req authsdk.MFAVerifyRequest
	if err := httpx.DecodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Method == "" {
		req.Method = domain.MethodTOTP
	}
	h.completeMFA(w, r, req.MFAToken, req.Method, req.Code)
}

// HandleRecovery handles POST /v1/auth/mfa/recovery
//
//	@Summary		Complete sign in with a recovery code
//	@Description	Spends one recovery code for a pending login.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.MFARecoveryRequest	true	"MFA token and recovery code"
//	@Success		200		{object}	authsdk.SessionResponse		"Signed in"
//	@Failure		400		{object}	authsdk.ErrorResponse		"Malformed request"
//	@Failure		401		{object}	authsdk.ErrorResponse		"Invalid code or expired login"
//	@Failure		429		{object}	authsdk.ErrorResponse		"Too many attempts"
//	@Router			/v1/auth/mfa/recovery [post].
func (h *AuthHandler) HandleRecovery(w http.ResponseWriter, r *http.Request) {
	var req authsdk.MFARecoveryRequest
	if err := httpx.DecodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	h.completeMFA(w, r, req.MFAToken, domain.MethodRecovery, req.Code)
}

func (h *AuthHandler) completeMFA(w http.ResponseWriter, r *http.Request, token, method, code string) {
	if token == "" || code == "" {
		writeError(w, r, service.ErrInvalidRequest)
		return
	}
	res, err := h.Login.CompleteMFA(r.Context(), token, method, code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeSession(w, res.Identity, res.Tokens)
}

// HandleWebAuthnBegin handles POST /v1/auth/mfa/webauthn/begin
//
//	@Summary		Start a passkey assertion
//	@Description	Returns PublicKeyCredentialRequestOptions for a pending login. The challenge can be answered once.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.MFATokenRequest	true	"MFA token"
//	@Success		200		{object}	object					"Assertion options"
//	@Failure		401		{object}	authsdk.ErrorResponse	"Expired login or no passkey"
//	@Router			/v1/auth/mfa/webauthn/begin [post].
func (h *AuthHandler) HandleWebAuthnBegin(w http.ResponseWriter, r *http.Request) {
	var req authsdk.MFATokenRequest
	if err := httpx.DecodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	options, err := h.Login.BeginWebAuthn(r.Context(), req.MFAToken)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, options)
}

// HandleWebAuthnFinish handles POST /v1/auth/mfa/webauthn/finish
//
//	@Summary		Complete sign in with a passkey
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.WebAuthnFinishRequest	true	"MFA token and the browser's PublicKeyCredential"
//	@Success		200		{object}	authsdk.SessionResponse			"Signed in"
//	@Failure		401		{object}	authsdk.ErrorResponse			"Assertion rejected"
//	@Router			/v1/auth/mfa/webauthn/finish [post].
func (h *AuthHandler) HandleWebAuthnFinish(w http.ResponseWriter, r *http.Request) {
	var req authsdk.WebAuthnFinishRequest
	if err := httpx.DecodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	if req.MFAToken == "" || len(req.Response) == 0 {
		writeError(w, r, service.ErrInvalidRequest)
		return
	}
	res, err := h.Login.FinishWebAuthn(r.Context(), req.MFAToken, req.Response)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeSession(w, res.Identity, res.Tokens)
}

// HandleRefresh handles POST /v1/auth/refresh
//
//	@Summary		Rotate the session
//	@Description	Exchanges the np_refresh cookie for a new token pair. The presented refresh token stops working.
//	@Tags			Auth
//	@Produce		json
//	@Success		200	{object}	authsdk.SessionResponse	"Rotated"
//	@Failure		401	{object}	authsdk.ErrorResponse	"Missing, reused or revoked refresh token"
//	@Failure		429	{object}	authsdk.ErrorResponse	"Rate limited"
//	@Router			/v1/auth/refresh [post].
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	creds := credentials(r)
	if creds.Refresh == "" {
		writeError(w, r, service.ErrTokenInvalid)
		return
	}
	pair, identity, err := h.Tokens.Rotate(r.Context(), creds.Refresh)
	if err != nil {
		if errors.Is(err, service.ErrTokenInvalid) {
			h.Cookies.clearSession(w)
		}
		writeError(w, r, err)
		return
	}
	h.writeSession(w, identity, pair)
}

// HandleLogout handles POST /v1/auth/logout
//
//	@Summary		Sign out
//	@Description	Revokes the session behind the refresh cookie and clears both cookies. Succeeds without a session.
//	@Tags			Auth
//	@Success		204	"Signed out"
//	@Router			/v1/auth/logout [post].
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if refresh := credentials(r).Refresh; refresh != "" {
		if err := h.Tokens.Revoke(r.Context(), refresh); err != nil {
			slogx.FromContext(r.Context()).Warn("logout: revoke failed", "err", err)
		}
	}
	h.Cookies.clearSession(w)
	httpx.NoCache(w)
	w.WriteHeader(http.StatusNoContent)
}

// HandleMe handles GET /v1/auth/me
//
//	@Summary		Current principal
//	@Tags			Auth
//	@Security		CookieAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.Principal		"Signed-in identity"
//	@Failure		401	{object}	authsdk.ErrorResponse	"No valid session"
//	@Failure		423	{object}	authsdk.ErrorResponse	"Platform locked down"
//	@Router			/v1/auth/me [get].
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := mustPrincipal(w, r)
	if !ok {
		return
	}
	out := authsdk.Principal{ID: p.IdentityID, Role: p.Role.String(), SID: p.SID, AMR: p.AMR}
	if identity, err := h.Store.Identities().GetIdentityByID(r.Context(), p.IdentityID); err == nil {
		out.Email = identity.Email
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *AuthHandler) writeSession(w http.ResponseWriter, identity domain.Identity, pair domain.TokenPair) {
	h.Cookies.setSession(w, pair)
	httpx.WriteJSON(w, http.StatusOK, authsdk.SessionResponse{
		User: authsdk.Principal{
			ID:    identity.ID,
			Email: identity.Email,
			Role:  identity.Role.String(),
		},
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	})
}
