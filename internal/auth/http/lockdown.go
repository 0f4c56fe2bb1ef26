package http

import (
	"net/http"

	"github.com/create-newspulse/newspulse-auth/internal/auth/domain"
	"github.com/create-newspulse/newspulse-auth/internal/auth/service"
	"github.com/create-newspulse/newspulse-auth/pkg/authsdk"
	"github.com/create-newspulse/newspulse-auth/pkg/httpx"
)

// LockdownHandler exposes the authority lock.
type LockdownHandler struct {
	Lockdown *service.LockdownService
}

// HandleGet handles GET /v1/lockdown
//
//	@Summary		Read the authority lock
//	@Tags			Lockdown
//	@Security		CookieAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.LockdownResponse	"Lock state"
//	@Failure		401	{object}	authsdk.ErrorResponse		"No valid session"
//	@Failure		403	{object}	authsdk.ErrorResponse		"Role not allowed"
//	@Failure		423	{object}	authsdk.ErrorResponse		"Platform locked down"
//	@Router			/v1/lockdown [get].
func (h *LockdownHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	st, err := h.Lockdown.Get(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, lockResponse(st))
}

// HandleSet handles POST /v1/lockdown
//
//	@Summary		Set or clear the authority lock
//	@Description	Founder only. While locked every non-founder request is refused with 423.
//	@Tags			Lockdown
//	@Security		CookieAuth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.LockdownRequest		true	"Desired state and reason"
//	@Success		200		{object}	authsdk.LockdownResponse	"New lock state"
//	@Failure		403		{object}	authsdk.ErrorResponse		"Not a founder"
//	@Router			/v1/lockdown [post].
func (h *LockdownHandler) HandleSet(w http.ResponseWriter, r *http.Request) {
	p, ok := mustPrincipal(w, r)
	if !ok {
		return
	}
	var req authsdk.LockdownRequest
	if err := httpx.DecodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	var (
		st  domain.LockState
		err error
	)
	if req.Locked {
		st, err = h.Lockdown.Set(r.Context(), p, req.Reason)
	} else {
		st, err = h.Lockdown.Clear(r.Context(), p)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, lockResponse(st))
}

func lockResponse(st domain.LockState) authsdk.LockdownResponse {
	return authsdk.LockdownResponse{
		Locked: st.Locked,
		Reason: st.Reason,
		SetBy:  st.SetBy,
		SetAt:  st.SetAt,
	}
}
