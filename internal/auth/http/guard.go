package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/create-newspulse/newspulse-auth/internal/auth/domain"
	"github.com/create-newspulse/newspulse-auth/internal/auth/service"
	"github.com/create-newspulse/newspulse-auth/pkg/httpx"
	"github.com/create-newspulse/newspulse-auth/pkg/slogx"
)

type principalKey struct{}

func withPrincipal(ctx context.Context, p domain.Principal) context.Context {
	ctx = httpx.WithUser(ctx, p.IdentityID, p.Role.String())
	ctx = slogx.WithIdentity(ctx, p.IdentityID, p.Role.String())
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the caller placed in ctx by RequireSession.
func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(domain.Principal)
	return p, ok
}

// RequireSession guards a handler with the session cookies. A silent
// refresh sets new cookies even when the request is then denied; a session
// that can not be recovered has its cookies cleared.
func RequireSession(g *service.Guard, cookies CookieConfig, policy service.Policy) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := g.Authorize(r.Context(), credentials(r), policy)
			if d.Rotated != nil {
				cookies.setSession(w, *d.Rotated)
			}
			if err != nil {
				if errors.Is(err, service.ErrTokenInvalid) || errors.Is(err, service.ErrTokenExpired) {
					cookies.clearSession(w)
				}
				writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), d.Principal)))
		})
	}
}

// mustPrincipal fetches the guarded caller. It writes a 401 and returns
// false when the handler was mounted without RequireSession.
func mustPrincipal(w http.ResponseWriter, r *http.Request) (domain.Principal, bool) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, service.ErrTokenInvalid)
	}
	return p, ok
}
