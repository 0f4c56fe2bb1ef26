package http

import (
	"net/http"
	"time"

	"github.com/create-newspulse/newspulse-auth/internal/auth/domain"
	"github.com/create-newspulse/newspulse-auth/internal/auth/service"
)

// Session cookie names. Both are scoped to the whole site: every guarded
// route needs the refresh cookie to refresh silently.
const (
	AccessCookie  = "np_access"
	RefreshCookie = "np_refresh"

	cookiePath = "/"
)

// CookieConfig controls the attributes of the session cookies.
type CookieConfig struct {
	Secure bool
	Domain string
}

// setSession writes both session cookies for pair.
func (c CookieConfig) setSession(w http.ResponseWriter, pair domain.TokenPair) {
	http.SetCookie(w, c.cookie(AccessCookie, pair.AccessToken, cookiePath, pair.AccessExpiresAt))
	http.SetCookie(w, c.cookie(RefreshCookie, pair.RefreshToken, cookiePath, pair.RefreshExpiresAt))
}

// clearSession expires both session cookies.
func (c CookieConfig) clearSession(w http.ResponseWriter) {
	for _, ck := range []*http.Cookie{
		c.cookie(AccessCookie, "", cookiePath, time.Unix(0, 0)),
		c.cookie(RefreshCookie, "", cookiePath, time.Unix(0, 0)),
	} {
		ck.MaxAge = -1
		http.SetCookie(w, ck)
	}
}

func (c CookieConfig) cookie(name, value, path string, expires time.Time) *http.Cookie {
	ck := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   c.Domain,
		Expires:  expires,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	}
	if !expires.IsZero() && expires.After(time.Now()) {
		ck.MaxAge = int(time.Until(expires).Seconds())
	}
	return ck
}

// credentials reads the session cookies of a request.
func credentials(r *http.Request) service.Credentials {
	var creds service.Credentials
	if ck, err := r.Cookie(AccessCookie); err == nil {
		creds.Access = ck.Value
	}
	if ck, err := r.Cookie(RefreshCookie); err == nil {
		creds.Refresh = ck.Value
	}
	return creds
}
