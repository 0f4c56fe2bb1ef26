package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/create-newspulse/newspulse-auth/internal/auth/domain"
	"github.com/create-newspulse/newspulse-auth/internal/auth/metrics"
	"github.com/create-newspulse/newspulse-auth/internal/auth/service"
	"github.com/create-newspulse/newspulse-auth/internal/auth/store"
	"github.com/create-newspulse/newspulse-auth/pkg/httpx"
	"github.com/create-newspulse/newspulse-auth/pkg/slogx"

	_ "github.com/create-newspulse/newspulse-auth/api/auth" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
	metrics      *metrics.Metrics

	store   store.Store
	Cookies CookieConfig

	LoginService    *service.LoginService
	TokenService    *service.TokenService
	MFAService      *service.MFAService
	WebAuthnService *service.WebAuthnService
	ResetService    *service.PasswordResetService
	LockdownService *service.LockdownService
	Guard           *service.Guard

	// RefreshLimiter throttles /v1/auth/refresh by client IP.
	RefreshLimiter httpx.Limiter
	// ManageLimiter throttles the signed-in MFA and lockdown endpoints per
	// identity.
	ManageLimiter httpx.Limiter

	// Readiness dependencies. A nil RateLimitPing reports the in-process
	// limiter.
	ChallengesPing Pinger
	RateLimitPing  Pinger
}

func NewRouter(
	buildVersion string,
	st store.Store,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		metrics:      m,
		logger:       logger,
	}

	// Set default middleware chain. Metrics sit innermost so they see the
	// pattern the mux matched.
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
		httpx.SecurityHeaders,
		m.Middleware,
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerPasswordReset()
	r.registerMFA()
	r.registerLockdown()
	r.registerSystem()

	r.Mux.Handle("GET /swagger/",
		httpx.Chain(httpSwagger.Handler(),
			httpx.RateLimitByIP(httpx.NewTokenBucket(httpx.PublicLimit)),
		),
	)
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			NewsPulse Admin Authentication API
//	@version		0.1.0
//	@description	Password sign in with TOTP, recovery code or passkey second factors, cookie sessions
//	@description	with rotating refresh tokens, password reset and the founder's authority lock.
//	@description
//	@description				Sessions travel only in the HttpOnly np_access and np_refresh cookies.
//
//	@contact.name				NewsPulse Platform Team
//	@contact.url				https://github.com/create-newspulse/newspulse-auth
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	CookieAuth
//	@in							cookie
//	@name						np_access
//	@description				Access token cookie set by sign in and refresh.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// guarded wraps h with the session guard and the per-identity limiter.
func (r *Router) guarded(h http.HandlerFunc, roles ...domain.Role) http.Handler {
	mws := []httpx.Middleware{RequireSession(r.Guard, r.Cookies, service.Policy{Roles: roles})}
	if r.ManageLimiter != nil {
		mws = append(mws, httpx.RateLimitByUser(r.ManageLimiter))
	}
	return httpx.Chain(h, mws...)
}

func (r *Router) registerAuth() {
	h := &AuthHandler{
		Login:   r.LoginService,
		Tokens:  r.TokenService,
		Store:   r.store,
		Cookies: r.Cookies,
	}

	// Login and MFA completion are limited inside the login service (per IP,
	// per email and per MFA token).
	r.Mux.HandleFunc("POST /v1/auth/login", h.HandleLogin)
	r.Mux.HandleFunc("POST /v1/auth/mfa/verify", h.HandleVerifyMFA)
	r.Mux.HandleFunc("POST /v1/auth/mfa/recovery", h.HandleRecovery)
	r.Mux.HandleFunc("POST /v1/auth/mfa/webauthn/begin", h.HandleWebAuthnBegin)
	r.Mux.HandleFunc("POST /v1/auth/mfa/webauthn/finish", h.HandleWebAuthnFinish)

	refresh := http.Handler(http.HandlerFunc(h.HandleRefresh))
	if r.RefreshLimiter != nil {
		refresh = httpx.Chain(refresh, httpx.RateLimitByIP(r.RefreshLimiter))
	}
	r.Mux.Handle("POST /v1/auth/refresh", refresh)
	r.Mux.HandleFunc("POST /v1/auth/logout", h.HandleLogout)

	r.Mux.Handle("GET /v1/auth/me", httpx.Chain(http.HandlerFunc(h.HandleMe),
		RequireSession(r.Guard, r.Cookies, service.Policy{}),
	))
}

func (r *Router) registerPasswordReset() {
	h := &ResetHandler{Resets: r.ResetService}

	// Limited per IP and per email inside the reset service.
	r.Mux.HandleFunc("POST /v1/auth/forgot-password", h.HandleForgot)
	r.Mux.HandleFunc("POST /v1/auth/reset-password", h.HandleReset)
}

func (r *Router) registerMFA() {
	h := &MFAHandler{
		MFA:      r.MFAService,
		WebAuthn: r.WebAuthnService,
	}

	r.Mux.Handle("GET /v1/mfa", r.guarded(h.HandleStatus))
	r.Mux.Handle("POST /v1/mfa/totp/setup", r.guarded(h.HandleSetup))
	r.Mux.Handle("POST /v1/mfa/totp/confirm", r.guarded(h.HandleConfirm))
	r.Mux.Handle("DELETE /v1/mfa/totp", r.guarded(h.HandleDisable))
	r.Mux.Handle("POST /v1/mfa/recovery-codes", r.guarded(h.HandleRegenerate))
	r.Mux.Handle("POST /v1/mfa/webauthn/register/begin", r.guarded(h.HandleRegisterBegin))
	r.Mux.Handle("POST /v1/mfa/webauthn/register/finish", r.guarded(h.HandleRegisterFinish))
}

func (r *Router) registerLockdown() {
	h := &LockdownHandler{Lockdown: r.LockdownService}

	// Reads are open to founders and admins; the service refuses writes
	// from anyone but a founder.
	r.Mux.Handle("GET /v1/lockdown", r.guarded(h.HandleGet, domain.RoleFounder, domain.RoleAdmin))
	r.Mux.Handle("POST /v1/lockdown", r.guarded(h.HandleSet))
}

func (r *Router) registerSystem() {
	// Probes and scrapes share one in-process token bucket per IP.
	ops := httpx.RateLimitByIP(httpx.NewTokenBucket(httpx.OpsLimit))

	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion), ops),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.ChallengesPing, r.RateLimitPing), ops),
	)
	r.Mux.Handle("GET /metrics", httpx.Chain(r.metrics.Handler(), ops))
}
