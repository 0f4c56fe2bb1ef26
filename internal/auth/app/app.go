package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/create-newspulse/newspulse-auth/internal/auth/http"
	"github.com/create-newspulse/newspulse-auth/internal/auth/metrics"
	"github.com/create-newspulse/newspulse-auth/internal/auth/service"
	"github.com/create-newspulse/newspulse-auth/internal/auth/store"
	"github.com/create-newspulse/newspulse-auth/internal/auth/store/drivers/memory"
	redisdrv "github.com/create-newspulse/newspulse-auth/internal/auth/store/drivers/redis"
	"github.com/create-newspulse/newspulse-auth/internal/auth/store/drivers/sqlite"
	"github.com/create-newspulse/newspulse-auth/pkg/cryptox"
	"github.com/create-newspulse/newspulse-auth/pkg/httpx"
	"github.com/create-newspulse/newspulse-auth/pkg/jwtx"
	"github.com/create-newspulse/newspulse-auth/pkg/mailx"
	"github.com/create-newspulse/newspulse-auth/pkg/ratelimit"
	"github.com/create-newspulse/newspulse-auth/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"

	signingKeyID = "np-hs256"
)

// Application encapsulates the auth service application with all its dependencies
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db         store.Store
	redis      redis.UniversalClient // nil without AUTH_REDIS_URL
	challenges store.Challenges
	limitStore ratelimit.Store
	mailer     mailx.Sender
	metrics    *metrics.Metrics

	// Services
	tokenService        *service.TokenService
	loginService        *service.LoginService
	mfaService          *service.MFAService
	webauthnService     *service.WebAuthnService
	resetService        *service.PasswordResetService
	lockdownService     *service.LockdownService
	guard               *service.Guard
	limits              service.Limits
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "newspulse-auth",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	// Set pepper path for password hashing and the sealing key for TOTP secrets
	cryptox.SetPepperPath(app.cfg.PepperFile)
	cryptox.SetMasterKeyPath(app.cfg.MasterKeyPath)
	httpx.TrustProxyHeaders = app.cfg.TrustProxy

	m, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	app.metrics = m

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	if err := app.initRedis(); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	app.initMailer()

	if err := app.initServices(); err != nil {
		_ = app.closeBackends()
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Start launches the background workers. Run calls it; callers serving
// Handler themselves call it before the first request.
func (app *Application) Start() {
	app.housekeepingService.Start()
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.Start()

	app.logger.Info("auth service starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"redis", app.redis != nil,
	)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a shutdown signal or server error
	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		// Perform graceful shutdown
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down auth service...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	// Shutdown the HTTP server
	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	// Stop the housekeeping service
	app.housekeepingService.Stop()

	// Let queued reset emails finish before the database closes
	app.resetService.Wait()

	if err := app.closeBackends(); err != nil {
		return err
	}

	app.logger.Info("auth service stopped")
	return nil
}

func (app *Application) closeBackends() error {
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("error closing redis", "error", err)
		}
	}

	// Close database connection
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}
	return nil
}

// initDatabase initializes the database and applies migrations
func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initRedis connects the shared limiter and challenge stores. Without a
// Redis URL both stay in-process, which only suits a single instance.
// Redis being unreachable at boot is not fatal: the limiter falls back to
// in-process buckets until it comes back.
func (app *Application) initRedis() error {
	memoryLimits := ratelimit.NewMemoryStore()

	if app.cfg.RedisURL == "" {
		app.logger.Warn("AUTH_REDIS_URL not set, rate limits and MFA challenges are per instance")
		app.challenges = memory.NewChallenges()
		app.limitStore = memoryLimits
		return nil
	}

	opts, err := redis.ParseURL(app.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid AUTH_REDIS_URL: %w", err)
	}
	app.redis = redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := app.redis.Ping(ctx).Err(); err != nil {
		app.logger.Warn("redis unreachable at startup", "error", err)
	}

	app.challenges = redisdrv.NewChallenges(app.redis, "")

	fallback := ratelimit.NewFallbackStore(ratelimit.NewRedisStore(app.redis), memoryLimits, app.logger)
	fallback.OnFallback = app.metrics.ObserveFallback
	app.limitStore = fallback
	return nil
}

func (app *Application) initMailer() {
	if app.cfg.SMTP.Host == "" {
		app.logger.Warn("SMTP_HOST not set, password reset emails are logged only")
		app.mailer = mailx.LogSender{Logger: app.logger}
		return
	}
	app.mailer = mailx.NewSMTPSender(mailx.SMTPConfig{
		Host:     app.cfg.SMTP.Host,
		Port:     app.cfg.SMTP.Port,
		User:     app.cfg.SMTP.User,
		Password: app.cfg.SMTP.Password,
		From:     app.cfg.SMTP.From,
		TLSMode:  app.cfg.SMTP.TLSMode,
	}, app.logger)
}

// signingSecret returns the configured HS256 secret. In dev an ephemeral
// one is generated, so sessions do not survive a restart.
func (app *Application) signingSecret() ([]byte, error) {
	if app.cfg.SigningSecret != "" {
		return []byte(app.cfg.SigningSecret), nil
	}
	if !app.cfg.Dev() {
		return nil, errors.New("AUTH_SIGNING_SECRET is required outside dev")
	}
	secret, err := cryptox.GenerateToken(48)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing secret: %w", err)
	}
	app.logger.Warn("using an ephemeral signing secret, sessions end on restart")
	return []byte(secret), nil
}

// initServices initializes all business logic services
func (app *Application) initServices() error {
	secret, err := app.signingSecret()
	if err != nil {
		return err
	}
	signer, err := jwtx.NewSignerHS256(signingKeyID, secret)
	if err != nil {
		return fmt.Errorf("failed to initialize token signer: %w", err)
	}

	hasher := cryptox.NewArgon2Hasher()
	app.limits = service.NewLimits(app.limitStore, app.cfg.RateLimitMax, app.cfg.RateLimitWin)

	app.tokenService = &service.TokenService{
		Signer:     signer,
		Verifier:   jwtx.NewVerifierHS256(signingKeyID, secret),
		Store:      app.db,
		Metrics:    app.metrics,
		Issuer:     app.cfg.Issuer,
		Audience:   app.cfg.Audience,
		AccessTTL:  app.cfg.AccessTTL,
		RefreshTTL: app.cfg.RefreshTTL,
		Leeway:     app.cfg.TokenLeeway,
	}

	app.mfaService = &service.MFAService{
		Store:   app.db,
		Hasher:  hasher,
		Metrics: app.metrics,
		Issuer:  app.cfg.MFAIssuer,
	}

	rp, err := service.NewWebAuthn(service.WebAuthnConfig{
		RPDisplayName: app.cfg.WebAuthnRPName,
		RPID:          app.cfg.WebAuthnRPID,
		RPOrigins:     app.cfg.WebAuthnOrigin,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize webauthn: %w", err)
	}
	app.webauthnService = &service.WebAuthnService{
		WebAuthn:   rp,
		Store:      app.db,
		Challenges: app.challenges,
		MFA:        app.mfaService,
		Metrics:    app.metrics,
		TTL:        app.cfg.ChallengeTTL,
	}

	app.loginService = &service.LoginService{
		Store:        app.db,
		Hasher:       hasher,
		Tokens:       app.tokenService,
		MFA:          app.mfaService,
		WebAuthn:     app.webauthnService,
		Challenges:   app.challenges,
		Limits:       app.limits,
		Metrics:      app.metrics,
		ChallengeTTL: app.cfg.ChallengeTTL,
	}

	app.resetService = &service.PasswordResetService{
		Store:   app.db,
		Hasher:  hasher,
		Mailer:  app.mailer,
		Limits:  app.limits,
		Metrics: app.metrics,
		TTL:     app.cfg.ResetTTL,
		LinkURL: app.cfg.ResetURL,
	}

	app.lockdownService = &service.LockdownService{Store: app.db, Metrics: app.metrics}
	app.guard = &service.Guard{
		Tokens:  app.tokenService,
		Lock:    app.lockdownService,
		Metrics: app.metrics,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
	return nil
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(BuildVersion, app.db, app.metrics, app.logger)

	router.Cookies = httpapi.CookieConfig{
		Secure: !app.cfg.Dev(),
		Domain: app.cfg.CookieDomain,
	}

	// Wire services to router
	router.LoginService = app.loginService
	router.TokenService = app.tokenService
	router.MFAService = app.mfaService
	router.WebAuthnService = app.webauthnService
	router.ResetService = app.resetService
	router.LockdownService = app.lockdownService
	router.Guard = app.guard
	router.RefreshLimiter = app.limits.RefreshIP
	router.ManageLimiter = ratelimit.New(app.limitStore, "np:rl:manage:", app.cfg.RateLimitMax*3, app.cfg.RateLimitWin)

	router.ChallengesPing = app.challenges
	if app.redis != nil {
		client := app.redis
		router.RateLimitPing = httpapi.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}
	router.ApplyRoutes()

	app.router = router

	// Initialize HTTP server
	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}

// Handler exposes the wired router, mainly for in-process tests.
func (app *Application) Handler() http.Handler { return app.router }
