package app

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the service configuration. Values are resolved as defaults,
// then the optional YAML file named by AUTH_CONFIG_FILE, then environment
// variables.
type Config struct {
	Issuer         string        `yaml:"issuer"`          // token iss claim (default: newspulse-auth)
	Audience       string        `yaml:"audience"`        // token aud claim (default: newspulse-admin)
	SigningSecret  string        `yaml:"signing_secret"`  // HS256 secret, >= 32 bytes; required outside dev
	AccessTTL      time.Duration `yaml:"access_ttl"`      // default: 15m
	RefreshTTL     time.Duration `yaml:"refresh_ttl"`     // default: 168h
	TokenLeeway    time.Duration `yaml:"token_leeway"`    // clock skew tolerated on exp (default: 0)
	ChallengeTTL   time.Duration `yaml:"challenge_ttl"`   // pending MFA logins and WebAuthn ceremonies (default: 5m)
	RateLimitMax   int           `yaml:"rate_limit_max"`  // hits per window per key (default: 10)
	RateLimitWin   time.Duration `yaml:"rate_limit_window"`
	ResetTTL       time.Duration `yaml:"reset_ttl"` // default: 30m
	ResetURL       string        `yaml:"reset_url"` // page the reset email links to
	WebAuthnRPName string        `yaml:"webauthn_rp_name"`
	WebAuthnRPID   string        `yaml:"webauthn_rp_id"`
	WebAuthnOrigin []string      `yaml:"webauthn_origins"`
	RedisURL       string        `yaml:"redis_url"` // empty: in-process limiter and challenge store
	TrustProxy     bool          `yaml:"trust_proxy"`
	CookieDomain   string        `yaml:"cookie_domain"`
	MFAIssuer      string        `yaml:"mfa_issuer"` // shown in authenticator apps

	MasterKeyPath string `yaml:"master_key_path"` // Optional: sealing key for TOTP secrets (else AUTH_MASTER_KEY)
	DatabaseFile  string `yaml:"database_file"`   // default: ./auth.db
	PepperFile    string `yaml:"pepper_file"`     // default: ./pepper

	SMTP SMTPConfig `yaml:"smtp"`

	Env                  string        `yaml:"env"`        // dev, staging, prod (default: dev)
	LogLevel             string        `yaml:"log_level"`  // debug, info, warn, error (default: info)
	LogFormat            string        `yaml:"log_format"` // json, text (default: json)
	Port                 int           `yaml:"port"`       // default: 8080
	ShutdownGracePeriod  time.Duration `yaml:"shutdown_grace_period"`
	HousekeepingInterval time.Duration `yaml:"housekeeping_interval"`
}

// SMTPConfig configures reset email delivery. Without a host, emails are
// logged and dropped.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	TLSMode  string `yaml:"tls_mode"`
}

// Dev reports whether the service runs in the development environment.
func (c Config) Dev() bool { return c.Env == "dev" }

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Issuer:         "newspulse-auth",
		Audience:       "newspulse-admin",
		AccessTTL:      15 * time.Minute,
		RefreshTTL:     7 * 24 * time.Hour,
		ChallengeTTL:   5 * time.Minute,
		RateLimitMax:   10,
		RateLimitWin:   time.Minute,
		ResetTTL:       30 * time.Minute,
		ResetURL:       "http://localhost:3000/reset-password",
		WebAuthnRPName: "NewsPulse Admin",
		WebAuthnRPID:   "localhost",
		WebAuthnOrigin: []string{"http://localhost:3000"},
		MFAIssuer:      "NewsPulse Admin",
		DatabaseFile:   "auth.db",
		PepperFile:     "pepper",
		SMTP: SMTPConfig{
			Port:    587,
			TLSMode: "starttls",
		},
		Env:                  "dev",
		LogLevel:             "info",
		LogFormat:            "json",
		Port:                 8080,
		ShutdownGracePeriod:  10 * time.Second,
		HousekeepingInterval: time.Hour,
	}
}

// LoadConfig resolves the configuration and validates it.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("AUTH_CONFIG_FILE"); path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.Issuer = getEnvOrDefault("AUTH_ISSUER", cfg.Issuer)
	cfg.Audience = getEnvOrDefault("AUTH_AUDIENCE", cfg.Audience)
	cfg.SigningSecret = getEnvOrDefault("AUTH_SIGNING_SECRET", cfg.SigningSecret)
	cfg.AccessTTL = getEnvDurationOrDefault("AUTH_ACCESS_TTL", cfg.AccessTTL)
	cfg.RefreshTTL = getEnvDurationOrDefault("AUTH_REFRESH_TTL", cfg.RefreshTTL)
	cfg.TokenLeeway = getEnvDurationOrDefault("AUTH_TOKEN_LEEWAY", cfg.TokenLeeway)
	cfg.ChallengeTTL = getEnvDurationOrDefault("AUTH_CHALLENGE_TTL", cfg.ChallengeTTL)
	cfg.RateLimitMax = getEnvIntOrDefault("AUTH_RATE_LIMIT_MAX", cfg.RateLimitMax)
	cfg.RateLimitWin = getEnvDurationOrDefault("AUTH_RATE_LIMIT_WINDOW", cfg.RateLimitWin)
	cfg.ResetTTL = getEnvDurationOrDefault("AUTH_RESET_TTL", cfg.ResetTTL)
	cfg.ResetURL = getEnvOrDefault("AUTH_RESET_URL", cfg.ResetURL)
	cfg.WebAuthnRPName = getEnvOrDefault("AUTH_WEBAUTHN_RP_NAME", cfg.WebAuthnRPName)
	cfg.WebAuthnRPID = getEnvOrDefault("AUTH_WEBAUTHN_RP_ID", cfg.WebAuthnRPID)
	cfg.WebAuthnOrigin = getEnvListOrDefault("AUTH_WEBAUTHN_ORIGINS", cfg.WebAuthnOrigin)
	cfg.RedisURL = getEnvOrDefault("AUTH_REDIS_URL", cfg.RedisURL)
	cfg.TrustProxy = getEnvBoolOrDefault("AUTH_TRUST_PROXY", cfg.TrustProxy)
	cfg.CookieDomain = getEnvOrDefault("AUTH_COOKIE_DOMAIN", cfg.CookieDomain)
	cfg.MFAIssuer = getEnvOrDefault("AUTH_MFA_ISSUER", cfg.MFAIssuer)
	cfg.MasterKeyPath = getEnvOrDefault("AUTH_MASTER_KEY_PATH", cfg.MasterKeyPath)
	cfg.DatabaseFile = getEnvOrDefault("AUTH_DATABASE_FILE", cfg.DatabaseFile)
	cfg.PepperFile = getEnvOrDefault("AUTH_PEPPER_FILE", cfg.PepperFile)

	cfg.SMTP.Host = getEnvOrDefault("SMTP_HOST", cfg.SMTP.Host)
	cfg.SMTP.Port = getEnvIntOrDefault("SMTP_PORT", cfg.SMTP.Port)
	cfg.SMTP.User = getEnvOrDefault("SMTP_USER", cfg.SMTP.User)
	cfg.SMTP.Password = getEnvOrDefault("SMTP_PASSWORD", cfg.SMTP.Password)
	cfg.SMTP.From = getEnvOrDefault("SMTP_FROM", cfg.SMTP.From)
	cfg.SMTP.TLSMode = getEnvOrDefault("SMTP_TLS_MODE", cfg.SMTP.TLSMode)

	cfg.Env = getEnvOrDefault("ENV", cfg.Env)
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnvOrDefault("LOG_FORMAT", cfg.LogFormat)
	cfg.Port = getEnvIntOrDefault("PORT", cfg.Port)
	cfg.ShutdownGracePeriod = getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", cfg.ShutdownGracePeriod)
	cfg.HousekeepingInterval = getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", cfg.HousekeepingInterval)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the service can not run safely with.
func (c Config) Validate() error {
	var errs []error
	if c.SigningSecret == "" && !c.Dev() {
		errs = append(errs, errors.New("AUTH_SIGNING_SECRET is required outside dev"))
	}
	if c.SigningSecret != "" && len(c.SigningSecret) < 32 {
		errs = append(errs, errors.New("AUTH_SIGNING_SECRET must be at least 32 bytes"))
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= c.AccessTTL {
		errs = append(errs, errors.New("refresh TTL must be longer than a positive access TTL"))
	}
	if c.RateLimitMax <= 0 || c.RateLimitWin <= 0 {
		errs = append(errs, errors.New("rate limit max and window must be positive"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	return errors.Join(errs...)
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return defaultValue
}

func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Try parsing as integer seconds
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}

	return defaultValue
}
