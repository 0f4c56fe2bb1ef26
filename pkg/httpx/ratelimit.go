package httpx

import (
	"context"
	"math"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/create-newspulse/newspulse-auth/pkg/ratelimit"
	"github.com/create-newspulse/newspulse-auth/pkg/slogx"
)

// RateLimitConfig defines the rate limiting parameters.
type RateLimitConfig struct {
	// RequestsPerWindow is the number of requests allowed in the time window
	RequestsPerWindow int
	// Window is the time window for rate limiting
	Window time.Duration
	// Burst allows for temporary bursts above the rate limit (token bucket only)
	Burst int
}

// Rate limit profiles for endpoints that are not security sensitive. These
// can be overridden via RATELIMIT_{NAME}_{REQUESTS,WINDOW_SEC,BURST}.
var (
	// OpsLimit covers health, readiness and metrics probes.
	OpsLimit = RateLimitConfig{
		RequestsPerWindow: 600,
		Window:            time.Minute,
		Burst:             60,
	}

	// PublicLimit covers the API docs.
	PublicLimit = RateLimitConfig{
		RequestsPerWindow: 120,
		Window:            time.Minute,
		Burst:             30,
	}
)

func init() {
	OpsLimit = ParseRateLimitFromEnv("OPS", OpsLimit)
	PublicLimit = ParseRateLimitFromEnv("PUBLIC", PublicLimit)
}

// ParseRateLimitFromEnv reads rate limit configuration from environment variables.
// Environment variables follow the pattern: RATELIMIT_{prefix}_{field}
// For example: RATELIMIT_OPS_REQUESTS, RATELIMIT_OPS_WINDOW_SEC, RATELIMIT_OPS_BURST
func ParseRateLimitFromEnv(prefix string, defaultConfig RateLimitConfig) RateLimitConfig {
	config := defaultConfig

	if val := os.Getenv("RATELIMIT_" + prefix + "_REQUESTS"); val != "" {
		if requests, err := strconv.Atoi(val); err == nil && requests > 0 {
			config.RequestsPerWindow = requests
		}
	}

	if val := os.Getenv("RATELIMIT_" + prefix + "_WINDOW_SEC"); val != "" {
		if windowSec, err := strconv.Atoi(val); err == nil && windowSec > 0 {
			config.Window = time.Duration(windowSec) * time.Second
		}
	}

	if val := os.Getenv("RATELIMIT_" + prefix + "_BURST"); val != "" {
		if burst, err := strconv.Atoi(val); err == nil && burst > 0 {
			config.Burst = burst
		}
	}

	return config
}

// KeyExtractor is a function that extracts a unique key from the request
// for rate limiting purposes (e.g., IP address, user ID)
type KeyExtractor func(*http.Request) string

// TrustProxyHeaders makes ClientIP honour X-Forwarded-For and X-Real-IP.
// Only enable it behind a proxy that overwrites those headers.
var TrustProxyHeaders = false

// ClientIP returns the caller's IP address.
func ClientIP(r *http.Request) string {
	if TrustProxyHeaders {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// IPKeyExtractor keys requests by client IP.
func IPKeyExtractor(r *http.Request) string {
	return ClientIP(r)
}

// UserIDKeyExtractor extracts the user ID from the request context.
// Returns empty string if no user ID is found.
func UserIDKeyExtractor(r *http.Request) string {
	return UserIDFromCtx(r.Context())
}

// CompositeKeyExtractor combines multiple key extractors with a separator.
// Example: CompositeKeyExtractor(":", IPKeyExtractor, UserIDKeyExtractor)
// would produce keys like "192.168.1.1:user123"
func CompositeKeyExtractor(sep string, extractors ...KeyExtractor) KeyExtractor {
	return func(r *http.Request) string {
		var parts []string
		for _, extractor := range extractors {
			if key := extractor(r); key != "" {
				parts = append(parts, key)
			}
		}
		return strings.Join(parts, sep)
	}
}

// Limiter is satisfied by both the fixed-window ratelimit.Limiter and the
// in-process TokenBucket.
type Limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Result, error)
}

// RateLimitMiddleware throttles requests by the key keyExtractor returns.
// Requests are refused with 503 when the limiter itself fails.
func RateLimitMiddleware(l Limiter, keyExtractor KeyExtractor) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			key := keyExtractor(r)
			if key == "" {
				log.Warn("rate limit: unable to extract key, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			res, err := l.Allow(ctx, key)
			if err != nil {
				log.Error("rate limit: limiter failed", "err", err)
				WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
					"error":             "temporarily_unavailable",
					"error_description": "Please try again later.",
				})
				return
			}

			if !res.Allowed {
				log.Warn("rate limit exceeded",
					"endpoint", r.URL.Path,
					"retry_after", res.RetryAfter,
				)
				WriteRateLimited(w, res.RetryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WriteRateLimited writes a 429 with a Retry-After header. Only the wait
// time is disclosed, never the bucket count.
func WriteRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	secs := max(int(math.Ceil(retryAfter.Seconds())), 1)
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	WriteJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":             "rate_limited",
		"error_description": "Too many requests. Please try again later.",
		"retry_after_ms":    retryAfter.Milliseconds(),
	})
}

// RateLimitByIP throttles by client IP.
func RateLimitByIP(l Limiter) Middleware {
	return RateLimitMiddleware(l, IPKeyExtractor)
}

// RateLimitByUser throttles by authenticated user, falling back to IP.
func RateLimitByUser(l Limiter) Middleware {
	return RateLimitMiddleware(l, CompositeKeyExtractor(":",
		UserIDKeyExtractor,
		IPKeyExtractor,
	))
}
