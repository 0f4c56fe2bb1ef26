// Package metrics exposes the service's Prometheus collectors. A nil
// *Metrics is valid and records nothing, so services can run without it.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "auth"

type Metrics struct {
	registry prometheus.Gatherer

	loginAttempts      *prometheus.CounterVec
	mfaVerifications   *prometheus.CounterVec
	tokenRotations     *prometheus.CounterVec
	rateLimited        *prometheus.CounterVec
	rateLimitFallbacks prometheus.Counter
	passwordResets     *prometheus.CounterVec
	guardDecisions     *prometheus.CounterVec
	lockdownActive     prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInflight prometheus.Gauge
}

// New creates the collectors and registers them with reg. Passing a fresh
// prometheus.NewRegistry() keeps tests isolated from the default registry.
func New(reg *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		registry: reg,
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Login attempts by outcome.",
		}, []string{"result"}),
		mfaVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mfa_verifications_total",
			Help:      "Second factor verifications by method and outcome.",
		}, []string{"method", "result"}),
		tokenRotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_rotations_total",
			Help:      "Refresh token rotations by outcome.",
		}, []string{"result"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests denied by the rate limiter, by scope.",
		}, []string{"scope"}),
		rateLimitFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_fallbacks_total",
			Help:      "Rate limit checks served by the in-process store because the shared store failed.",
		}),
		passwordResets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "password_resets_total",
			Help:      "Password reset events by stage and outcome.",
		}, []string{"stage", "result"}),
		guardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_decisions_total",
			Help:      "Session guard decisions.",
		}, []string{"decision"}),
		lockdownActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lockdown_active",
			Help:      "1 while the authority lock is set.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_inflight_requests",
			Help:      "HTTP requests currently being served.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.loginAttempts, m.mfaVerifications, m.tokenRotations, m.rateLimited,
		m.rateLimitFallbacks, m.passwordResets, m.guardDecisions, m.lockdownActive,
		m.httpRequests, m.httpDuration, m.httpInflight,
	} {
		if err := registerCollector(reg, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func registerCollector(reg prometheus.Registerer, c prometheus.Collector) error {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return nil
		}
		return err
	}
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveLogin(result string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveMFA(method, result string) {
	if m == nil {
		return
	}
	m.mfaVerifications.WithLabelValues(method, result).Inc()
}

func (m *Metrics) ObserveRotation(result string) {
	if m == nil {
		return
	}
	m.tokenRotations.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRateLimited(scope string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(scope).Inc()
}

// ObserveFallback matches ratelimit.FallbackStore.OnFallback.
func (m *Metrics) ObserveFallback() {
	if m == nil {
		return
	}
	m.rateLimitFallbacks.Inc()
}

func (m *Metrics) ObserveReset(stage, result string) {
	if m == nil {
		return
	}
	m.passwordResets.WithLabelValues(stage, result).Inc()
}

func (m *Metrics) ObserveGuard(decision string) {
	if m == nil {
		return
	}
	m.guardDecisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) SetLockdown(locked bool) {
	if m == nil {
		return
	}
	if locked {
		m.lockdownActive.Set(1)
		return
	}
	m.lockdownActive.Set(0)
}

// Middleware records request count, latency and in-flight requests. Routes
// are labelled by their ServeMux pattern so path parameters do not explode
// cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInflight.Inc()
		defer m.httpInflight.Dec()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
