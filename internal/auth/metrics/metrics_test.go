package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/create-newspulse/newspulse-auth/internal/auth/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetrics_Counters(t *testing.T) {
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.ObserveLogin("success")
	m.ObserveLogin("success")
	m.ObserveRateLimited("login:ip")
	m.ObserveFallback()
	m.SetLockdown(true)

	body := scrape(t, m)
	require.Contains(t, body, `auth_login_attempts_total{result="success"} 2`)
	require.Contains(t, body, `auth_rate_limited_total{scope="login:ip"} 1`)
	require.Contains(t, body, `auth_rate_limit_fallbacks_total 1`)
	require.Contains(t, body, `auth_lockdown_active 1`)

	m.SetLockdown(false)
	require.Contains(t, scrape(t, m), `auth_lockdown_active 0`)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics
	m.ObserveLogin("x")
	m.ObserveMFA("totp", "ok")
	m.SetLockdown(true)

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusTeapot, rr.Code)
}

func TestMetrics_MiddlewareLabelsByPattern(t *testing.T) {
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", func(w http.ResponseWriter, r *http.Request) {})
	h := m.Middleware(mux)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/livez", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	body := scrape(t, m)
	require.Contains(t, body, `auth_http_requests_total{method="GET",route="GET /livez",status="200"} 1`)
	require.Contains(t, body, `auth_http_requests_total{method="GET",route="unmatched",status="404"} 1`)
}
