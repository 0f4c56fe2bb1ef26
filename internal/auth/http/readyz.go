package http

import (
	"context"
	"net/http"
	"time"

	"github.com/create-newspulse/newspulse-auth/pkg/authsdk"
	"github.com/create-newspulse/newspulse-auth/pkg/httpx"
	"golang.org/x/sync/errgroup"
)

// readyTimeout bounds each dependency ping.
const readyTimeout = 2 * time.Second

// Pinger is a dependency /readyz checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// ReadyzHandler godoc
//
//	@Summary		Readiness Check Endpoint
//	@Description	Readiness probe endpoint returning service health status and checks for critical dependencies
//	@Description	Pings the database, the challenge store and the shared rate-limit store concurrently
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	authsdk.HealthResponse	"status, uptime, version, checks"
//	@Failure		503	{object}	authsdk.HealthResponse	"status, uptime, version, checks - service not ready"
//	@Router			/readyz [get].
func ReadyzHandler(
	startTime time.Time,
	version string,
	database, challenges, rateLimit Pinger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		checks := &authsdk.HealthChecks{}
		var g errgroup.Group
		g.Go(func() error { return ping(ctx, database, &checks.Database) })
		g.Go(func() error { return ping(ctx, challenges, &checks.Challenges) })
		// The limiter falls back to in-process counters, so a shared store
		// outage degrades the service without making it unready.
		g.Go(func() error { _ = ping(ctx, rateLimit, &checks.RateLimit); return nil })
		err := g.Wait()

		overallStatus := "ok"
		statusCode := http.StatusOK
		if err != nil {
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		response := authsdk.HealthResponse{
			Status:  overallStatus,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		}
		httpx.WriteJSON(w, statusCode, response)
	}
}

func ping(ctx context.Context, p Pinger, out *string) error {
	if p == nil {
		*out = "in-process"
		return nil
	}
	if err := p.Ping(ctx); err != nil {
		*out = "error: " + err.Error()
		return err
	}
	*out = "ok"
	return nil
}
