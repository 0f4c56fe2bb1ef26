package http

import (
	"net/http"
	"time"

	"github.com/create-newspulse/newspulse-auth/pkg/authsdk"
	"github.com/create-newspulse/newspulse-auth/pkg/httpx"
)

// LivezHandler answers the liveness check. It reports only that the process
// serves HTTP; database and redis health belong to /readyz, so an outage
// there never gets the pod restarted.
//
//	@Summary		Liveness
//	@Description	Always 200 while the process runs. Carries uptime and build version.
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	authsdk.HealthResponse	"status, uptime, version"
//	@Router			/livez [get].
func LivezHandler(started time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		httpx.WriteJSON(w, http.StatusOK, authsdk.HealthResponse{
			Status:  "ok",
			Uptime:  time.Since(started).Truncate(time.Second).String(),
			Version: version,
		})
	}
}
